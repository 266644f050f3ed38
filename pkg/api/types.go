package api

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port                int
	APIKey              string
	DataDir             string
	SystemKey           string
	SystemEncryptionKey string
	EnableEncryption    bool
}
