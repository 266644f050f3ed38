// Package api provides interfaces for dependency injection
package api

import "github.com/ssargent/bkeytree/pkg/vault"

// SystemInitializer defines the interface for system initialization operations
type SystemInitializer interface {
	// InitializeSystem sets up the system with the given configuration
	InitializeSystem(dataDir, systemKey, systemAPIKey string) error

	// Open initializes the system service
	Open() error

	// Close cleans up system resources
	Close() error

	// GetAPIKey retrieves an API key
	GetAPIKey(keyID string) (*APIKey, error)
}

// SystemServiceFactory creates system services
type SystemServiceFactory interface {
	// CreateSystemService creates a new system service with the given config
	CreateSystemService(dataDir, encryptionKey string, enableEncryption bool) (SystemInitializer, error)
}

// ServerStarter defines the interface for starting the API server
type ServerStarter interface {
	// StartServer starts the API server with the given configuration
	StartServer(v *vault.Vault, config ServerConfig) error
}

// ServerFactory creates server instances
type ServerFactory interface {
	// CreateServerStarter creates a server starter
	CreateServerStarter() ServerStarter
}
