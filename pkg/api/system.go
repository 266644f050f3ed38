package api

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SystemService provides internal APIs for managing system-level data: API
// keys and small system configuration values, stored separately from the
// vault's own block/key data.
type SystemService struct {
	config   SystemConfig
	gcm      cipher.AEAD
	mutex    sync.Mutex
	path     string
	apiKeys  map[string]APIKey
	settings map[string]json.RawMessage
	isOpen   bool
}

// SystemConfig holds configuration for the system service
type SystemConfig struct {
	DataDir          string
	EncryptionKey    string
	EnableEncryption bool
}

// APIKey represents an API key stored in the system
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

type systemDocument struct {
	APIKeys  map[string]APIKey          `json:"api_keys"`
	Settings map[string]json.RawMessage `json:"settings"`
}

// NewSystemService creates a new system service instance
func NewSystemService(config SystemConfig) (*SystemService, error) {
	systemDataDir := filepath.Join(config.DataDir, "system")
	if err := os.MkdirAll(systemDataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create system data directory: %w", err)
	}

	var gcm cipher.AEAD
	if config.EnableEncryption && config.EncryptionKey != "" {
		derived := sha256.Sum256([]byte(config.EncryptionKey))
		block, err := aes.NewCipher(derived[:])
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err = cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
	}

	return &SystemService{
		config: config,
		gcm:    gcm,
		path:   filepath.Join(systemDataDir, "active.data"),
	}, nil
}

// Open loads the system document into memory, creating an empty one if it
// does not yet exist.
func (s *SystemService) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isOpen {
		return nil
	}

	doc := systemDocument{
		APIKeys:  make(map[string]APIKey),
		Settings: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read system document: %w", err)
		}
	} else {
		plaintext, err := s.decrypt(raw)
		if err != nil {
			return fmt.Errorf("failed to decrypt system document: %w", err)
		}
		if err := json.Unmarshal(plaintext, &doc); err != nil {
			return fmt.Errorf("failed to parse system document: %w", err)
		}
	}

	s.apiKeys = doc.APIKeys
	s.settings = doc.Settings
	s.isOpen = true
	return nil
}

// Close marks the service closed. It writes nothing: every mutation has
// already persisted the system document when it was made.
func (s *SystemService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	s.isOpen = false
	return nil
}

func (s *SystemService) persistLocked() error {
	doc := systemDocument{APIKeys: s.apiKeys, Settings: s.settings}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal system document: %w", err)
	}

	ciphertext, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt system document: %w", err)
	}

	return os.WriteFile(s.path, ciphertext, 0600)
}

// encrypt encrypts data if encryption is enabled
func (s *SystemService) encrypt(plaintext []byte) ([]byte, error) {
	if !s.config.EnableEncryption || s.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt decrypts data if encryption is enabled
func (s *SystemService) decrypt(ciphertext []byte) ([]byte, error) {
	if !s.config.EnableEncryption || s.gcm == nil {
		return ciphertext, nil
	}

	if len(ciphertext) < s.gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:s.gcm.NonceSize()]
	ciphertext = ciphertext[s.gcm.NonceSize():]

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// StoreAPIKey stores an API key in the system document
func (s *SystemService) StoreAPIKey(apiKey APIKey) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return fmt.Errorf("system service is not open")
	}

	s.apiKeys[apiKey.ID] = apiKey
	return s.persistLocked()
}

// GetAPIKey retrieves an API key from the system document
func (s *SystemService) GetAPIKey(keyID string) (*APIKey, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, fmt.Errorf("system service is not open")
	}

	apiKey, ok := s.apiKeys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key %q not found", keyID)
	}
	return &apiKey, nil
}

// ValidateAPIKey validates if an API key exists and is active
func (s *SystemService) ValidateAPIKey(apiKeyValue string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return false, fmt.Errorf("system service is not open")
	}

	for _, apiKey := range s.apiKeys {
		if apiKey.Key == apiKeyValue && apiKey.IsActive {
			if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
				return false, nil
			}
			return true, nil
		}
	}
	return false, nil
}

// ListAPIKeys returns a list of all API key IDs
func (s *SystemService) ListAPIKeys() ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, fmt.Errorf("system service is not open")
	}

	ids := make([]string, 0, len(s.apiKeys))
	for id := range s.apiKeys {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteAPIKey removes an API key from the system document
func (s *SystemService) DeleteAPIKey(keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return fmt.Errorf("system service is not open")
	}

	delete(s.apiKeys, keyID)
	return s.persistLocked()
}

// StoreSystemConfig stores system configuration data
func (s *SystemService) StoreSystemConfig(key string, value interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return fmt.Errorf("system service is not open")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal config value: %w", err)
	}

	s.settings[key] = data
	return s.persistLocked()
}

// GetSystemConfig retrieves system configuration data
func (s *SystemService) GetSystemConfig(key string, value interface{}) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return fmt.Errorf("system service is not open")
	}

	data, ok := s.settings[key]
	if !ok {
		return fmt.Errorf("config key %q not found", key)
	}
	return json.Unmarshal(data, value)
}

// IsOpen returns whether the system service is open
func (s *SystemService) IsOpen() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.isOpen
}

// InitializeSystem implements the SystemInitializer interface
func (s *SystemService) InitializeSystem(dataDir, systemKey, systemAPIKey string) error {
	if err := s.Open(); err != nil {
		return fmt.Errorf("failed to open system service: %w", err)
	}
	defer s.Close()

	apiKey := APIKey{
		ID:          "system-root",
		Key:         systemAPIKey,
		Description: "System root API key for administrative operations",
		CreatedAt:   time.Now(),
		IsActive:    true,
	}

	if err := s.StoreAPIKey(apiKey); err != nil {
		return fmt.Errorf("failed to store system API key: %w", err)
	}

	defaultConfig := map[string]interface{}{
		"initialized_at":     time.Now().Format(time.RFC3339),
		"version":            "1.0.0",
		"encryption_enabled": s.config.EnableEncryption,
	}

	if err := s.StoreSystemConfig("system-info", defaultConfig); err != nil {
		return fmt.Errorf("failed to store system configuration: %w", err)
	}

	return nil
}
