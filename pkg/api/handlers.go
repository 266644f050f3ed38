package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssargent/bkeytree/pkg/vault"
)

const maxBlockBody = 1 << 20 // 1MiB, generous for a fixed-size-value store

// Server holds the API server state
type Server struct {
	vault         *vault.Vault
	systemService *SystemService
	config        ServerConfig
	metrics       *Metrics
}

// NewServer creates a new API server
func NewServer(v *vault.Vault, systemService *SystemService, config ServerConfig, metrics *Metrics) *Server {
	return &Server{
		vault:         v,
		systemService: systemService,
		config:        config,
		metrics:       metrics,
	}
}

func parseBlockID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	return strconv.ParseUint(raw, 10, 64)
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Get the health status of the API
//	@Tags			health
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
//	@Security		ApiKeyAuth
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleWriteBlock godoc
//
//	@Summary		Write a block
//	@Description	Encrypt and store plaintext for a block id, updating its key
//	@Tags			blocks
//	@Accept			octet-stream
//	@Produce		json
//	@Param			id		path		int		true	"Block id"
//	@Param			body	body		[]byte	true	"Plaintext"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	map[string]string
//	@Failure		500		{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/blocks/{id} [put]
func (s *Server) handleWriteBlock(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	blockID, err := parseBlockID(r)
	if err != nil {
		s.metrics.RecordDBOperation("write", false, time.Since(start))
		sendError(w, "Invalid block id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlockBody+1))
	if err != nil {
		s.metrics.RecordDBOperation("write", false, time.Since(start))
		sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBlockBody {
		s.metrics.RecordDBOperation("write", false, time.Since(start))
		sendError(w, "Block body too large", http.StatusBadRequest)
		return
	}

	if err := s.vault.Write(blockID, body); err != nil {
		s.metrics.RecordDBOperation("write", false, time.Since(start))
		sendError(w, fmt.Sprintf("Failed to write block: %v", err), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordDBOperation("write", true, time.Since(start))
	sendSuccess(w, map[string]string{"message": "block written successfully"})
}

// handleReadBlock godoc
//
//	@Summary		Read a block
//	@Description	Decrypt and return plaintext for a block id
//	@Tags			blocks
//	@Produce		octet-stream
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{string}	byte
//	@Failure		400	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/blocks/{id} [get]
func (s *Server) handleReadBlock(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	blockID, err := parseBlockID(r)
	if err != nil {
		s.metrics.RecordDBOperation("read", false, time.Since(start))
		sendError(w, "Invalid block id", http.StatusBadRequest)
		return
	}

	plaintext, err := s.vault.Read(blockID)
	if err != nil {
		s.metrics.RecordDBOperation("read", false, time.Since(start))
		sendError(w, fmt.Sprintf("Failed to read block: %v", err), http.StatusNotFound)
		return
	}

	s.metrics.RecordDBOperation("read", true, time.Since(start))
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(plaintext); err != nil {
		sendError(w, "Failed to write response", http.StatusInternalServerError)
	}
}

// handleDeleteBlock godoc
//
//	@Summary		Delete a block
//	@Description	Remove a block's ciphertext and key material
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	map[string]string
//	@Failure		400	{object}	map[string]string
//	@Failure		500	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/blocks/{id} [delete]
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	blockID, err := parseBlockID(r)
	if err != nil {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, "Invalid block id", http.StatusBadRequest)
		return
	}

	if err := s.vault.Delete(blockID); err != nil {
		s.metrics.RecordDBOperation("delete", false, time.Since(start))
		sendError(w, fmt.Sprintf("Failed to delete block: %v", err), http.StatusInternalServerError)
		return
	}

	s.metrics.RecordDBOperation("delete", true, time.Since(start))
	sendSuccess(w, map[string]string{"message": "block deleted successfully"})
}

// keyResponse base64-encodes key material for JSON transport.
type keyResponse struct {
	BlockID uint64 `json:"block_id"`
	Key     string `json:"key"`
}

// handleDerive godoc
//
//	@Summary		Derive a block's current key
//	@Description	Return the key currently in effect for a block, generating one if absent
//	@Tags			keys
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	keyResponse
//	@Failure		400	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/blocks/{id}/derive [post]
func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	blockID, err := parseBlockID(r)
	if err != nil {
		sendError(w, "Invalid block id", http.StatusBadRequest)
		return
	}

	key, err := s.vault.Derive(blockID)
	if err != nil {
		sendError(w, fmt.Sprintf("Failed to derive key: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, keyResponse{BlockID: blockID, Key: base64.StdEncoding.EncodeToString(key)})
}

// handleUpdate godoc
//
//	@Summary		Mark a block updated for the current epoch
//	@Description	Return the pre-rotation key and flag the block as touched so the next commit rotates it
//	@Tags			keys
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	keyResponse
//	@Failure		400	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/blocks/{id}/update [post]
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	blockID, err := parseBlockID(r)
	if err != nil {
		sendError(w, "Invalid block id", http.StatusBadRequest)
		return
	}

	key, err := s.vault.Update(blockID)
	if err != nil {
		sendError(w, fmt.Sprintf("Failed to update key: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, keyResponse{BlockID: blockID, Key: base64.StdEncoding.EncodeToString(key)})
}

// commitResponse reports one rotation epoch's outcome.
type commitResponse struct {
	CommitID string   `json:"commit_id"`
	Rotated  []uint64 `json:"rotated_blocks"`
}

// handleCommit godoc
//
//	@Summary		Commit the current rotation epoch
//	@Description	Rotate keys for every block touched since the last commit and re-encrypt its ciphertext
//	@Tags			keys
//	@Produce		json
//	@Success		200	{object}	commitResponse
//	@Failure		500	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/commit [post]
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	report, err := s.vault.Rotate()
	if err != nil {
		s.metrics.RecordRotation(false, 0)
		sendError(w, fmt.Sprintf("Failed to commit: %v", err), http.StatusInternalServerError)
		return
	}

	rotated := make([]uint64, 0, len(report.Rotated))
	for _, bk := range report.Rotated {
		rotated = append(rotated, bk.BlockID)
	}

	s.metrics.RecordRotation(true, len(rotated))
	sendSuccess(w, commitResponse{CommitID: report.CommitID.String(), Rotated: rotated})
}

// handleStats godoc
//
//	@Summary		Vault statistics
//	@Description	Return occupancy statistics for the key tree and block store
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	vault.Stats
//	@Security		ApiKeyAuth
//	@Router			/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.metrics.UpdateDBStats(s.vault.Stats().KeysInTree, s.vault.Stats().DataSize)
	sendSuccess(w, s.vault.Stats())
}

// handleCreateAPIKey godoc
//
//	@Summary		Create a new API key
//	@Description	Create a new API key for user authentication
//	@Tags			system
//	@Accept			json
//	@Produce		json
//	@Param			request	body		APIKey					true	"API key details"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		400		{object}	map[string]string
//	@Failure		500		{object}	map[string]string
//	@Router			/system/api-keys [post]
//	@Security		ApiKeyAuth
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var apiKey APIKey
	if err := json.NewDecoder(r.Body).Decode(&apiKey); err != nil {
		sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}

	if apiKey.ID == "" || apiKey.Key == "" {
		sendError(w, "id and key are required", http.StatusBadRequest)
		return
	}

	if apiKey.CreatedAt.IsZero() {
		apiKey.CreatedAt = time.Now()
	}
	if !apiKey.IsActive {
		apiKey.IsActive = true
	}

	if err := s.systemService.StoreAPIKey(apiKey); err != nil {
		sendError(w, fmt.Sprintf("Failed to create API key: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, map[string]interface{}{
		"message": "API key created successfully",
		"id":      apiKey.ID,
	})
}

// handleListAPIKeys godoc
//
//	@Summary		List all API keys
//	@Description	Get a list of all API key IDs
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Failure		500	{object}	map[string]string
//	@Router			/system/api-keys [get]
//	@Security		ApiKeyAuth
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.systemService.ListAPIKeys()
	if err != nil {
		sendError(w, fmt.Sprintf("Failed to list API keys: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, map[string]interface{}{"api_keys": keys})
}

// handleGetAPIKey godoc
//
//	@Summary		Get API key details
//	@Description	Get details of a specific API key
//	@Tags			system
//	@Produce		json
//	@Param			id	path		string	true	"API key ID"
//	@Success		200	{object}	APIKey
//	@Failure		404	{object}	map[string]string
//	@Failure		500	{object}	map[string]string
//	@Router			/system/api-keys/{id} [get]
//	@Security		ApiKeyAuth
func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		sendError(w, "API key ID is required", http.StatusBadRequest)
		return
	}

	apiKey, err := s.systemService.GetAPIKey(keyID)
	if err != nil {
		sendError(w, fmt.Sprintf("Failed to get API key: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, apiKey)
}

// handleDeleteAPIKey godoc
//
//	@Summary		Delete an API key
//	@Description	Delete a specific API key
//	@Tags			system
//	@Produce		json
//	@Param			id	path		string	true	"API key ID"
//	@Success		200	{object}	map[string]string
//	@Failure		500	{object}	map[string]string
//	@Router			/system/api-keys/{id} [delete]
//	@Security		ApiKeyAuth
func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		sendError(w, "API key ID is required", http.StatusBadRequest)
		return
	}

	if err := s.systemService.DeleteAPIKey(keyID); err != nil {
		sendError(w, fmt.Sprintf("Failed to delete API key: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, map[string]string{"message": "API key deleted successfully"})
}

// handleGetSystemConfig godoc
//
//	@Summary		Get system configuration
//	@Description	Get a system configuration value
//	@Tags			system
//	@Produce		json
//	@Param			key	path		string	true	"Configuration key"
//	@Success		200	{object}	map[string]interface{}
//	@Failure		500	{object}	map[string]string
//	@Router			/system/config/{key} [get]
//	@Security		ApiKeyAuth
func (s *Server) handleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		sendError(w, "Configuration key is required", http.StatusBadRequest)
		return
	}

	var value interface{}
	if err := s.systemService.GetSystemConfig(key, &value); err != nil {
		sendError(w, fmt.Sprintf("Failed to get config: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, map[string]interface{}{"key": key, "value": value})
}

// handleSetSystemConfig godoc
//
//	@Summary		Set system configuration
//	@Description	Set a system configuration value
//	@Tags			system
//	@Accept			json
//	@Produce		json
//	@Param			key		path		string			true	"Configuration key"
//	@Param			value	body		interface{}		true	"Configuration value"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	map[string]string
//	@Failure		500		{object}	map[string]string
//	@Router			/system/config/{key} [put]
//	@Security		ApiKeyAuth
func (s *Server) handleSetSystemConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		sendError(w, "Configuration key is required", http.StatusBadRequest)
		return
	}

	var value interface{}
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		sendError(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}

	if err := s.systemService.StoreSystemConfig(key, value); err != nil {
		sendError(w, fmt.Sprintf("Failed to set config: %v", err), http.StatusInternalServerError)
		return
	}

	sendSuccess(w, map[string]string{"message": "Configuration updated successfully"})
}
