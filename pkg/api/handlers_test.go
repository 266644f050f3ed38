package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/ssargent/bkeytree/pkg/blockstore"
	"github.com/ssargent/bkeytree/pkg/crypter"
	"github.com/ssargent/bkeytree/pkg/keytree"
	"github.com/ssargent/bkeytree/pkg/objectstore"
	"github.com/ssargent/bkeytree/pkg/vault"
)

// NewMetrics registers its Prometheus collectors globally, so every test in
// this package shares one instance rather than re-registering on each call.
var (
	testMetrics     *Metrics
	testMetricsOnce sync.Once
)

func sharedTestMetrics() *Metrics {
	testMetricsOnce.Do(func() { testMetrics = NewMetrics() })
	return testMetrics
}

func newHandlerTestServer(t *testing.T) *Server {
	t.Helper()

	crypt := crypter.New()
	keyStore := objectstore.NewMemoryStore()
	tree, err := keytree.New(keyStore, crypt, rand.Reader, crypter.KeySize)
	assert.NoError(t, err)

	tmpDir, err := os.MkdirTemp("", "bkeytree_handlers_test")
	assert.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	blocks, err := blockstore.New(blockstore.Config{DataDir: tmpDir})
	assert.NoError(t, err)
	_, err = blocks.Open()
	assert.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })

	rootKey := make([]byte, crypter.KeySize)
	_, err = rand.Read(rootKey)
	assert.NoError(t, err)

	v := vault.New(tree, blocks, crypt, rootKey)

	return NewServer(v, &SystemService{}, ServerConfig{}, sharedTestMetrics())
}

func requestWithBlockID(method, path string, body []byte, id uint64) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", strconv.FormatUint(id, 10))
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleWriteAndReadBlock(t *testing.T) {
	server := newHandlerTestServer(t)

	plaintext := []byte("the quick brown fox")
	req := requestWithBlockID(http.MethodPut, "/blocks/7", plaintext, 7)
	w := httptest.NewRecorder()
	server.handleWriteBlock(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req2 := requestWithBlockID(http.MethodGet, "/blocks/7", nil, 7)
	w2 := httptest.NewRecorder()
	server.handleReadBlock(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, plaintext, w2.Body.Bytes())
}

func TestHandleWriteBlock_InvalidID(t *testing.T) {
	server := newHandlerTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/blocks/nope", bytes.NewReader([]byte("x")))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	server.handleWriteBlock(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReadBlock_NotFound(t *testing.T) {
	server := newHandlerTestServer(t)

	req := requestWithBlockID(http.MethodGet, "/blocks/99", nil, 99)
	w := httptest.NewRecorder()
	server.handleReadBlock(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteBlock(t *testing.T) {
	server := newHandlerTestServer(t)

	req := requestWithBlockID(http.MethodPut, "/blocks/3", []byte("gone soon"), 3)
	w := httptest.NewRecorder()
	server.handleWriteBlock(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	delReq := requestWithBlockID(http.MethodDelete, "/blocks/3", nil, 3)
	delW := httptest.NewRecorder()
	server.handleDeleteBlock(delW, delReq)
	assert.Equal(t, http.StatusOK, delW.Code)

	readReq := requestWithBlockID(http.MethodGet, "/blocks/3", nil, 3)
	readW := httptest.NewRecorder()
	server.handleReadBlock(readW, readReq)
	assert.Equal(t, http.StatusNotFound, readW.Code)
}

func TestHandleDeriveAndUpdate(t *testing.T) {
	server := newHandlerTestServer(t)

	deriveReq := requestWithBlockID(http.MethodPost, "/blocks/1/derive", nil, 1)
	deriveW := httptest.NewRecorder()
	server.handleDerive(deriveW, deriveReq)
	assert.Equal(t, http.StatusOK, deriveW.Code)

	var deriveResp APIResponse
	assert.NoError(t, json.Unmarshal(deriveW.Body.Bytes(), &deriveResp))
	assert.True(t, deriveResp.Success)

	updateReq := requestWithBlockID(http.MethodPost, "/blocks/1/update", nil, 1)
	updateW := httptest.NewRecorder()
	server.handleUpdate(updateW, updateReq)
	assert.Equal(t, http.StatusOK, updateW.Code)
}

func TestHandleCommit(t *testing.T) {
	server := newHandlerTestServer(t)

	writeReq := requestWithBlockID(http.MethodPut, "/blocks/4", []byte("rotate me"), 4)
	writeW := httptest.NewRecorder()
	server.handleWriteBlock(writeW, writeReq)
	assert.Equal(t, http.StatusOK, writeW.Code)

	commitReq := httptest.NewRequest(http.MethodPost, "/commit", nil)
	commitW := httptest.NewRecorder()
	server.handleCommit(commitW, commitReq)
	assert.Equal(t, http.StatusOK, commitW.Code)

	var resp APIResponse
	assert.NoError(t, json.Unmarshal(commitW.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestHandleStats(t *testing.T) {
	server := newHandlerTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	server.handleStats(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
