package objectstore

import (
	"bytes"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory ObjectStore backed by a map, used by
// pkg/keytree's tests and any caller that does not need durability.
type MemoryStore struct {
	mutex   sync.Mutex
	objects map[uint64][]byte
	nextID  uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[uint64][]byte),
	}
}

func (s *MemoryStore) AllocID() (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextID
	s.nextID++
	s.objects[id] = nil
	return id, nil
}

func (s *MemoryStore) DeallocID(id uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.objects, id)
	return nil
}

func (s *MemoryStore) ReadHandle(id uint64) (ReadHandle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("objectstore: unknown id %d", id)
	}
	return &memoryReadHandle{reader: bytes.NewReader(append([]byte(nil), data...))}, nil
}

func (s *MemoryStore) WriteHandle(id uint64) (WriteHandle, error) {
	return &memoryWriteHandle{store: s, id: id}, nil
}

func (s *MemoryStore) RWHandle(id uint64) (ReadWriteHandle, error) {
	s.mutex.Lock()
	data, ok := s.objects[id]
	s.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("objectstore: unknown id %d", id)
	}

	return &memoryRWHandle{
		store:  s,
		id:     id,
		reader: bytes.NewReader(append([]byte(nil), data...)),
	}, nil
}

type memoryReadHandle struct {
	reader *bytes.Reader
}

func (h *memoryReadHandle) Read(p []byte) (int, error) { return h.reader.Read(p) }
func (h *memoryReadHandle) Close() error               { return nil }

type memoryWriteHandle struct {
	store *MemoryStore
	id    uint64
	buf   bytes.Buffer
}

func (h *memoryWriteHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }

func (h *memoryWriteHandle) Close() error {
	h.store.mutex.Lock()
	defer h.store.mutex.Unlock()
	h.store.objects[h.id] = append([]byte(nil), h.buf.Bytes()...)
	return nil
}

type memoryRWHandle struct {
	store  *MemoryStore
	id     uint64
	reader *bytes.Reader
	buf    bytes.Buffer
}

func (h *memoryRWHandle) Read(p []byte) (int, error)  { return h.reader.Read(p) }
func (h *memoryRWHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }

func (h *memoryRWHandle) Close() error {
	if h.buf.Len() == 0 {
		return nil
	}
	h.store.mutex.Lock()
	defer h.store.mutex.Unlock()
	h.store.objects[h.id] = append([]byte(nil), h.buf.Bytes()...)
	return nil
}
