package objectstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is an ObjectStore backed by a cockroachdb/pebble instance,
// generalizing the sequential u64 id space pkg/keytree requires (rather
// than the ksuid-keyed record store this is adapted from) to one key-value
// database. Each object's id is encoded as an 8-byte big-endian key so
// Pebble's natural key ordering matches numeric id ordering.
type PebbleStore struct {
	db      *pebble.DB
	mutex   sync.Mutex
	nextID  uint64
	freeIDs []uint64
}

// NewPebbleStore opens (creating if necessary) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: open pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying Pebble database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func keyFor(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func (s *PebbleStore) AllocID() (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if n := len(s.freeIDs); n > 0 {
		id := s.freeIDs[n-1]
		s.freeIDs = s.freeIDs[:n-1]
		return id, nil
	}

	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *PebbleStore) DeallocID(id uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.db.Delete(keyFor(id), pebble.NoSync); err != nil {
		return fmt.Errorf("objectstore: delete %d: %w", id, err)
	}
	s.freeIDs = append(s.freeIDs, id)
	return nil
}

func (s *PebbleStore) ReadHandle(id uint64) (ReadHandle, error) {
	data, closer, err := s.db.Get(keyFor(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return &pebbleReadHandle{reader: bytes.NewReader(nil)}, nil
		}
		return nil, fmt.Errorf("objectstore: get %d: %w", id, err)
	}
	defer closer.Close()
	return &pebbleReadHandle{reader: bytes.NewReader(append([]byte(nil), data...))}, nil
}

func (s *PebbleStore) WriteHandle(id uint64) (WriteHandle, error) {
	return &pebbleWriteHandle{store: s, id: id}, nil
}

func (s *PebbleStore) RWHandle(id uint64) (ReadWriteHandle, error) {
	data, closer, err := s.db.Get(keyFor(id))
	if err != nil && err != pebble.ErrNotFound {
		return nil, fmt.Errorf("objectstore: get %d: %w", id, err)
	}
	if closer != nil {
		defer closer.Close()
	}
	return &pebbleRWHandle{
		store:  s,
		id:     id,
		reader: bytes.NewReader(append([]byte(nil), data...)),
	}, nil
}

type pebbleReadHandle struct {
	reader *bytes.Reader
}

func (h *pebbleReadHandle) Read(p []byte) (int, error) { return h.reader.Read(p) }
func (h *pebbleReadHandle) Close() error               { return nil }

type pebbleWriteHandle struct {
	store *PebbleStore
	id    uint64
	buf   bytes.Buffer
}

func (h *pebbleWriteHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }

func (h *pebbleWriteHandle) Close() error {
	return h.store.db.Set(keyFor(h.id), h.buf.Bytes(), pebble.NoSync)
}

type pebbleRWHandle struct {
	store  *PebbleStore
	id     uint64
	reader *bytes.Reader
	buf    bytes.Buffer
}

func (h *pebbleRWHandle) Read(p []byte) (int, error)  { return h.reader.Read(p) }
func (h *pebbleRWHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }

func (h *pebbleRWHandle) Close() error {
	if h.buf.Len() == 0 {
		return nil
	}
	return h.store.db.Set(keyFor(h.id), h.buf.Bytes(), pebble.NoSync)
}
