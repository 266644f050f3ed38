package blockstore

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is an append-only, crash-recoverable log of block ciphertext keyed
// by BlockId, adapted from the teacher's KVStore to the fixed uint64 key /
// opaque ciphertext-value shape this vault needs. It carries no relationship
// graph, no prefix scan, and no secondary indices: those are KVStore
// features this domain has no use for.
type Store struct {
	config   Config
	writer   *logWriter
	reader   *logReader
	index    *hashIndex
	dataFile string
	mutex    sync.Mutex
	isOpen   bool
}

// New creates a Store rooted at config.DataDir. Call Open before use.
func New(config Config) (*Store, error) {
	if err := os.MkdirAll(config.DataDir, 0o750); err != nil {
		return nil, err
	}

	return &Store{
		config:   config,
		dataFile: filepath.Join(config.DataDir, "blocks.data"),
		index:    newHashIndex(),
	}, nil
}

// Open validates the log file, truncating any trailing corruption, then
// rebuilds the in-memory index from the validated prefix.
func (s *Store) Open() (*RecoveryResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isOpen {
		return &RecoveryResult{}, nil
	}

	recovery, err := s.validateLogFile(s.dataFile)
	if err != nil {
		return nil, err
	}

	writer, err := newLogWriter(LogWriterConfig{
		FilePath:      s.dataFile,
		FsyncInterval: s.config.FsyncInterval,
		BufferSize:    64 * 1024,
	})
	if err != nil {
		return nil, err
	}
	s.writer = writer

	reader, err := newLogReader(LogReaderConfig{FilePath: s.dataFile})
	if err != nil {
		writer.Close()
		return nil, err
	}
	s.reader = reader

	if _, err := s.index.BuildFromLog(s.reader); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	s.isOpen = true
	return recovery, nil
}

// Get returns the ciphertext stored for blockID.
func (s *Store) Get(blockID uint64) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil, ErrNotOpen
	}

	entry, ok := s.index.Get(blockID)
	if !ok {
		return nil, ErrBlockNotFound
	}

	record, err := s.reader.ReadAt(entry.Offset)
	if err != nil {
		return nil, err
	}
	if len(record.Value) == 0 {
		return nil, ErrBlockNotFound
	}
	return record.Value, nil
}

// Put appends ciphertext for blockID and updates the index.
func (s *Store) Put(blockID uint64, ciphertext []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}

	key := encodeBlockID(blockID)
	offset, err := s.writer.Put(key, ciphertext)
	if err != nil {
		return err
	}

	s.index.Put(blockID, &IndexEntry{
		Offset:    offset,
		Size:      uint32(20 + len(key) + len(ciphertext)),
		Timestamp: uint64(time.Now().UnixNano()),
	})
	return nil
}

// Delete appends a tombstone for blockID and removes it from the index.
func (s *Store) Delete(blockID uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return ErrNotOpen
	}

	key := encodeBlockID(blockID)
	if _, err := s.writer.Put(key, []byte{}); err != nil {
		return err
	}
	s.index.Delete(blockID)
	return nil
}

// Close flushes and closes the underlying log.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return nil
	}
	s.isOpen = false

	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			if s.reader != nil {
				s.reader.Close()
			}
			return err
		}
	}
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

// Stats reports basic store statistics.
func (s *Store) Stats() StoreStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen {
		return StoreStats{}
	}
	return StoreStats{
		Blocks:   s.index.Size(),
		DataSize: s.writer.Size(),
	}
}

// StoreStats reports size and occupancy for a Store.
type StoreStats struct {
	Blocks   int
	DataSize int64
}

// validateLogFile walks the log from the start, truncating the file at the
// last record that passes CRC validation if a corrupted tail is found.
func (s *Store) validateLogFile(filePath string) (*RecoveryResult, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RecoveryResult{}, nil
		}
		return nil, err
	}
	fileSizeBefore := info.Size()

	reader, err := newLogReader(LogReaderConfig{FilePath: filePath})
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var recordsValidated int64
	var lastValidOffset int64 = -1
	var corrupted bool

	for {
		_, err := reader.ReadNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			corrupted = true
			break
		}
		recordsValidated++
		lastValidOffset = reader.Offset()
	}

	fileSizeAfter := fileSizeBefore
	var recordsTruncated int64
	if corrupted && lastValidOffset >= 0 {
		file, err := os.OpenFile(filePath, os.O_RDWR, 0o600)
		if err != nil {
			return nil, err
		}
		if err := file.Truncate(lastValidOffset); err != nil {
			file.Close()
			return nil, err
		}
		file.Close()
		fileSizeAfter = lastValidOffset
		recordsTruncated = 1
	}

	return &RecoveryResult{
		RecordsValidated: recordsValidated,
		RecordsTruncated: recordsTruncated,
		FileSizeBefore:   fileSizeBefore,
		FileSizeAfter:    fileSizeAfter,
	}, nil
}

func encodeBlockID(blockID uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, blockID)
	return buf
}

func decodeBlockID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
