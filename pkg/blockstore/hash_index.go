package blockstore

import "sync"

// hashIndex provides O(1) average-case lookups from BlockId to its most
// recent log location, adapted from the teacher's string-keyed HashIndex.
type hashIndex struct {
	entries map[uint64]*IndexEntry
	mutex   sync.RWMutex
}

func newHashIndex() *hashIndex {
	return &hashIndex{entries: make(map[uint64]*IndexEntry)}
}

// Put adds or updates the index entry for a block.
func (idx *hashIndex) Put(blockID uint64, entry *IndexEntry) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	idx.entries[blockID] = entry
}

// Get retrieves the index entry for a block.
func (idx *hashIndex) Get(blockID uint64) (*IndexEntry, bool) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	entry, ok := idx.entries[blockID]
	return entry, ok
}

// Delete removes a block from the index.
func (idx *hashIndex) Delete(blockID uint64) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	delete(idx.entries, blockID)
}

// Size returns the number of blocks in the index.
func (idx *hashIndex) Size() int {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	return len(idx.entries)
}

// Clear removes all entries from the index.
func (idx *hashIndex) Clear() {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	idx.entries = make(map[uint64]*IndexEntry)
}

// BuildFromLog scans a log file from the start and rebuilds the index,
// honoring tombstones (empty value) as deletions.
func (idx *hashIndex) BuildFromLog(reader *logReader) (*RecoveryResult, error) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	idx.entries = make(map[uint64]*IndexEntry)

	if err := reader.Seek(0); err != nil {
		return nil, err
	}

	result := &RecoveryResult{}
	for {
		offset := reader.Offset()
		record, err := reader.ReadNext()
		if err != nil {
			break
		}
		result.RecordsValidated++

		blockID := decodeBlockID(record.Key)
		if len(record.Value) == 0 {
			delete(idx.entries, blockID)
			continue
		}

		idx.entries[blockID] = &IndexEntry{
			Offset:    offset,
			Size:      uint32(record.Size()),
			Timestamp: record.Timestamp,
		}
	}

	return result, nil
}
