package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Record represents a key-value record with metadata for storage
type Record struct {
	CRC32     uint32 // CRC32 checksum for integrity
	KeySize   uint32 // Size of the key in bytes
	ValueSize uint32 // Size of the value in bytes
	Timestamp uint64 // Unix timestamp in nanoseconds
	Key       []byte // Key data
	Value     []byte // Value data
}

// RecordCodec handles serialization and deserialization of records
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// Encode serializes a key-value pair into a binary record format
// Format: [CRC32(4)][KeySize(4)][ValueSize(4)][Timestamp(8)][Key][Value]
func (c *RecordCodec) Encode(key, value []byte) ([]byte, error) {
	record := NewRecord(key, value)
	record.CRC32 = record.calculateCRC32()

	buf := make([]byte, record.Size())
	binary.LittleEndian.PutUint32(buf[0:4], record.CRC32)
	binary.LittleEndian.PutUint32(buf[4:8], record.KeySize)
	binary.LittleEndian.PutUint32(buf[8:12], record.ValueSize)
	binary.LittleEndian.PutUint64(buf[12:20], record.Timestamp)
	copy(buf[20:20+len(key)], key)
	copy(buf[20+len(key):], value)

	return buf, nil
}

// Decode deserializes a binary record into a Record struct
func (c *RecordCodec) Decode(data []byte) (*Record, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("record too short: %d bytes, need at least 20", len(data))
	}

	keySize := binary.LittleEndian.Uint32(data[4:8])
	valueSize := binary.LittleEndian.Uint32(data[8:12])

	want := 20 + int(keySize) + int(valueSize)
	if len(data) < want {
		return nil, fmt.Errorf("record truncated: have %d bytes, need %d", len(data), want)
	}

	record := &Record{
		CRC32:     binary.LittleEndian.Uint32(data[0:4]),
		KeySize:   keySize,
		ValueSize: valueSize,
		Timestamp: binary.LittleEndian.Uint64(data[12:20]),
		Key:       append([]byte(nil), data[20:20+keySize]...),
		Value:     append([]byte(nil), data[20+keySize:want]...),
	}

	return record, nil
}

// Validate checks the integrity of a record using CRC32
func (r *Record) Validate() error {
	want := r.calculateCRC32()
	if want != r.CRC32 {
		return fmt.Errorf("CRC32 mismatch: record CRC %08x, computed %08x", r.CRC32, want)
	}
	return nil
}

// Size returns the total size of the record when encoded
func (r *Record) Size() int {
	// Header: CRC32(4) + KeySize(4) + ValueSize(4) + Timestamp(8) = 20 bytes
	// Data: len(Key) + len(Value)
	return 20 + len(r.Key) + len(r.Value)
}

// NewRecord creates a new record with current timestamp
func NewRecord(key, value []byte) *Record {
	return &Record{
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Timestamp: uint64(time.Now().UnixNano()),
		Key:       key,
		Value:     value,
	}
}

// calculateCRC32 computes CRC32 checksum for record data (excluding the CRC field itself)
func (r *Record) calculateCRC32() uint32 {
	// checksum covers KeySize + ValueSize + Timestamp + Key + Value
	crc := crc32.NewIEEE()

	// Write header fields (excluding CRC32)
	binary.Write(crc, binary.LittleEndian, r.KeySize)
	binary.Write(crc, binary.LittleEndian, r.ValueSize)
	binary.Write(crc, binary.LittleEndian, r.Timestamp)

	// Write data
	crc.Write(r.Key)
	crc.Write(r.Value)

	return crc.Sum32()
}
