// Package framing implements the little-endian, length-prefixed wire format
// shared by node persistence and metadata persistence in pkg/keytree.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteLengthPrefixed writes a u64 little-endian length followed by data.
func WriteLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("framing: write length: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("framing: write data: %w", err)
	}
	return nil
}

// ReadLengthPrefixed reads a u64 little-endian length followed by that many bytes.
func ReadLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("framing: read length: %w", err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("framing: read data: %w", err)
	}
	return data, nil
}

// WriteIDs serializes a vector of u64 ids as a u64 count followed by the
// elements, each u64 little-endian.
func WriteIDs(w io.Writer, ids []uint64) error {
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(ids)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("framing: write id count: %w", err)
	}
	buf := make([]byte, 8)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf, id)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("framing: write id: %w", err)
		}
	}
	return nil
}

// ReadIDs deserializes a vector of u64 ids written by WriteIDs.
func ReadIDs(r io.Reader) ([]uint64, error) {
	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("framing: read id count: %w", err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	ids := make([]uint64, 0)
	buf := make([]byte, 8)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("framing: read id: %w", err)
		}
		ids = append(ids, binary.LittleEndian.Uint64(buf))
	}
	return ids, nil
}

// WriteKeys serializes a vector of fixed-size keys as a u64 count followed
// by the raw key bytes, each keySize bytes long.
func WriteKeys(w io.Writer, keys [][]byte) error {
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(keys)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("framing: write key count: %w", err)
	}
	for _, k := range keys {
		if _, err := w.Write(k); err != nil {
			return fmt.Errorf("framing: write key: %w", err)
		}
	}
	return nil
}

// ReadKeys deserializes a vector of fixed-size keys written by WriteKeys.
func ReadKeys(r io.Reader, keySize int) ([][]byte, error) {
	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("framing: read key count: %w", err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	keys := make([][]byte, 0)
	for i := uint64(0); i < count; i++ {
		k := make([]byte, keySize)
		if _, err := io.ReadFull(r, k); err != nil {
			return nil, fmt.Errorf("framing: read key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// WriteUint64 writes a single little-endian u64, used for the degree/len
// metadata fields which are not length-prefixed.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a single little-endian u64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
