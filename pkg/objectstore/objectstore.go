// Package objectstore defines the pluggable byte-addressable storage
// backend pkg/keytree persists nodes and metadata into, along with three
// implementations: an in-memory map, a directory of files, and a Pebble
// embedded-KV-backed store.
package objectstore

import "io"

// ReadHandle is a scoped, short-lived reader for a single object.
type ReadHandle interface {
	io.Reader
	io.Closer
}

// WriteHandle is a scoped, short-lived writer for a single object. The
// object's prior contents are replaced on Close.
type WriteHandle interface {
	io.Writer
	io.Closer
}

// ReadWriteHandle supports both reading and writing the same object within
// one handle's lifetime.
type ReadWriteHandle interface {
	io.Reader
	io.Writer
	io.Closer
}

// ObjectStore is the external collaborator pkg/keytree persists node and
// metadata objects through. Ids are opaque u64s allocated by the store; the
// tree never interprets them beyond using them as opaque handles into this
// interface.
type ObjectStore interface {
	// AllocID reserves a fresh id that has never been returned before
	// (or not since its last DeallocID).
	AllocID() (uint64, error)

	// DeallocID releases an id, permitting the store to reclaim its
	// backing storage and reuse the id.
	DeallocID(id uint64) error

	// ReadHandle opens id for reading. The returned handle must be closed.
	ReadHandle(id uint64) (ReadHandle, error)

	// WriteHandle opens id for writing, replacing its prior contents once
	// the returned handle is closed.
	WriteHandle(id uint64) (WriteHandle, error)

	// RWHandle opens id for both reading and writing.
	RWHandle(id uint64) (ReadWriteHandle, error)
}
