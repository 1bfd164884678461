// Package serialize implements the Save/Load/Checkpoint surface
// described in component design 4.10, ported from Caffe2's
// LoadOp/SaveOp/CheckpointOp (operators/load_save_op.h): blobs stream
// through a pluggable key-value boundary via a per-payload-type codec,
// tensors chunked with a trailing ":<chunk_id>" key suffix that the
// loader strips to reassemble.
package serialize

import (
	"github.com/netcore-run/netcore/blob"
)

// Cursor iterates key/value pairs from an underlying key-value store
// in an implementation-defined order. Load walks a Cursor to
// reconstruct every blob a Save call previously wrote.
type Cursor interface {
	// Next advances to the following record. ok is false once the
	// cursor is exhausted.
	Next() (key string, value []byte, ok bool, err error)
}

// Transaction accumulates writes against a key-value store and
// commits them as one unit. Save opens a fresh, one-shot Transaction
// per chunk it writes, mirroring SaveOp's acceptor callback.
type Transaction interface {
	Put(key string, value []byte) error
	Commit() error
	Rollback() error
}

// DB is an open key-value database instance, the boundary a real
// on-disk or distributed store implements outside this package.
type DB interface {
	NewCursor() (Cursor, error)
	NewTransaction() (Transaction, error)
	Close() error
}

// Mode selects how Store.Open treats an existing database at path.
type Mode int

const (
	// ReadOnly opens an existing database for Load.
	ReadOnly Mode = iota
	// New creates (overwriting, if necessary) a database for Save.
	New
)

// Store opens named key-value databases, the pluggable boundary
// Save/Load/Checkpoint address by path. Implementations for a
// particular on-disk format or distributed store live outside this
// package; this core only depends on the Store/DB/Cursor/Transaction
// interfaces.
type Store interface {
	Open(path string, mode Mode) (DB, error)
}

// BlobStore is the minimal workspace surface this package depends on,
// satisfied structurally by workspace.Workspace without an import
// cycle, matching the net.BlobStore pattern.
type BlobStore interface {
	CreateBlob(name string) *blob.Blob
	GetBlob(name string) (*blob.Blob, bool)
	LocalBlobs() []string
}
