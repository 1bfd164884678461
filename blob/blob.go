// Package blob implements the universal value cell used by a
// Workspace: a runtime-typed container pairing an owned value with a
// stable type descriptor. A Blob is either empty or holds exactly one
// value of exactly one type.
package blob

import (
	"sync"

	"github.com/netcore-run/netcore/digestutil"
	"github.com/netcore-run/netcore/errors"
)

// TypeMeta describes a value type that may be stored in a Blob: its
// per-element size, optional copy/destroy thunks, and a stable
// identity used to detect type mismatches across Get/GetMutable
// calls. Payload types that never need custom copy/destroy logic
// (Go's garbage collector already handles the destroy half) may leave
// Copy and Dtor nil.
type TypeMeta struct {
	// Name identifies the type for diagnostics and is hashed to form ID.
	Name string
	// ItemSize is the size in bytes of one element of this type, used
	// by tensor storage sizing; zero for non-tensor payloads.
	ItemSize int
	// Copy, if set, copies n elements from src to dst.
	Copy func(dst, src interface{}, n int)
	// Dtor, if set, releases resources held by v beyond what the
	// garbage collector reclaims (e.g., a pinned device allocation).
	Dtor func(v interface{})
}

// ID is the stable identity of a type, derived from its Name so that
// two independently constructed TypeMeta values for the same type
// name compare equal.
func (t TypeMeta) ID() digestutil.Digest {
	return digestutil.OfStrings("typemeta", t.Name)
}

// Blob is a typed cell owning zero or one value. Its methods
// serialize access to the cell itself with an internal mutex; the
// value a Blob hands out is not guarded, and the workspace and
// scheduler jointly guarantee that no two concurrently executing
// chains access the same blob in a conflicting way (see the
// concurrency model).
type Blob struct {
	mu    sync.Mutex
	meta  *TypeMeta
	value interface{}
}

// New returns an empty blob.
func New() *Blob {
	return &Blob{}
}

// Empty reports whether the blob currently holds no value.
func (b *Blob) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta == nil
}

// Meta returns the TypeMeta of the value currently held, or nil if
// the blob is empty.
func (b *Blob) Meta() *TypeMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta
}

// Get returns the blob's value, failing with TypeMismatch if meta
// does not match the type currently stored (or if the blob is
// empty).
func (b *Blob) Get(meta *TypeMeta) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta == nil {
		return nil, errors.E("blob.Get", errors.TypeMismatch, errors.New("blob is empty"))
	}
	if b.meta.ID() != meta.ID() {
		return nil, errors.E("blob.Get", errors.TypeMismatch,
			errors.New("stored type "+b.meta.Name+" does not match requested type "+meta.Name))
	}
	return b.value, nil
}

// GetMutable returns a mutable handle to the blob's value of the
// given type. If the blob currently holds a different type (or is
// empty), its contents are released and init is called to produce a
// fresh zero value, which becomes the new contents.
func (b *Blob) GetMutable(meta *TypeMeta, init func() interface{}) interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta == nil || b.meta.ID() != meta.ID() {
		if b.meta != nil && b.meta.Dtor != nil {
			b.meta.Dtor(b.value)
		}
		b.meta = meta
		b.value = init()
	}
	return b.value
}

// Set overwrites the blob's contents unconditionally, releasing any
// previous value via its Dtor.
func (b *Blob) Set(meta *TypeMeta, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta != nil && b.meta.Dtor != nil {
		b.meta.Dtor(b.value)
	}
	b.meta = meta
	b.value = value
}

// Reset drops the blob's contents, releasing them via Dtor if set.
func (b *Blob) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.meta != nil && b.meta.Dtor != nil {
		b.meta.Dtor(b.value)
	}
	b.meta = nil
	b.value = nil
}
