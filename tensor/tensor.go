// Package tensor implements the concrete Blob payload described by
// the data model: a typed, shaped, device-bound array over a
// ref-counted byte buffer, with Caffe2 Tensor::Resize's
// reshape-without-realloc-when-capacity-suffices behavior.
package tensor

import (
	"fmt"

	"github.com/grailbio/base/data"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
)

// DType identifies the element type stored in a Tensor's storage.
type DType int

const (
	Float32 DType = iota
	Float64
	Int32
	Int64
	Bool
	Byte
)

// ItemSize returns the size in bytes of one element of type dt.
func (dt DType) ItemSize() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Bool, Byte:
		return 1
	default:
		return 0
	}
}

func (dt DType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case Byte:
		return "byte"
	default:
		return "unknown"
	}
}

// storage is the ref-counted byte buffer backing zero or more
// Tensor views. Multiple Tensors may share one storage (e.g. a
// recurrent Link's aliased view), so storage is only ever grown, never
// shrunk in place, and views never outlive a resize that would
// invalidate their bytes without ref-count coordination.
type storage struct {
	refs int32
	buf  []byte
}

func newStorage(nbytes int) *storage {
	return &storage{refs: 1, buf: make([]byte, nbytes)}
}

// Tensor is the shaped, typed array described by the data model:
// element type, shape (ordered sizes), device binding, and storage.
// elements = product(shape); storage size >= elements*itemsize.
type Tensor struct {
	dtype   DType
	shape   []int64
	device  device.Option
	bound   bool // device binding becomes immutable after first allocation
	storage *storage
	offset  int // byte offset into storage, used by aliased views
}

// New allocates a Tensor of the given dtype and shape on dev.
func New(dt DType, shape []int64, dev device.Option) *Tensor {
	t := &Tensor{dtype: dt, shape: append([]int64(nil), shape...), device: dev, bound: true}
	n := int(Elements(shape)) * dt.ItemSize()
	t.storage = newStorage(n)
	return t
}

// Elements returns the product of shape, the number of scalar
// elements a tensor of that shape holds.
func Elements(shape []int64) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}

// DType returns the tensor's element type.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns the tensor's shape. The returned slice must not be
// mutated by callers.
func (t *Tensor) Shape() []int64 { return t.shape }

// Dim returns the size of dimension i, or the number of timesteps
// when i==0 (the convention used throughout the recurrent and dataset
// packages, mirroring Caffe2's Tensor::dim(0)).
func (t *Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.shape) {
		return 0
	}
	return t.shape[i]
}

// Device returns the tensor's device binding.
func (t *Tensor) Device() device.Option { return t.device }

// Bytes returns the tensor's raw backing bytes (offset within shared
// storage already applied). Callers must not retain the slice past
// the tensor's next Resize.
func (t *Tensor) Bytes() []byte {
	n := int(Elements(t.shape)) * t.dtype.ItemSize()
	return t.storage.buf[t.offset : t.offset+n]
}

// Resize reshapes the tensor in place. If the new shape's element
// count fits within the existing storage capacity, no reallocation
// occurs (Caffe2's Resize semantics); otherwise fresh storage is
// allocated and old contents are not preserved, matching the
// operators that call Resize immediately before overwriting the
// tensor wholesale.
func (t *Tensor) Resize(shape []int64) {
	need := int(Elements(shape)) * t.dtype.ItemSize()
	if t.offset == 0 && need <= cap(t.storage.buf) {
		t.storage.buf = t.storage.buf[:need]
	} else {
		t.storage = newStorage(need)
		t.offset = 0
	}
	t.shape = append([]int64(nil), shape...)
}

// View returns a non-owning aliased Tensor sharing this tensor's
// storage, covering elements [start, start+length) along dimension 0.
// Used by recurrent Links and Aliases, which must see the same bytes
// as the source without a copy.
func (t *Tensor) View(start, length int64) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, errors.E("tensor.View", errors.ShapeMismatch, errors.New("cannot view a scalar tensor"))
	}
	if start < 0 || start+length > t.shape[0] {
		return nil, errors.E("tensor.View", errors.ShapeMismatch,
			fmt.Errorf("range [%d,%d) out of bounds for dim0=%d", start, start+length, t.shape[0]))
	}
	inner := Elements(t.shape[1:])
	itemsize := t.dtype.ItemSize()
	v := &Tensor{
		dtype:   t.dtype,
		shape:   append([]int64{length}, t.shape[1:]...),
		device:  t.device,
		bound:   true,
		storage: t.storage,
		offset:  t.offset + int(start*inner)*itemsize,
	}
	t.storage.refs++
	return v, nil
}

// String renders a human-readable summary of the tensor, used in
// diagnostics and workspace tracing.
func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%s, shape=%v, device=%s, %s)", t.dtype, t.shape, t.device, data.Size(int64(len(t.storage.buf))))
}

// GrowthPct is the amortized growth factor Append uses when a
// tensor's storage capacity is insufficient for its new size, matching
// Caffe2's kDatasetGrowthPct.
const GrowthPct = 40

// Capacity0 returns how large dimension 0 could grow to without a
// reallocation, given the tensor's current trailing dimensions.
func (t *Tensor) Capacity0() int64 {
	if t.offset != 0 || len(t.shape) == 0 {
		return t.shape[0]
	}
	inner := Elements(t.shape[1:]) * int64(t.dtype.ItemSize())
	if inner == 0 {
		return t.shape[0]
	}
	return int64(cap(t.storage.buf)) / inner
}

// GrowResize reshapes the tensor to shape, preserving existing bytes
// (unlike Resize, which discards contents). When the requested size
// exceeds capacity, storage grows by GrowthPct percent (or exactly to
// the requested size if that is larger), amortizing repeated Append
// calls the way Caffe2's dataset ops do.
func (t *Tensor) GrowResize(shape []int64) {
	need := int(Elements(shape)) * t.dtype.ItemSize()
	if t.offset == 0 && need <= cap(t.storage.buf) {
		t.storage.buf = t.storage.buf[:need]
	} else {
		grown := cap(t.storage.buf) * (100 + GrowthPct) / 100
		if grown < need {
			grown = need
		}
		ns := newStorage(grown)
		copy(ns.buf, t.storage.buf)
		ns.buf = ns.buf[:need]
		t.storage = ns
		t.offset = 0
	}
	t.shape = append([]int64(nil), shape...)
}

// Copy returns a freshly allocated Tensor holding a copy (not an
// alias) of elements [start, start+length) along dimension 0.
func (t *Tensor) Copy(start, length int64) (*Tensor, error) {
	v, err := t.View(start, length)
	if err != nil {
		return nil, err
	}
	out := New(t.dtype, v.shape, t.device)
	copy(out.Bytes(), v.Bytes())
	return out, nil
}

// SameTrailingDims reports whether a and b agree on every dimension
// after the first, the precondition Append and AtomicAppend enforce.
func SameTrailingDims(a, b *Tensor) bool {
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := 1; i < len(a.shape); i++ {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}
