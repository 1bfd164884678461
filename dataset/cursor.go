package dataset

import (
	"sync"

	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/tensor"
)

// Cursor is the TreeCursor from the data model: a schema plus
// thread-safe per-domain offset state.
type Cursor struct {
	mu      sync.Mutex
	schema  *Schema
	offsets []int64
}

// NewCursor constructs a cursor over schema, with all domain offsets
// starting at zero.
func NewCursor(schema *Schema) *Cursor {
	return &Cursor{schema: schema}
}

// Reset clears the cursor's offset state.
func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets = nil
}

func (c *Cursor) ensureOffsets() {
	if c.offsets == nil {
		c.offsets = make([]int64, c.schema.NumOffsetFields())
	}
}

// ReadNextBatch reads up to batchSize top-level records starting at
// the cursor's current position. lengths holds each domain's
// length-field data (indexed like Advance expects); tensors holds
// every field's full backing tensor, positionally matched to
// schema.Fields. As in ReadNextBatchOp: the cursor's offsets are
// mutated under the cursor mutex, and the actual per-field gather
// happens after the lock is released.
func (c *Cursor) ReadNextBatch(lengths [][]int32, tensors []*tensor.Tensor, limits []int64, batchSize int64) ([]*tensor.Tensor, error) {
	c.mu.Lock()
	c.ensureOffsets()
	preOffsets := append([]int64(nil), c.offsets...)
	sizes, err := c.schema.Advance(lengths, c.offsets, limits, batchSize)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*tensor.Tensor, len(tensors))
	for i, t := range tensors {
		d := c.schema.DomainOf(i)
		v, err := t.Copy(preOffsets[d], sizes[d])
		if err != nil {
			return nil, errors.E("dataset.ReadNextBatch", c.schema.Fields[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// ComputeOffsetMatrix produces an (N+1) x F matrix (F = NumOffsetFields)
// whose row k is the cursor's would-be offset state after advancing k
// top-level records from zero, by repeatedly calling Advance with n=1.
// It does not consult or mutate the cursor's own position.
func (c *Cursor) ComputeOffsetMatrix(lengths [][]int32, limits []int64) ([][]int64, error) {
	n := limits[0]
	offsets := make([]int64, c.schema.NumOffsetFields())
	matrix := make([][]int64, n+1)
	matrix[0] = append([]int64(nil), offsets...)
	for k := int64(0); k < n; k++ {
		if _, err := c.schema.Advance(lengths, offsets, limits, 1); err != nil {
			return nil, err
		}
		matrix[k+1] = append([]int64(nil), offsets...)
	}
	return matrix, nil
}

// CheckConsistency walks the schema end to end from a fresh zero
// offset and asserts every domain's final offset equals its declared
// limit, the same full-dataset walk CheckDatasetConsistencyOp
// performs.
func CheckConsistency(schema *Schema, lengths [][]int32, limits []int64) error {
	offsets := make([]int64, schema.NumOffsetFields())
	if _, err := schema.Advance(lengths, offsets, limits, limits[0]); err != nil {
		return err
	}
	for d, off := range offsets {
		if off != limits[d] {
			return errors.E("dataset.CheckConsistency", errors.ShapeMismatch,
				errors.New("domain offset does not reach its declared limit after a full walk"))
		}
	}
	return nil
}

// Append extends dst in place along axis 0 with src's records. It
// requires equal element type and matching trailing dimensions, and
// amortizes growth per tensor.GrowthPct.
func Append(dst, src *tensor.Tensor) error {
	if dst.DType() != src.DType() {
		return errors.E("dataset.Append", errors.TypeMismatch,
			errors.New("dst and src element types differ"))
	}
	if !tensor.SameTrailingDims(dst, src) {
		return errors.E("dataset.Append", errors.ShapeMismatch,
			errors.New("dst and src trailing dimensions differ"))
	}
	oldLen := dst.Dim(0)
	newShape := append([]int64{oldLen + src.Dim(0)}, dst.Shape()[1:]...)
	rowBytes := len(dst.Bytes()) / max64(int(oldLen), 1)
	if oldLen == 0 {
		rowBytes = len(src.Bytes()) / max64(int(src.Dim(0)), 1)
	}
	dst.GrowResize(newShape)
	copy(dst.Bytes()[int(oldLen)*rowBytes:], src.Bytes())
	return nil
}

func max64(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AtomicAppend performs Append across multiple (dst, src) tensor pairs
// under a single caller-provided mutex, so a concurrent reader never
// observes a torn multi-field append.
func AtomicAppend(mu *sync.Mutex, dsts, srcs []*tensor.Tensor) error {
	if len(dsts) != len(srcs) {
		return errors.E("dataset.AtomicAppend", errors.ShapeMismatch,
			errors.New("dsts and srcs must have equal length"))
	}
	mu.Lock()
	defer mu.Unlock()
	for i := range dsts {
		if err := Append(dsts[i], srcs[i]); err != nil {
			return err
		}
	}
	return nil
}
