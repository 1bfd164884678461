// Package dataset implements the hierarchical ragged-tensor TreeCursor
// described in component design 4.8, ported from Caffe2's
// operators/dataset_ops.cc: TreeIterator's longest-prefix domain
// binding, advance, and the mutex-scoped cursor operations
// (ReadNextBatch, ComputeOffsetMatrix, SortAndShuffle, ReadRandomBatch,
// Append, AtomicAppend, CheckConsistency).
package dataset

import (
	"strings"

	"github.com/netcore-run/netcore/errors"
)

const (
	// FieldSeparator splits a field name into its domain path
	// components, matching Caffe2's kDatasetFieldSeparator.
	FieldSeparator = ":"
	// LengthFieldSuffix marks a field as defining a domain: any field
	// whose last name component equals this string is a length field.
	LengthFieldSuffix = "lengths"
)

// FieldDesc is one entry in a Schema's ordered field list.
type FieldDesc struct {
	ID            int
	Name          string
	LengthFieldID int // -1 if the field belongs to the root domain
}

// Schema encodes a dataset's hierarchical ragged structure: an ordered
// list of field descriptors, each bound to its nearest enclosing
// length-field by longest prefix match, per 4.8.
type Schema struct {
	Fields         []FieldDesc
	LengthFieldIDs []int // field ids that are length fields, in declaration order
}

// NewSchema parses field names into a Schema. A field name ending in
// ":lengths" defines a domain; every field (including other length
// fields) binds to the length-field whose name, with the trailing
// "lengths" component stripped, is the longest strict prefix of the
// field's own name-part sequence. NewSchema enforces the invariant
// that a length-field must be declared before any field in its
// domain (lengthField.ID < field.ID).
func NewSchema(names []string) (*Schema, error) {
	fields := make([]FieldDesc, len(names))
	parts := make([][]string, len(names))
	isLength := make([]bool, len(names))
	for i, name := range names {
		p := strings.Split(name, FieldSeparator)
		parts[i] = p
		fields[i] = FieldDesc{ID: i, Name: name, LengthFieldID: -1}
		isLength[i] = p[len(p)-1] == LengthFieldSuffix
	}
	var lengthFieldIDs []int
	for i, il := range isLength {
		if il {
			lengthFieldIDs = append(lengthFieldIDs, i)
		}
	}
	for i := range fields {
		best, bestLen := -1, -1
		for _, lfid := range lengthFieldIDs {
			if lfid == i {
				continue
			}
			domainParts := parts[lfid][:len(parts[lfid])-1]
			if isPrefix(domainParts, parts[i]) && len(domainParts) > bestLen {
				best, bestLen = lfid, len(domainParts)
			}
		}
		fields[i].LengthFieldID = best
	}
	for _, f := range fields {
		if f.LengthFieldID >= 0 && f.LengthFieldID >= f.ID {
			return nil, errors.E("dataset.NewSchema", f.Name, errors.InvalidNet,
				errors.New("length field must be declared before fields in its domain"))
		}
	}
	return &Schema{Fields: fields, LengthFieldIDs: lengthFieldIDs}, nil
}

func isPrefix(prefix, full []string) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i, p := range prefix {
		if full[i] != p {
			return false
		}
	}
	return true
}

// NumLengthFields returns the number of domains beyond the root.
func (s *Schema) NumLengthFields() int { return len(s.LengthFieldIDs) }

// NumOffsetFields returns the number of domains including the root
// (NumLengthFields + 1), the size of the offsets/sizes/limits vectors
// advance operates on.
func (s *Schema) NumOffsetFields() int { return len(s.LengthFieldIDs) + 1 }

// DomainOf returns the offset-vector index of the domain field id
// belongs to: 0 for the root domain, or 1+the position of its length
// field within LengthFieldIDs.
func (s *Schema) DomainOf(fieldID int) int {
	lfid := s.Fields[fieldID].LengthFieldID
	if lfid < 0 {
		return 0
	}
	for d, id := range s.LengthFieldIDs {
		if id == lfid {
			return d + 1
		}
	}
	return 0
}
