// Package schema implements declarative per-operator-type metadata:
// input/output arity bounds, in-place pair policy, and optional
// shape/cost/placement inference callbacks. Verify is a near-verbatim
// port of Caffe2's OpSchema::Verify (core/operator_schema.cc).
package schema

import (
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
)

// InPlacePolicy classifies how a schema treats an (input, output)
// index pair that names the same blob.
type InPlacePolicy int

const (
	// Forbidden means an aliased pair at these indices is rejected.
	Forbidden InPlacePolicy = iota
	// Allowed means an aliased pair at these indices is accepted but
	// not required.
	Allowed
	// Enforced means the operator requires this pair to alias; a
	// non-aliased pair at these indices is also rejected.
	Enforced
)

// Def is the definition callers Verify an OperatorDef against.
// OperatorDef itself is declared in package net; Def only needs the
// slices it validates, so it takes them directly to avoid an import
// cycle with net.
type Def struct {
	Inputs  []string
	Outputs []string
}

// Schema is the per-op-type metadata consulted at net construction.
type Schema struct {
	// Name is the operator type this schema governs.
	Name string
	// MinInputs/MaxInputs bound the input count; MaxInputs<0 means
	// unbounded.
	MinInputs, MaxInputs int
	// MinOutputs/MaxOutputs bound the output count; MaxOutputs<0 means
	// unbounded.
	MinOutputs, MaxOutputs int
	// NumInputsOutputsAllowed, if set, further constrains the combined
	// (numInputs, numOutputs) pair beyond the independent bounds above.
	NumInputsOutputsAllowed func(numInputs, numOutputs int) bool
	// InPlace maps an (inputIdx, outputIdx) pair to its policy. Pairs
	// absent from the map default to Forbidden.
	InPlace map[[2]int]InPlacePolicy
	// OutputCount, if set, computes the expected output count from the
	// input count; a mismatch against the actual output count is a
	// SchemaViolation.
	OutputCount func(numInputs int) (n int, ok bool)
	// ShapeInfer, if set, computes output shapes from input shapes.
	ShapeInfer func(inputShapes [][]int64, args map[string]string) ([][]int64, error)
	// CostInfer, if set, estimates the resources an invocation with the
	// given input shapes will consume.
	CostInfer func(inputShapes [][]int64, args map[string]string) device.Resources
	// PlacementInfer, if set, suggests a device for the operator given
	// its declared device option (e.g., promoting an unset option to a
	// default).
	PlacementInfer func(declared device.Option) device.Option
}

// NumInputs restricts a schema to exactly n inputs.
func (s *Schema) NumInputs(n int) *Schema {
	s.MinInputs, s.MaxInputs = n, n
	return s
}

// NumInputsRange restricts a schema to between min and max inputs
// inclusive.
func (s *Schema) NumInputsRange(min, max int) *Schema {
	s.MinInputs, s.MaxInputs = min, max
	return s
}

// NumOutputs restricts a schema to exactly n outputs.
func (s *Schema) NumOutputs(n int) *Schema {
	s.MinOutputs, s.MaxOutputs = n, n
	return s
}

// NumOutputsRange restricts a schema to between min and max outputs
// inclusive.
func (s *Schema) NumOutputsRange(min, max int) *Schema {
	s.MinOutputs, s.MaxOutputs = min, max
	return s
}

// AllowInplace records that inputIdx and outputIdx may (but need not)
// alias the same blob.
func (s *Schema) AllowInplace(inputIdx, outputIdx int) *Schema {
	if s.InPlace == nil {
		s.InPlace = make(map[[2]int]InPlacePolicy)
	}
	s.InPlace[[2]int{inputIdx, outputIdx}] = Allowed
	return s
}

// EnforceInplace records that inputIdx and outputIdx must alias the
// same blob.
func (s *Schema) EnforceInplace(inputIdx, outputIdx int) *Schema {
	if s.InPlace == nil {
		s.InPlace = make(map[[2]int]InPlacePolicy)
	}
	s.InPlace[[2]int{inputIdx, outputIdx}] = Enforced
	return s
}

func (s *Schema) inplacePolicy(i, o int) InPlacePolicy {
	if s.InPlace == nil {
		return Forbidden
	}
	if p, ok := s.InPlace[[2]int{i, o}]; ok {
		return p
	}
	return Forbidden
}

// Verify checks def against the schema, in the order Caffe2's
// OpSchema::Verify performs its checks: input arity, output arity,
// combined-count predicate, output-count calculator, then every
// (input, output) pair for in-place policy violations.
func (s *Schema) Verify(def Def) error {
	numIn, numOut := len(def.Inputs), len(def.Outputs)
	if numIn < s.MinInputs || (s.MaxInputs >= 0 && numIn > s.MaxInputs) {
		return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
			errors.New("input count out of bounds"))
	}
	if numOut < s.MinOutputs || (s.MaxOutputs >= 0 && numOut > s.MaxOutputs) {
		return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
			errors.New("output count out of bounds"))
	}
	if s.NumInputsOutputsAllowed != nil && !s.NumInputsOutputsAllowed(numIn, numOut) {
		return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
			errors.New("input/output count combination not allowed"))
	}
	if s.OutputCount != nil {
		if want, ok := s.OutputCount(numIn); ok && want != numOut {
			return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
				errors.New("computed output count does not match actual output count"))
		}
	}
	for i, in := range def.Inputs {
		for o, out := range def.Outputs {
			policy := s.inplacePolicy(i, o)
			if in == out {
				if policy == Forbidden {
					return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
						errors.New("input "+in+" aliases output "+out+" without an in-place policy"))
				}
			} else if policy == Enforced {
				return errors.E("schema.Verify", s.Name, errors.SchemaViolation,
					errors.New("enforced in-place pair at ("+in+","+out+") does not actually alias"))
			}
		}
	}
	return nil
}
