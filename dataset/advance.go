package dataset

import "github.com/netcore-run/netcore/errors"

// Advance implements the advance(lengths, offsets, sizes, limits, n)
// operation from 4.8: the root domain consumes min(limits[0]-offsets[0],
// n) top-level records; every non-root domain d then consumes the sum
// of its length-field's values over its parent domain's newly-consumed
// range. offsets is mutated in place to reflect the new position;
// sizes for every domain are returned.
//
// lengths[d-1] holds the length-field data for domain d, indexed by
// the parent domain's absolute position (this mirrors Caffe2's
// lengths[d-1][offsets[p] .. offsets[p]+sizes[p])).
func (s *Schema) Advance(lengths [][]int32, offsets, limits []int64, n int64) ([]int64, error) {
	numOffsetFields := s.NumOffsetFields()
	sizes := make([]int64, numOffsetFields)
	newOffsets := append([]int64(nil), offsets...)

	avail := limits[0] - offsets[0]
	total := n
	if avail < total {
		total = avail
	}
	sizes[0] = total
	newOffsets[0] = offsets[0] + total

	for d := 1; d < numOffsetFields; d++ {
		lengthFieldID := s.LengthFieldIDs[d-1]
		p := s.DomainOf(lengthFieldID)
		var sum int64
		lenData := lengths[d-1]
		for i := offsets[p]; i < offsets[p]+sizes[p]; i++ {
			sum += int64(lenData[i])
		}
		if newOffsets[d]+sum > limits[d] {
			return nil, errors.E("dataset.Advance", errors.ShapeMismatch,
				errors.New("domain exceeds its declared limit"))
		}
		sizes[d] = sum
		newOffsets[d] = offsets[d] + sum
	}
	copy(offsets, newOffsets)
	return sizes, nil
}
