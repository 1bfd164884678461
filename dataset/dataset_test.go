package dataset_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/netcore-run/netcore/dataset"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/tensor"
	"golang.org/x/time/rate"
)

func i32Tensor(vals []int32) *tensor.Tensor {
	t := tensor.New(tensor.Int32, []int64{int64(len(vals))}, device.CPUOption)
	for i, v := range vals {
		t.Bytes()[i*4] = byte(v)
	}
	return t
}

func i32Vals(t *tensor.Tensor) []int32 {
	b := t.Bytes()
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(b[i*4])
	}
	return out
}

func TestSchemaDomainBinding(t *testing.T) {
	s, err := dataset.NewSchema([]string{"a", "b:lengths", "b:values"})
	if err != nil {
		t.Fatal(err)
	}
	if s.DomainOf(0) != 0 {
		t.Error("expected field a in root domain")
	}
	if s.DomainOf(2) != 1 {
		t.Error("expected field b:values in domain 1")
	}
}

func TestSchemaRejectsOutOfOrderLengthField(t *testing.T) {
	_, err := dataset.NewSchema([]string{"b:values", "b:lengths"})
	if err == nil {
		t.Error("expected error: length field declared after its domain's field")
	}
}

func TestReadNextBatchScenario(t *testing.T) {
	s, err := dataset.NewSchema([]string{"a", "b:lengths", "b:values"})
	if err != nil {
		t.Fatal(err)
	}
	a := i32Tensor([]int32{1, 2, 3, 4})
	bLengths := []int32{2, 0, 1, 3}
	bValues := i32Tensor([]int32{10, 11, 20, 30, 31, 32})
	tensors := []*tensor.Tensor{a, i32Tensor(bLengths), bValues}
	lengths := [][]int32{bLengths}
	limits := []int64{4, 6}

	c := dataset.NewCursor(s)
	batch1, err := c.ReadNextBatch(lengths, tensors, limits, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := i32Vals(batch1[0]), []int32{1, 2}; !cmp.Equal(got, want) {
		t.Fatalf("batch1 a mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
	if got, want := i32Vals(batch1[2]), []int32{10, 11}; !cmp.Equal(got, want) {
		t.Fatalf("batch1 b:values mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}

	batch2, err := c.ReadNextBatch(lengths, tensors, limits, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := i32Vals(batch2[0]), []int32{3, 4}; !cmp.Equal(got, want) {
		t.Fatalf("batch2 a mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
	if got, want := i32Vals(batch2[2]), []int32{20, 30, 31, 32}; !cmp.Equal(got, want) {
		t.Fatalf("batch2 b:values mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestCheckConsistency(t *testing.T) {
	s, err := dataset.NewSchema([]string{"a", "b:lengths"})
	if err != nil {
		t.Fatal(err)
	}
	lengths := [][]int32{{2, 0, 1, 3}}
	if err := dataset.CheckConsistency(s, lengths, []int64{4, 6}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dataset.CheckConsistency(s, lengths, []int64{4, 7}); err == nil {
		t.Error("expected consistency check to fail against a wrong limit")
	}
}

func TestAppend(t *testing.T) {
	dst := i32Tensor([]int32{1, 2})
	src := i32Tensor([]int32{3, 4, 5})
	if err := dataset.Append(dst, src); err != nil {
		t.Fatal(err)
	}
	if got, want := dst.Dim(0), int64(5); got != want {
		t.Fatalf("got dim0 %d, want %d", got, want)
	}
	if got, want := i32Vals(dst), []int32{1, 2, 3, 4, 5}; !cmp.Equal(got, want) {
		t.Fatalf("mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestAppendRejectsMismatchedTrailingDims(t *testing.T) {
	dst := tensor.New(tensor.Float32, []int64{2, 3}, device.CPUOption)
	src := tensor.New(tensor.Float32, []int64{1, 4}, device.CPUOption)
	if err := dataset.Append(dst, src); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestRandomBatchReaderReadsPermutationThenExhausts(t *testing.T) {
	s, err := dataset.NewSchema([]string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	a := i32Tensor([]int32{1, 2, 3, 4})
	offsetMatrix := [][]int64{{0}, {1}, {2}, {3}, {4}}
	permutation := []int64{3, 1, 0, 2}

	r, err := dataset.NewRandomBatchReader(permutation, offsetMatrix, 4, rate.NewLimiter(rate.Inf, 1))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	batch1, ok, err := r.ReadRandomBatch(ctx, s, []*tensor.Tensor{a}, 2)
	if err != nil || !ok {
		t.Fatalf("ReadRandomBatch: ok=%v err=%v", ok, err)
	}
	if got, want := i32Vals(batch1[0]), []int32{4, 2}; !cmp.Equal(got, want) {
		t.Fatalf("mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}

	batch2, ok, err := r.ReadRandomBatch(ctx, s, []*tensor.Tensor{a}, 2)
	if err != nil || !ok {
		t.Fatalf("ReadRandomBatch: ok=%v err=%v", ok, err)
	}
	if got, want := i32Vals(batch2[0]), []int32{1, 3}; !cmp.Equal(got, want) {
		t.Fatalf("mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}

	_, ok, err = r.ReadRandomBatch(ctx, s, []*tensor.Tensor{a}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected the permutation to be exhausted")
	}
}
