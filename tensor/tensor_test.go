package tensor_test

import (
	"testing"

	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/tensor"
)

func TestResizeNoReallocWithinCapacity(t *testing.T) {
	x := tensor.New(tensor.Float32, []int64{4}, device.CPUOption)
	orig := x.Bytes()
	x.Resize([]int64{2})
	if len(x.Bytes()) != 2*4 {
		t.Fatalf("got len %d, want 8", len(x.Bytes()))
	}
	// Same underlying array: growing back should not reallocate.
	x.Resize([]int64{4})
	if &x.Bytes()[0] != &orig[0] {
		t.Error("expected resize within capacity to avoid reallocation")
	}
}

func TestViewAliasesBytes(t *testing.T) {
	x := tensor.New(tensor.Int32, []int64{3, 2}, device.CPUOption)
	copy(x.Bytes(), []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0, 5, 0, 0, 0, 6, 0, 0, 0})
	v, err := x.View(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v.Dim(0), int64(2); got != want {
		t.Fatalf("got dim0 %d, want %d", got, want)
	}
	v.Bytes()[0] = 42
	if x.Bytes()[8] != 42 {
		t.Error("expected view to alias the source tensor's bytes")
	}
}

func TestViewOutOfBounds(t *testing.T) {
	x := tensor.New(tensor.Float32, []int64{2}, device.CPUOption)
	if _, err := x.View(1, 5); err == nil {
		t.Error("expected out-of-bounds view to fail")
	}
}

func TestSameTrailingDims(t *testing.T) {
	a := tensor.New(tensor.Float32, []int64{2, 3}, device.CPUOption)
	b := tensor.New(tensor.Float32, []int64{5, 3}, device.CPUOption)
	c := tensor.New(tensor.Float32, []int64{5, 4}, device.CPUOption)
	if !tensor.SameTrailingDims(a, b) {
		t.Error("expected matching trailing dims")
	}
	if tensor.SameTrailingDims(a, c) {
		t.Error("expected mismatched trailing dims")
	}
}
