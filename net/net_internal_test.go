package net

import (
	"context"
	"testing"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
)

// noopKernel satisfies Kernel with a body that does nothing, letting
// these tests build real Nets around the chain/event bookkeeping
// without caring about operator semantics.
type noopKernel struct{}

func (noopKernel) Run(context.Context) error { return nil }

func buildDeviceNet(t *testing.T, ops []OperatorDef) *Net {
	t.Helper()
	kernels := registry.New[KernelFactory]()
	schemas := registry.New[*schema.Schema]()
	seen := map[string]bool{}
	for _, op := range ops {
		key := registry.Keyed{Name: op.Type, Device: op.Device.Kind.String()}.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		s := (&schema.Schema{Name: op.Type}).NumInputsRange(0, -1)
		s.NumOutputsRange(0, -1)
		if err := schemas.Register(op.Type, s); err != nil {
			t.Fatal(err)
		}
		factory := func(OperatorDef, []*blob.Blob, []*blob.Blob) (Kernel, error) {
			return noopKernel{}, nil
		}
		if err := kernels.Register(key, factory); err != nil {
			t.Fatal(err)
		}
	}
	ws := &fakeBlobStore{blobs: map[string]*blob.Blob{"x": blob.New()}}
	def := NetDef{Name: "n", Ops: ops, ExternalInputs: []string{"x"}, Type: AsyncDAG, Device: device.CPUOption}
	n, err := Build(def, ws, kernels, schemas, nil)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

type fakeBlobStore struct {
	blobs map[string]*blob.Blob
}

func (f *fakeBlobStore) CreateBlob(name string) *blob.Blob {
	if b, ok := f.blobs[name]; ok {
		return b
	}
	b := blob.New()
	f.blobs[name] = b
	return b
}

func (f *fakeBlobStore) GetBlob(name string) (*blob.Blob, bool) {
	b, ok := f.blobs[name]
	return b, ok
}

// TestInteriorNodeCrossDeviceChildGetsEvent covers the case flagged in
// review: X (GPU0) extends into chain [X, Y] via its same-device child
// Y, while X's other, cross-device child Z (GPU1) does not disqualify
// the extension per chain condition (iv) — X's sole same-device child
// is Y, so it still has exactly one same-device child. Z's chain must
// still get a real event to wait on, keyed by X's chain rather than
// the chain's tail node Y.
func TestInteriorNodeCrossDeviceChildGetsEvent(t *testing.T) {
	gpu0 := device.Option{Kind: device.GPU, Index: 0}
	gpu1 := device.Option{Kind: device.GPU, Index: 1}
	n := buildDeviceNet(t, []OperatorDef{
		{Type: "X", Inputs: []string{"x"}, Outputs: []string{"x_out"}, Device: gpu0},
		{Type: "Y", Inputs: []string{"x_out"}, Outputs: []string{"y_out"}, Device: gpu0},
		{Type: "Z", Inputs: []string{"x_out"}, Outputs: []string{"z_out"}, Device: gpu1},
	})

	var xChain *Chain
	for _, c := range n.chains {
		if len(c.Nodes) == 2 {
			xChain = c
		}
	}
	if xChain == nil {
		t.Fatalf("expected X and Y to form a two-node chain, got chains %+v", n.chains)
	}
	if _, ok := n.events[xChain.ID]; !ok {
		t.Fatalf("expected an event allocated for X's chain (interior cross-device producer), events=%v", n.events)
	}

	if err := n.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}

// TestRunChainInvalidSyncOnMissingEvent exercises the defensive
// InvalidSync path directly: if a non-CPU chain's event is removed out
// from under it, a cross-device consumer must fail loudly instead of
// silently racing ahead with an empty wait set.
func TestRunChainInvalidSyncOnMissingEvent(t *testing.T) {
	gpu0 := device.Option{Kind: device.GPU, Index: 0}
	gpu1 := device.Option{Kind: device.GPU, Index: 1}
	n := buildDeviceNet(t, []OperatorDef{
		{Type: "X", Inputs: []string{"x"}, Outputs: []string{"x_out"}, Device: gpu0},
		{Type: "Z", Inputs: []string{"x_out"}, Outputs: []string{"z_out"}, Device: gpu1},
	})

	var xChain, zChain *Chain
	for _, c := range n.chains {
		if c.Device.Kind == device.GPU && c.Device.Index == 0 {
			xChain = c
		}
		if c.Device.Kind == device.GPU && c.Device.Index == 1 {
			zChain = c
		}
	}
	if xChain == nil || zChain == nil {
		t.Fatalf("expected one chain per device, got %+v", n.chains)
	}
	delete(n.events, xChain.ID)

	err := n.runChain(context.Background(), zChain)
	if err == nil {
		t.Fatal("expected InvalidSync error, got nil")
	}
}
