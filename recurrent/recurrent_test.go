package recurrent_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/recurrent"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
	"github.com/netcore-run/netcore/tensor"
	"github.com/netcore-run/netcore/workspace"
)

// tensorMeta matches recurrent's unexported TypeMeta by name: blob
// type identity is derived from TypeMeta.Name, so a second, locally
// built TypeMeta with the same name interoperates with values the
// package under test stored.
var tensorMeta = &blob.TypeMeta{Name: "tensor"}

func float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
}

func putFloat32At(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:i*4+4], math.Float32bits(v))
}

// addStepKernel computes h_cur = h_prev + x_t elementwise, standing in
// for a real recurrent cell's forward computation.
type addStepKernel struct {
	inputs, outputs []*blob.Blob
}

func (k *addStepKernel) Run(ctx context.Context) error {
	hv, err := k.inputs[0].Get(tensorMeta)
	if err != nil {
		return err
	}
	xv, err := k.inputs[1].Get(tensorMeta)
	if err != nil {
		return err
	}
	h := hv.(*tensor.Tensor)
	x := xv.(*tensor.Tensor)
	// Write through the tensor already bound to the output (a link view
	// into the unrolled state) so the result lands in the parent's state.
	var out *tensor.Tensor
	if ov, err := k.outputs[0].Get(tensorMeta); err == nil {
		out = ov.(*tensor.Tensor)
	} else {
		out = tensor.New(tensor.Float32, h.Shape(), h.Device())
		k.outputs[0].Set(tensorMeta, out)
	}
	hb, xb, ob := h.Bytes(), x.Bytes(), out.Bytes()
	for i := 0; i < len(ob)/4; i++ {
		putFloat32At(ob, i, float32At(hb, i)+float32At(xb, i))
	}
	return nil
}

func registries(t *testing.T) workspace.Registries {
	t.Helper()
	kernels := registry.New[net.KernelFactory]()
	schemas := registry.New[*schema.Schema]()
	s := (&schema.Schema{Name: "AddStep"}).NumInputs(2)
	s.NumOutputs(1)
	if err := schemas.Register("AddStep", s); err != nil {
		t.Fatal(err)
	}
	factory := func(def net.OperatorDef, inputs, outputs []*blob.Blob) (net.Kernel, error) {
		return &addStepKernel{inputs: inputs, outputs: outputs}, nil
	}
	if err := kernels.Register(registry.Keyed{Name: "AddStep", Device: "cpu"}.String(), factory); err != nil {
		t.Fatal(err)
	}
	return workspace.Registries{Kernels: kernels, Schemas: schemas}
}

func setTensor(ws *workspace.Workspace, name string, t *tensor.Tensor) {
	ws.CreateBlob(name).Set(tensorMeta, t)
}

func getTensor(t *testing.T, ws *workspace.Workspace, name string) *tensor.Tensor {
	t.Helper()
	b, ok := ws.GetBlob(name)
	if !ok {
		t.Fatalf("blob %q not found", name)
	}
	v, err := b.Get(tensorMeta)
	if err != nil {
		t.Fatal(err)
	}
	return v.(*tensor.Tensor)
}

// TestForwardAccumulatesAcrossTimesteps runs a 3-step unroll of
// h_t = h_{t-1} + x_t starting from h0=0 with x=[1,2,3], and checks
// the state tensor holds the running sums [0,1,3,6] and the final
// alias exposes only the last timestep.
func TestForwardAccumulatesAcrossTimesteps(t *testing.T) {
	parent := workspace.New(nil, nil)
	seq := tensor.New(tensor.Float32, []int64{3, 1, 1}, device.CPUOption)
	sb := seq.Bytes()
	putFloat32At(sb, 0, 1)
	putFloat32At(sb, 1, 2)
	putFloat32At(sb, 2, 3)
	setTensor(parent, "seq", seq)

	h0 := tensor.New(tensor.Float32, []int64{1, 1, 1}, device.CPUOption)
	setTensor(parent, "h0", h0)

	stepNet := net.NetDef{
		Name: "cell",
		Ops: []net.OperatorDef{
			{Type: "AddStep", Inputs: []string{"h_prev", "x_t"}, Outputs: []string{"h_cur"}},
		},
		ExternalInputs: []string{"h_prev", "x_t"},
		Type:           net.Simple,
	}

	cfg := recurrent.Config{
		StepNet: stepNet,
		Regs:    registries(t),
		RecurrentInputs: []recurrent.RecurrentInput{
			{StateName: "state", InitialName: "h0", Prefix: 1, HiddenSize: 1},
		},
		Links: []recurrent.Link{
			{Internal: "x_t", External: "seq", Offset: 0, Window: 1},
			{Internal: "h_prev", External: "state", Offset: 0, Window: 1},
			{Internal: "h_cur", External: "state", Offset: 1, Window: 1},
		},
		Aliases: []recurrent.OffsetAlias{
			{Src: "state", Dst: "last_h", Offset: -1},
		},
		SequenceLength: 3,
		BatchSize:      1,
	}

	u := recurrent.New(cfg, parent)
	if _, err := u.Forward(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	state := getTensor(t, parent, "state")
	if got, want := state.Dim(0), int64(4); got != want {
		t.Fatalf("state dim0 = %d, want %d", got, want)
	}
	want := []float32{0, 1, 3, 6}
	sbuf := state.Bytes()
	for i, w := range want {
		if got := float32At(sbuf, i); got != w {
			t.Fatalf("state[%d] = %v, want %v", i, got, w)
		}
	}

	last := getTensor(t, parent, "last_h")
	if got, want := last.Dim(0), int64(1); got != want {
		t.Fatalf("last_h dim0 = %d, want %d", got, want)
	}
	if got, want := float32At(last.Bytes(), 0), float32(6); got != want {
		t.Fatalf("last_h = %v, want %v", got, want)
	}
}

func TestForwardMissingExternalLinkFails(t *testing.T) {
	parent := workspace.New(nil, nil)
	h0 := tensor.New(tensor.Float32, []int64{1, 1, 1}, device.CPUOption)
	setTensor(parent, "h0", h0)

	cfg := recurrent.Config{
		StepNet: net.NetDef{Name: "cell", Type: net.Simple},
		Regs:    registries(t),
		RecurrentInputs: []recurrent.RecurrentInput{
			{StateName: "state", InitialName: "h0", Prefix: 1, HiddenSize: 1},
		},
		Links: []recurrent.Link{
			{Internal: "x_t", External: "seq", Offset: 0, Window: 1},
		},
		SequenceLength: 2,
		BatchSize:      1,
	}
	u := recurrent.New(cfg, parent)
	if _, err := u.Forward(context.Background(), false); err == nil {
		t.Error("expected an error binding a link to a nonexistent external blob")
	}
}

func TestBackwardAccumulatesParamGradientAcrossTimesteps(t *testing.T) {
	parent := workspace.New(nil, nil)
	seq := tensor.New(tensor.Float32, []int64{3, 1, 1}, device.CPUOption)
	setTensor(parent, "seq", seq)
	h0 := tensor.New(tensor.Float32, []int64{1, 1, 1}, device.CPUOption)
	setTensor(parent, "h0", h0)

	stepNet := net.NetDef{
		Name:           "cell",
		Ops:            []net.OperatorDef{{Type: "AddStep", Inputs: []string{"h_prev", "x_t"}, Outputs: []string{"h_cur"}}},
		ExternalInputs: []string{"h_prev", "x_t"},
		Type:           net.Simple,
	}
	cfg := recurrent.Config{
		StepNet: stepNet,
		Regs:    registries(t),
		RecurrentInputs: []recurrent.RecurrentInput{
			{StateName: "state", InitialName: "h0", Prefix: 1, HiddenSize: 1},
		},
		Links: []recurrent.Link{
			{Internal: "x_t", External: "seq", Offset: 0, Window: 1},
			{Internal: "h_prev", External: "state", Offset: 0, Window: 1},
			{Internal: "h_cur", External: "state", Offset: 1, Window: 1},
		},
		SequenceLength: 3,
		BatchSize:      1,
	}
	u := recurrent.New(cfg, parent)
	perTimestep, err := u.Forward(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(perTimestep) != 3 {
		t.Fatalf("got %d per-timestep workspaces, want 3", len(perTimestep))
	}

	// Each timestep's sub-workspace independently reports a unit
	// gradient for "w", as a real gradient step-net would after
	// computing a local partial derivative.
	for _, sub := range perTimestep {
		g := tensor.New(tensor.Float32, []int64{1, 1, 1}, device.CPUOption)
		putFloat32At(g.Bytes(), 0, 1)
		setTensor(sub, "w_grad", g)
	}

	gcfg := recurrent.GradientConfig{
		BackwardStepNet: net.NetDef{Name: "cell_grad", Type: net.Simple},
		Regs:            registries(t),
		Params:          []string{"w"},
	}
	if err := u.Backward(context.Background(), perTimestep, gcfg); err != nil {
		t.Fatal(err)
	}

	acc := getTensor(t, parent, "w_grad")
	if got, want := float32At(acc.Bytes(), 0), float32(3); got != want {
		t.Fatalf("accumulated w_grad = %v, want %v", got, want)
	}
}
