// Package recurrent implements the time-unrolled sub-executor
// described in component design 4.9, ported from Caffe2's
// RecurrentNetworkOp/RecurrentNetworkGradientOp
// (operators/recurrent_network_op.h): per-timestep link views into a
// step-net's sub-workspace, recurrent-input state initialization,
// offset aliases over the unrolled state, and a backward pass that
// accumulates parameter gradients before swapping them with their
// accumulators.
package recurrent

import (
	"context"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/tensor"
	"github.com/netcore-run/netcore/workspace"
	"golang.org/x/sync/errgroup"
)

var tensorMeta = &blob.TypeMeta{Name: "tensor"}
var int64Meta = &blob.TypeMeta{Name: "int64"}

func getTensor(ws *workspace.Workspace, name string) (*tensor.Tensor, error) {
	b, ok := ws.GetBlob(name)
	if !ok {
		return nil, errors.E("recurrent.getTensor", name, errors.NotFound, errors.New("blob does not exist"))
	}
	v, err := b.Get(tensorMeta)
	if err != nil {
		return nil, errors.E("recurrent.getTensor", name, err)
	}
	return v.(*tensor.Tensor), nil
}

func setTensor(ws *workspace.Workspace, name string, t *tensor.Tensor) {
	ws.CreateBlob(name).Set(tensorMeta, t)
}

func setTimestep(ws *workspace.Workspace, name string, t int64) {
	ws.CreateBlob(name).Set(int64Meta, t)
}

// Link creates a view named Internal into External at slice
// [t+Offset, t+Offset+Window), per applyLink in the source.
type Link struct {
	Internal string
	External string
	Offset   int64
	Window   int64
}

// OffsetAlias makes Dst a view of Src starting at Offset (negative
// meaning "from end") for dim0(Src)-start timesteps, per applyOffsetAlias.
type OffsetAlias struct {
	Src    string
	Dst    string
	Offset int64
}

// Scratch is a per-step scratch tensor allocated once for the whole
// unroll, shape (T, B, SizePerStep).
type Scratch struct {
	Name        string
	SizePerStep int64
}

// RecurrentInput is a state tensor resized to (Prefix+T, B, HiddenSize)
// with its initial value copied into the prefix slice, per
// initializeRecurrentInput.
type RecurrentInput struct {
	StateName   string
	InitialName string
	Prefix      int64
	HiddenSize  int64
}

// TimestepBlob is the name of the scalar blob written with the current
// timestep index before each step-net invocation, matching the
// source's default "timestep" argument.
const TimestepBlob = "timestep"

// Config bundles everything a forward unroll needs.
type Config struct {
	StepNet         net.NetDef
	Regs            workspace.Registries
	RecurrentInputs []RecurrentInput
	Links           []Link
	Aliases         []OffsetAlias
	Scratches       []Scratch
	SequenceLength  int64
	BatchSize       int64
	// PoolSize bounds the forward-only sub-workspace cycling pool; <=0
	// defaults to 1 (no parallelism). Ignored when Forward is called
	// with backward=true, which always allocates one sub-workspace per
	// timestep.
	PoolSize int
}

// Unroller drives one forward (and optionally backward) unroll of a
// step-net over Config.SequenceLength timesteps against a parent
// workspace.
type Unroller struct {
	cfg    Config
	parent *workspace.Workspace
}

// New constructs an Unroller bound to parent, the workspace holding
// external inputs, recurrent-input initial values, and parameters.
func New(cfg Config, parent *workspace.Workspace) *Unroller {
	return &Unroller{cfg: cfg, parent: parent}
}

// Forward runs the forward unroll: initializes recurrent-input state
// and scratch tensors, then for t=0..T-1 applies this timestep's
// links, writes the timestep blob, and runs one invocation of the
// step-net, finally applying the offset aliases. When backward is
// true, one sub-workspace per timestep is allocated and returned
// (required for the backward pass); otherwise a small pool of
// Config.PoolSize workspaces is cycled to reduce allocations.
func (u *Unroller) Forward(ctx context.Context, backward bool) ([]*workspace.Workspace, error) {
	T := u.cfg.SequenceLength
	for _, ri := range u.cfg.RecurrentInputs {
		if err := initializeRecurrentInput(u.parent, ri, T); err != nil {
			return nil, err
		}
	}
	for _, sc := range u.cfg.Scratches {
		initializeScratch(u.parent, sc, T, u.cfg.BatchSize)
	}

	pool := u.cfg.PoolSize
	if pool <= 0 {
		pool = 1
	}

	var perTimestep []*workspace.Workspace
	var cyclePool []*workspace.Workspace
	if backward {
		perTimestep = make([]*workspace.Workspace, T)
	} else {
		// Pool members are mutually independent, so construction fans out
		// across an errgroup even though the forward loop below that
		// cycles through them must stay sequential: each timestep's state
		// link genuinely depends on the previous one's output.
		cyclePool = make([]*workspace.Workspace, pool)
		var g errgroup.Group
		for i := range cyclePool {
			i := i
			g.Go(func() error {
				cyclePool[i] = workspace.New(u.parent, nil)
				return nil
			})
		}
		_ = g.Wait()
	}

	for t := int64(0); t < T; t++ {
		var sub *workspace.Workspace
		if backward {
			sub = workspace.New(u.parent, nil)
			perTimestep[t] = sub
		} else {
			sub = cyclePool[t%int64(pool)]
		}
		for _, link := range u.cfg.Links {
			if err := applyLink(u.parent, sub, link, t); err != nil {
				return nil, err
			}
		}
		setTimestep(sub, TimestepBlob, t)
		if err := sub.RunNetOnce(ctx, u.cfg.StepNet, u.cfg.Regs); err != nil {
			return nil, errors.E("recurrent.Forward", "timestep", err)
		}
	}

	for _, alias := range u.cfg.Aliases {
		if err := applyOffsetAlias(u.parent, alias); err != nil {
			return nil, err
		}
	}
	return perTimestep, nil
}

func initializeRecurrentInput(ws *workspace.Workspace, ri RecurrentInput, T int64) error {
	init, err := getTensor(ws, ri.InitialName)
	if err != nil {
		return err
	}
	prefix := ri.Prefix
	if prefix == 0 {
		prefix = 1
	}
	state := tensor.New(init.DType(), []int64{T + prefix, init.Dim(1), ri.HiddenSize}, init.Device())
	view, err := state.View(0, prefix)
	if err != nil {
		return err
	}
	copy(view.Bytes(), init.Bytes())
	setTensor(ws, ri.StateName, state)
	return nil
}

func initializeScratch(ws *workspace.Workspace, sc Scratch, T, batch int64) {
	t := tensor.New(tensor.Float32, []int64{T, batch, sc.SizePerStep}, device.CPUOption)
	setTensor(ws, sc.Name, t)
}

// applyLink resolves link.External in parent, slices it at
// [t+offset, t+offset+window), and installs the resulting aliased view
// as link.Internal in sub. Links produce non-owning views: the source
// tensor must not be resized while any link view is outstanding.
func applyLink(parent, sub *workspace.Workspace, link Link, t int64) error {
	external, err := getTensor(parent, link.External)
	if err != nil {
		return errors.E("recurrent.applyLink", link.Internal, err)
	}
	view, err := external.View(t+link.Offset, link.Window)
	if err != nil {
		return errors.E("recurrent.applyLink", link.Internal, errors.ShapeMismatch, err)
	}
	setTensor(sub, link.Internal, view)
	return nil
}

// applyOffsetAlias makes alias.Dst a view of alias.Src's tail: negative
// Offset addresses from the end (offset -1 means "the last timestep").
// The alias must see a non-empty source tensor.
func applyOffsetAlias(ws *workspace.Workspace, alias OffsetAlias) error {
	src, err := getTensor(ws, alias.Src)
	if err != nil {
		return errors.E("recurrent.applyOffsetAlias", alias.Dst, err)
	}
	dim0 := src.Dim(0)
	start := alias.Offset
	if start < 0 {
		start = dim0 + start
	}
	if start < 0 || start > dim0 {
		return errors.E("recurrent.applyOffsetAlias", alias.Dst, errors.ShapeMismatch,
			errors.New("alias offset out of bounds"))
	}
	length := dim0 - start
	if length <= 0 {
		return errors.E("recurrent.applyOffsetAlias", alias.Dst, errors.ShapeMismatch,
			errors.New("alias source is empty"))
	}
	view, err := src.View(start, length)
	if err != nil {
		return err
	}
	setTensor(ws, alias.Dst, view)
	return nil
}
