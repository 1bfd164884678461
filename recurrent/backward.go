package recurrent

import (
	"context"
	"math"

	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/tensor"
	"github.com/netcore-run/netcore/workspace"
)

// GradientConfig bundles the backward-pass counterpart of Config: the
// gradient step-net, the links it needs bound per timestep (typically
// including the link that feeds back external_grad's timestep slice),
// and the parameter blob names whose gradients accumulate across
// timesteps.
type GradientConfig struct {
	BackwardStepNet net.NetDef
	Regs            workspace.Registries
	BackwardLinks   []Link
	// Params names the parameter blobs (shared across every timestep's
	// sub-workspace) whose per-timestep gradient, written by the
	// step-net to Params[i]+"_grad", accumulates into a running total.
	Params []string
}

const gradSuffix = "_grad"

// Backward runs the gradient step-net once per timestep in reverse
// order (t=T-1..0) against the sub-workspaces Forward allocated,
// accumulating each parameter's per-timestep gradient into a running
// total. Once every timestep has contributed, each parameter's grad
// blob in the parent workspace is swapped to hold the accumulated
// total, mirroring the accumulator/gradient pointer swap
// AccumulateInputGradients performs at the end of
// RecurrentNetworkGradientOp::RunOnDevice.
func (u *Unroller) Backward(ctx context.Context, perTimestep []*workspace.Workspace, cfg GradientConfig) error {
	accumulators := make(map[string]*tensor.Tensor, len(cfg.Params))
	for t := len(perTimestep) - 1; t >= 0; t-- {
		sub := perTimestep[t]
		for _, link := range cfg.BackwardLinks {
			if err := applyLink(u.parent, sub, link, int64(t)); err != nil {
				return err
			}
		}
		setTimestep(sub, TimestepBlob, int64(t))
		if err := sub.RunNetOnce(ctx, cfg.BackwardStepNet, cfg.Regs); err != nil {
			return errors.E("recurrent.Backward", "timestep", err)
		}
		for _, p := range cfg.Params {
			g, err := getTensor(sub, p+gradSuffix)
			if err != nil {
				continue
			}
			acc, ok := accumulators[p]
			if !ok {
				acc = tensor.New(g.DType(), g.Shape(), g.Device())
				accumulators[p] = acc
			}
			if err := accumulateFloat32(acc, g); err != nil {
				return errors.E("recurrent.Backward", p, err)
			}
		}
	}
	for _, p := range cfg.Params {
		acc, ok := accumulators[p]
		if !ok {
			continue
		}
		setTensor(u.parent, p+gradSuffix, acc)
	}
	return nil
}

// accumulateFloat32 adds src's elements into dst in place. Both
// tensors must be Float32 with equal shape; other dtypes are outside
// the accumulation this backward pass performs.
func accumulateFloat32(dst, src *tensor.Tensor) error {
	if dst.DType() != tensor.Float32 || src.DType() != tensor.Float32 {
		return errors.E("recurrent.accumulateFloat32", errors.TypeMismatch,
			errors.New("gradient accumulation requires float32 tensors"))
	}
	if !tensor.SameTrailingDims(dst, src) || dst.Dim(0) != src.Dim(0) {
		return errors.E("recurrent.accumulateFloat32", errors.ShapeMismatch,
			errors.New("gradient shape does not match accumulator"))
	}
	db, sb := dst.Bytes(), src.Bytes()
	for i := 0; i+4 <= len(db); i += 4 {
		dv := math.Float32frombits(uint32(db[i]) | uint32(db[i+1])<<8 | uint32(db[i+2])<<16 | uint32(db[i+3])<<24)
		sv := math.Float32frombits(uint32(sb[i]) | uint32(sb[i+1])<<8 | uint32(sb[i+2])<<16 | uint32(sb[i+3])<<24)
		bits := math.Float32bits(dv + sv)
		db[i] = byte(bits)
		db[i+1] = byte(bits >> 8)
		db[i+2] = byte(bits >> 16)
		db[i+3] = byte(bits >> 24)
	}
	return nil
}
