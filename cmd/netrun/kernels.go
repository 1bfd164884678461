package main

import (
	"context"
	"math"
	"strconv"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/log"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
	"github.com/netcore-run/netcore/tensor"
	"github.com/netcore-run/netcore/workspace"
)

// tensorMeta identifies tensor.Tensor payloads to the built-in demo
// kernels, matching the identity blob.Blob values are stored under
// throughout net/workspace/recurrent.
var tensorMeta = &blob.TypeMeta{Name: "tensor"}

// constKernel writes a single float32 scalar, read from its "value"
// argument, to its one output. It exists so a plan file can be run
// end to end without a real numeric kernel library, matching the
// "reference CLI runner" framing of spec Sec.6 rather than the
// numeric-kernel Non-goal, which this does not attempt to satisfy.
type constKernel struct {
	value  float32
	output *blob.Blob
}

func (k *constKernel) Run(ctx context.Context) error {
	t := tensor.New(tensor.Float32, []int64{1}, device.CPUOption)
	bits := math.Float32bits(k.value)
	b := t.Bytes()
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
	k.output.Set(tensorMeta, t)
	return nil
}

// copyKernel copies its single input tensor's bytes into a
// freshly-sized output tensor.
type copyKernel struct {
	input  *blob.Blob
	output *blob.Blob
}

func (k *copyKernel) Run(ctx context.Context) error {
	v, err := k.input.Get(tensorMeta)
	if err != nil {
		return errors.E("netrun.copyKernel.Run", err)
	}
	src := v.(*tensor.Tensor)
	dst := tensor.New(src.DType(), src.Shape(), src.Device())
	copy(dst.Bytes(), src.Bytes())
	k.output.Set(tensorMeta, dst)
	return nil
}

// printKernel logs a summary of its input tensor (dtype, shape, device
// and storage size) at info level, standing in for a real reporting op
// in demo plans.
type printKernel struct {
	name  string
	input *blob.Blob
	lg    *log.Logger
}

func (k *printKernel) Run(ctx context.Context) error {
	v, err := k.input.Get(tensorMeta)
	if err != nil {
		return errors.E("netrun.printKernel.Run", err)
	}
	t := v.(*tensor.Tensor)
	if k.lg != nil {
		k.lg.Printf("netrun: %s = %s", k.name, t.String())
	}
	return nil
}

// registerBuiltins installs the demo kernel set (Const, Copy, Print)
// and their schemas into regs, all bound to the CPU device kind.
func registerBuiltins(regs workspace.Registries, lg *log.Logger) {
	mustRegisterSchema(regs.Schemas, (&schema.Schema{Name: "Const"}).NumInputs(0).NumOutputs(1))
	mustRegisterKernel(regs.Kernels, "Const", func(def net.OperatorDef, inputs, outputs []*blob.Blob) (net.Kernel, error) {
		val, err := strconv.ParseFloat(def.Args["value"], 32)
		if err != nil {
			return nil, errors.E("netrun.Const", errors.Invalid, err)
		}
		return &constKernel{value: float32(val), output: outputs[0]}, nil
	})

	mustRegisterSchema(regs.Schemas, (&schema.Schema{Name: "Copy"}).NumInputs(1).NumOutputs(1))
	mustRegisterKernel(regs.Kernels, "Copy", func(def net.OperatorDef, inputs, outputs []*blob.Blob) (net.Kernel, error) {
		return &copyKernel{input: inputs[0], output: outputs[0]}, nil
	})

	mustRegisterSchema(regs.Schemas, (&schema.Schema{Name: "Print"}).NumInputs(1).NumOutputs(0))
	mustRegisterKernel(regs.Kernels, "Print", func(def net.OperatorDef, inputs, outputs []*blob.Blob) (net.Kernel, error) {
		name := "?"
		if len(def.Inputs) > 0 {
			name = def.Inputs[0]
		}
		return &printKernel{name: name, input: inputs[0], lg: lg}, nil
	})
}

func mustRegisterSchema(schemas *registry.Registry[*schema.Schema], s *schema.Schema) {
	if err := schemas.Register(s.Name, s); err != nil {
		panic(err)
	}
}

func mustRegisterKernel(kernels *registry.Registry[net.KernelFactory], name string, factory net.KernelFactory) {
	if err := kernels.Register(registry.Keyed{Name: name, Device: device.CPU.String()}.String(), factory); err != nil {
		panic(err)
	}
}
