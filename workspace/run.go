package workspace

import (
	"context"

	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
)

// Kernels and Schemas are the two registries every net.Build call
// needs; a Workspace holds a reference to each so that CreateNet,
// RunNetOnce, and RunOperatorOnce can construct nets without every
// caller threading them through.
type Registries struct {
	Kernels *registry.Registry[net.KernelFactory]
	Schemas *registry.Registry[*schema.Schema]
}

// CreateNetDef constructs a net from def and installs it under
// def.Name with destroy-before-replace semantics: any existing net by
// that name is removed before construction begins, not after it
// succeeds, so a resource the old net holds exclusively (a device
// stream, an open handle) is released in time to be reclaimed by the
// replacement rather than blocking it. On construction failure
// nothing is installed, matching "net construction failure removes
// the partially built entry and reports failure" — the old net is
// simply gone, same as if it had been explicitly removed.
func (w *Workspace) CreateNetDef(def net.NetDef, regs Registries) error {
	w.RemoveNet(def.Name)
	n, err := net.Build(def, w, regs.Kernels, regs.Schemas, w.log)
	if err != nil {
		return errors.E("workspace.CreateNetDef", def.Name, err)
	}
	w.CreateNet(def.Name, n)
	return nil
}

// RunNetOnce builds def as an anonymous net and runs it once without
// installing it in the workspace's net table.
func (w *Workspace) RunNetOnce(ctx context.Context, def net.NetDef, regs Registries) error {
	n, err := net.Build(def, w, regs.Kernels, regs.Schemas, w.log)
	if err != nil {
		return errors.E("workspace.RunNetOnce", def.Name, err)
	}
	return n.Run(ctx)
}

// RunOperatorOnce builds and runs a single OperatorDef as a
// one-operator net, the same construction RunNetOnce would produce
// for a NetDef containing only that operator.
func (w *Workspace) RunOperatorOnce(ctx context.Context, def net.OperatorDef, regs Registries) error {
	inputs := def.Inputs
	nd := net.NetDef{
		Name:           "operator_once",
		Ops:            []net.OperatorDef{def},
		ExternalInputs: inputs,
		Type:           net.Simple,
	}
	return w.RunNetOnce(ctx, nd, regs)
}

var _ net.BlobStore = (*Workspace)(nil)
