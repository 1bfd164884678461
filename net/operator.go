package net

import (
	"context"

	"github.com/netcore-run/netcore/blob"
)

// Operator is a configured instance of a kernel bound to a set of
// input/output blobs in a workspace. Its handles into the workspace's
// blob table are non-owning, per the design note breaking the
// Net/Operator/Workspace ownership cycle.
type Operator struct {
	Def     OperatorDef
	Kernel  Kernel
	Inputs  []*blob.Blob
	Outputs []*blob.Blob
}

// Run invokes the operator's kernel synchronously, returning an error
// on failure (Caffe2's boolean false return is modeled as a non-nil
// error throughout this package).
func (op *Operator) Run(ctx context.Context) error {
	return op.Kernel.Run(ctx)
}
