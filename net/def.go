// Package net implements the operator/net abstraction: DAG
// construction from a declarative NetDef, chain discovery, and the
// asynchronous multi-device scheduler that dispatches chains to a
// worker pool with per-chain-tail synchronization events. The
// scheduler algorithm is ported from Caffe2's AsyncDAGNet
// (core/net_gpu.cc): wait on parent events before a chain's first
// enqueue, record one event at the chain tail, host-synchronize
// outstanding events at Run() exit.
package net

import (
	"context"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
)

// OperatorDef describes one configured operator instance within a
// NetDef: its kernel type name, the blob names it reads and writes,
// its argument map, and its device binding.
type OperatorDef struct {
	Type    string
	Inputs  []string
	Outputs []string
	Args    map[string]string
	Device  device.Option
}

// NetType selects the execution strategy for a NetDef, matching the
// four strategies named in the external-interfaces surface.
type NetType string

const (
	Simple    NetType = "simple"
	DAG       NetType = "dag"
	AsyncDAG  NetType = "async_dag"
	AsyncFlat NetType = "async_simple"
)

// NetDef is the declarative description of a net: a name, an ordered
// list of OperatorDefs, its external interface, execution strategy,
// worker count, and default device.
type NetDef struct {
	Name              string
	Ops               []OperatorDef
	ExternalInputs    []string
	ExternalOutputs   []string
	Type              NetType
	NumWorkers        int
	Device            device.Option
}

// Kernel is the boundary implementers satisfy to provide operator
// numeric behavior: constructed by a KernelFactory, bound to resolved
// input/output blobs, invoked once per net iteration.
type Kernel interface {
	// Run executes the operator synchronously against the blobs it was
	// bound to at construction time. It returns false via a nil error
	// with an internal failure state is not supported: Kernel
	// implementations report failure solely via a non-nil error, which
	// the scheduler treats exactly like Caffe2's boolean false return.
	Run(ctx context.Context) error
}

// KernelFactory constructs a Kernel from an OperatorDef and its
// resolved input/output blobs. inputs and outputs are positional,
// matching def.Inputs/def.Outputs.
type KernelFactory func(def OperatorDef, inputs, outputs []*blob.Blob) (Kernel, error)

// BlobStore is the minimal workspace surface the net package depends
// on, satisfied structurally by workspace.Workspace without an import
// cycle: Operators hold non-owning handles into the workspace's blob
// table, never the workspace itself.
type BlobStore interface {
	CreateBlob(name string) *blob.Blob
	GetBlob(name string) (*blob.Blob, bool)
}
