package net

import (
	"context"
	"runtime"
	"sync"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/log"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
	"golang.org/x/sync/errgroup"
)

// Net is a constructed DAG of operators sharing blobs, partitioned
// into chains, with an execution strategy. Workspace owns Nets by
// name; a Net owns its Operators and events, per the ownership
// design in DESIGN NOTES.
type Net struct {
	Def    NetDef
	nodes  []*node
	chains []*Chain
	// events maps a chain ID to its synchronization event. Only chains
	// with a consumer in another chain for any of their nodes (not only
	// the tail), and whose device is not CPU, allocate one. The event is
	// recorded once the chain's last operator completes and is waited
	// on by every other chain that consumes one of this chain's nodes,
	// regardless of which node in the chain the consumer reads.
	events map[int]*event
	log    *log.Logger
}

// Build constructs a Net from a NetDef: it binds each OperatorDef to a
// kernel via kernels, verifies each against schemas, resolves its
// input/output blobs against ws, builds the DAG, and discovers
// chains. Any failure returns without partially registering the net
// with any external owner (Workspace.CreateNet is responsible for the
// "remove the partially built entry" cleanup on top of this).
func Build(def NetDef, ws BlobStore, kernels *registry.Registry[KernelFactory], schemas *registry.Registry[*schema.Schema], lg *log.Logger) (*Net, error) {
	ops := make([]*Operator, len(def.Ops))
	for i, opDef := range def.Ops {
		if opDef.Device == (device.Option{}) {
			opDef.Device = def.Device
		}
		factory, ok := kernels.Create(registry.Keyed{Name: opDef.Type, Device: opDef.Device.Kind.String()}.String())
		if !ok {
			return nil, errors.E("net.Build", opDef.Type, errors.NotFound,
				errors.New("no kernel registered for this operator type and device"))
		}
		inputs := make([]*blob.Blob, len(opDef.Inputs))
		for j, name := range opDef.Inputs {
			b, ok := ws.GetBlob(name)
			if !ok {
				return nil, errors.E("net.Build", name, errors.NotFound,
					errors.New("input blob does not exist"))
			}
			inputs[j] = b
		}
		outputs := make([]*blob.Blob, len(opDef.Outputs))
		for j, name := range opDef.Outputs {
			outputs[j] = ws.CreateBlob(name)
		}
		kernel, err := factory(opDef, inputs, outputs)
		if err != nil {
			return nil, errors.E("net.Build", opDef.Type, err)
		}
		ops[i] = &Operator{Def: opDef, Kernel: kernel, Inputs: inputs, Outputs: outputs}
	}

	lookup := &schemaLookup{find: schemas.Create}
	if err := verifySchemas(ops, lookup); err != nil {
		return nil, err
	}

	nodes, err := buildDAG(def, ops)
	if err != nil {
		return nil, err
	}
	chains := discoverChains(nodes)

	n := &Net{Def: def, nodes: nodes, chains: chains, events: make(map[int]*event), log: lg}
	n.allocateEvents()
	return n, nil
}

// allocateEvents creates one event per chain that has a consumer in
// another chain, skipping CPU-device chains per the open question decision
// recorded in DESIGN.md. A chain condition (iv) allows a non-tail
// (interior) node to keep a cross-device child so long as its
// same-device sibling is the one that extends the chain — so every
// node in the chain, not only the tail, must be scanned for
// out-of-chain children.
func (n *Net) allocateEvents() {
	for _, c := range n.chains {
		if c.Device.Kind == device.CPU {
			continue
		}
		crossDevice := false
		for _, i := range c.Nodes {
			for child := range n.nodes[i].Children {
				if n.nodes[child].ChainID != c.ID {
					crossDevice = true
					break
				}
			}
			if crossDevice {
				break
			}
		}
		if crossDevice {
			n.events[c.ID] = newEvent()
		}
	}
}

// Run executes the net's chains via the async multi-device scheduler:
// a fixed worker pool (Def.NumWorkers, default CPU count) pulls
// chains from a dependency-ordered ready queue; each chain waits on
// its cross-device parent events before running its operators in
// order, then records its own tail event if allocated. Run returns
// only after every outstanding event has been host-synchronized.
func (n *Net) Run(ctx context.Context) error {
	for _, e := range n.events {
		e.reset()
	}

	numWorkers := n.Def.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	chainParents, chainChildren := n.chainGraph()
	remaining := make([]int, len(n.chains))
	for i := range remaining {
		remaining[i] = len(chainParents[i])
	}

	ready := make(chan int, len(n.chains))
	var mu sync.Mutex
	for i, r := range remaining {
		if r == 0 {
			ready <- i
		}
	}

	var gotFailure bool
	var firstErr error
	markFailure := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if !gotFailure {
			gotFailure = true
			firstErr = err
		}
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotFailure
	}

	var completed int
	var completedMu sync.Mutex
	total := len(n.chains)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			for {
				var cid int
				select {
				case c, ok := <-ready:
					if !ok {
						return nil
					}
					cid = c
				case <-gctx.Done():
					return nil
				}
				if !failed() {
					if err := n.runChain(gctx, n.chains[cid]); err != nil {
						markFailure(err)
					}
				}
				completedMu.Lock()
				completed++
				done := completed == total
				completedMu.Unlock()
				for _, child := range chainChildren[cid] {
					mu.Lock()
					remaining[child]--
					r := remaining[child]
					mu.Unlock()
					if r == 0 {
						ready <- child
					}
				}
				if done {
					close(ready)
					return nil
				}
			}
		})
	}
	_ = g.Wait()

	// Host synchronization: wait on every event that was recorded this
	// run, regardless of whether the net succeeded, so events remain
	// well-defined for the next Run() call.
	for _, e := range n.events {
		e.mu.Lock()
		outstanding := e.outstanding
		e.mu.Unlock()
		if outstanding {
			e.wait()
		}
	}

	if gotFailure {
		if n.log != nil {
			n.log.Errorf("net %s: %v", n.Def.Name, firstErr)
		}
		return errors.E("net.Run", n.Def.Name, errors.StepFailure, firstErr)
	}
	return nil
}

// chainGraph derives the chain-level dependency graph from the
// node-level DAG: chain A is a parent of chain B if any node in A is a
// parent of any node in B (excluding intra-chain edges).
func (n *Net) chainGraph() (parents, children [][]int) {
	parents = make([][]int, len(n.chains))
	children = make([][]int, len(n.chains))
	seen := make(map[[2]int]bool)
	for _, nd := range n.nodes {
		from := nd.ChainID
		for child := range nd.Children {
			to := n.nodes[child].ChainID
			if from == to || seen[[2]int{from, to}] {
				continue
			}
			seen[[2]int{from, to}] = true
			parents[to] = append(parents[to], from)
			children[from] = append(children[from], to)
		}
	}
	return
}

// runChain executes one chain: wait on every cross-chain parent's
// event, run each operator in program order, then record the chain's
// own event if one was allocated. Parents are resolved to their chain
// (via node.ChainID), not looked up by raw node index, since an
// interior node of a chain can itself be the cross-device producer a
// later chain waits on.
func (n *Net) runChain(ctx context.Context, c *Chain) error {
	var waitFor []*event
	seenChain := make(map[int]bool)
	for _, i := range c.Nodes {
		for p := range n.nodes[i].Parents {
			pc := n.nodes[p].ChainID
			if pc == c.ID || seenChain[pc] {
				continue
			}
			seenChain[pc] = true
			if e, ok := n.events[pc]; ok {
				waitFor = append(waitFor, e)
				continue
			}
			if n.chains[pc].Device.Kind != device.CPU {
				return errors.E("net.runChain", n.Def.Name, errors.InvalidSync,
					errors.New("cross-device parent chain has no recorded event"))
			}
		}
	}
	var s stream
	s.wait(waitFor...)

	for _, i := range c.Nodes {
		if err := n.nodes[i].Op.Run(ctx); err != nil {
			return errors.E("net.runChain", n.nodes[i].Op.Def.Type, err)
		}
	}

	if e, ok := n.events[c.ID]; ok {
		return e.record()
	}
	return nil
}
