package net

import (
	"sort"

	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/schema"
)

// node is a DAG Node: an operator plus its parent/child edge sets and
// the chain it was ultimately assigned to.
type node struct {
	Index    int
	Op       *Operator
	Parents  map[int]bool
	Children map[int]bool
	ChainID  int
}

// buildDAG walks a NetDef's operators in declaration order and records
// producer/last-writer/WAR edges, exactly as described in the data
// model: an edge from the most recent producer of each consumed
// input, and edges from readers-since-last-write to a new writer.
//
// An operator whose output name equals one of its input names is
// treated as both a reader and a writer of that blob for edge
// computation, per the in-place RAW/WAW hazard policy decided for
// spec's second open question, provided the schema for its type opts
// in via Allow or Enforce; the schema check itself happens in
// verifySchemas, called separately by Build.
func buildDAG(def NetDef, ops []*Operator) ([]*node, error) {
	nodes := make([]*node, len(ops))
	for i, op := range ops {
		nodes[i] = &node{Index: i, Op: op, Parents: map[int]bool{}, Children: map[int]bool{}}
	}
	lastWriter := make(map[string]int)
	readers := make(map[string][]int)
	for _, name := range def.ExternalInputs {
		lastWriter[name] = -1
	}
	addEdge := func(from, to int) {
		if from < 0 || from == to {
			return
		}
		nodes[from].Children[to] = true
		nodes[to].Parents[from] = true
	}
	for i, op := range ops {
		for _, in := range op.Def.Inputs {
			if w, ok := lastWriter[in]; ok {
				addEdge(w, i)
			} else {
				return nil, errors.E("net.buildDAG", op.Def.Type, errors.InvalidNet,
					errors.New("input "+in+" has no producer and is not an external input"))
			}
			readers[in] = append(readers[in], i)
		}
		for _, out := range op.Def.Outputs {
			for _, r := range readers[out] {
				addEdge(r, i)
			}
			readers[out] = nil
			lastWriter[out] = i
		}
	}
	if err := detectCycle(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// detectCycle runs a Kahn's-algorithm topological sort over nodes and
// reports InvalidNet if any node is left unvisited, meaning a cycle
// exists. Edges built by buildDAG always point from a lower to a
// higher declaration index, so a cycle can only arise if the caller
// constructs the node graph by some other means; this check is kept
// as the construction-time guard the data model requires regardless.
func detectCycle(nodes []*node) error {
	indeg := make([]int, len(nodes))
	for _, n := range nodes {
		for c := range n.Children {
			indeg[c]++
		}
	}
	var queue []int
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		visited++
		children := make([]int, 0, len(nodes[i].Children))
		for c := range nodes[i].Children {
			children = append(children, c)
		}
		sort.Ints(children)
		for _, c := range children {
			indeg[c]--
			if indeg[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited != len(nodes) {
		return errors.E("net.detectCycle", errors.InvalidNet, errors.New("net contains a cycle"))
	}
	return nil
}

// verifySchemas checks every operator's def against its registered
// schema, honoring the in-place aliasing policy for edge computation:
// an aliased (input==output) pair is only legal when the schema
// allows or enforces it.
func verifySchemas(ops []*Operator, schemas *schemaLookup) error {
	for _, op := range ops {
		s, ok := schemas.lookup(op.Def.Type)
		if !ok {
			return errors.E("net.verifySchemas", op.Def.Type, errors.InvalidNet,
				errors.New("unknown operator type"))
		}
		if err := s.Verify(schema.Def{Inputs: op.Def.Inputs, Outputs: op.Def.Outputs}); err != nil {
			return err
		}
	}
	return nil
}

// schemaLookup is the minimal interface net.Build needs from a schema
// registry, to avoid importing registry.Registry's generic type
// directly into this file's signature.
type schemaLookup struct {
	find func(name string) (*schema.Schema, bool)
}

func (l *schemaLookup) lookup(name string) (*schema.Schema, bool) { return l.find(name) }
