package net

import (
	"sort"

	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/digestutil"
	"github.com/willf/bitset"
)

// Chain is a maximal same-device operator sequence dispatched as one
// unit by the scheduler: an ordered, non-empty subsequence of DAG
// nodes satisfying the three conditions in the data model (same
// device, unique-child extension, no intra-chain cross-device sync).
type Chain struct {
	ID     int
	Nodes  []int // node indices, in execution order
	Device device.Option
}

// discoverChains performs the greedy forward pass described in
// component design 4.4: op i extends its sole parent's chain iff that
// parent has not already been extended by an earlier sibling, sits on
// the same device, and has no other same-device children; otherwise i
// starts a new chain.
func discoverChains(nodes []*node) []*Chain {
	chainOf := make([]int, len(nodes))
	var chains []*Chain
	extended := bitset.New(uint(len(nodes)))

	sameDeviceChildren := func(n *node) int {
		count := 0
		for c := range n.Children {
			if nodes[c].Op.Def.Device == n.Op.Def.Device {
				count++
			}
		}
		return count
	}

	for i, n := range nodes {
		parents := sortedKeys(n.Parents)
		extend := false
		var parent int
		if len(parents) == 1 {
			p := parents[0]
			pn := nodes[p]
			sameDevice := pn.Op.Def.Device == n.Op.Def.Device
			if !extended.Test(uint(p)) && sameDevice && sameDeviceChildren(pn) == 1 {
				extend = true
				parent = p
			}
		}
		if extend {
			cid := chainOf[parent]
			chains[cid].Nodes = append(chains[cid].Nodes, i)
			chainOf[i] = cid
			extended.Set(uint(parent))
			continue
		}
		cid := len(chains)
		chains = append(chains, &Chain{ID: cid, Nodes: []int{i}, Device: n.Op.Def.Device})
		chainOf[i] = cid
		n.ChainID = cid
	}
	for _, n := range nodes {
		n.ChainID = chainOf[n.Index]
	}
	return chains
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Tail returns the index of the chain's last node, the node whose
// completion may need to be observed by cross-device consumers.
func (c *Chain) Tail() int {
	return c.Nodes[len(c.Nodes)-1]
}

// CacheKey computes the chain's digest over the device it runs on
// followed by the operator type of each of its nodes, in order. Since
// kernels are registered per (type, device kind), these determine the
// kernel each operator resolves to.
func (c *Chain) CacheKey(nodes []*node) digestutil.Digest {
	parts := make([]string, 0, len(c.Nodes)+1)
	parts = append(parts, c.Device.String())
	for _, i := range c.Nodes {
		parts = append(parts, nodes[i].Op.Def.Type)
	}
	return digestutil.OfStrings(parts...)
}
