// Package workspace implements the named blob store with optional
// parent read-through described in the data model, and owns Net and
// Plan execution the way Caffe2's Workspace does (core/workspace.cc):
// create/replace nets with destroy-before-replace semantics, run a
// single net, run a one-shot NetDef, run a single operator once, and
// interpret a PlanDef.
package workspace

import (
	"context"
	"sync"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/log"
)

// Net is the minimal surface Workspace needs from a constructed net:
// Run executes it. The concrete type lives in package net; Workspace
// depends on this interface instead, breaking the
// Workspace-owns-Net-owns-Operator-holds-Workspace cycle called out in
// the design notes.
type Net interface {
	Run(ctx context.Context) error
}

// Workspace is a mapping name -> owned Blob, plus an optional parent
// for read-through lookup, and a mapping name -> owned Net.
type Workspace struct {
	mu     sync.RWMutex
	parent *Workspace
	blobs  map[string]*blob.Blob
	nets   map[string]Net
	log    *log.Logger
}

// New creates a workspace with the given optional parent. The parent
// must outlive the child.
func New(parent *Workspace, lg *log.Logger) *Workspace {
	return &Workspace{
		parent: parent,
		blobs:  make(map[string]*blob.Blob),
		nets:   make(map[string]Net),
		log:    lg,
	}
}

// CreateBlob is idempotent: it returns the existing local blob if
// present, otherwise creates and returns a fresh one. A lookup
// returning a value never traverses through a child, so CreateBlob
// never looks at the parent.
func (w *Workspace) CreateBlob(name string) *blob.Blob {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.blobs[name]; ok {
		if w.log != nil {
			w.log.Debugf("workspace: blob %q already exists, skipping", name)
		}
		return b
	}
	if w.log != nil {
		w.log.Debugf("workspace: creating blob %q", name)
	}
	b := blob.New()
	w.blobs[name] = b
	return b
}

// GetBlob searches the local map, then falls through to the parent if
// one is set and holds the blob. It returns ok=false if absent
// anywhere in the chain.
func (w *Workspace) GetBlob(name string) (*blob.Blob, bool) {
	w.mu.RLock()
	b, ok := w.blobs[name]
	parent := w.parent
	w.mu.RUnlock()
	if ok {
		return b, true
	}
	if parent != nil {
		return parent.GetBlob(name)
	}
	if w.log != nil {
		w.log.Debugf("workspace: blob %q not found", name)
	}
	return nil, false
}

// HasBlob reports whether name resolves to a blob locally or via the
// parent chain.
func (w *Workspace) HasBlob(name string) bool {
	_, ok := w.GetBlob(name)
	return ok
}

// LocalBlobs returns the names of blobs owned directly by w,
// excluding the parent.
func (w *Workspace) LocalBlobs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.blobs))
	for name := range w.blobs {
		names = append(names, name)
	}
	return names
}

// Blobs returns the union of w's local blob names with its parent's
// (recursively), local names taking precedence over shadowed parent
// names in the returned set semantics.
func (w *Workspace) Blobs() []string {
	seen := make(map[string]bool)
	for ws := w; ws != nil; ws = ws.parent {
		ws.mu.RLock()
		for name := range ws.blobs {
			seen[name] = true
		}
		ws.mu.RUnlock()
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

// CreateNet installs net under name with destroy-before-replace
// semantics: if a net by that name already exists, it is dropped from
// the map (releasing any exclusively-held resources it held) before
// the new one takes its place. Construction of the new net has
// already happened by the time this is called; callers are
// responsible for removing a partially built net on construction
// failure before ever calling CreateNet.
func (w *Workspace) CreateNet(name string, n Net) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.nets[name]; ok {
		if w.log != nil {
			w.log.Debugf("workspace: replacing net %q", name)
		}
		delete(w.nets, name)
	}
	w.nets[name] = n
}

// RemoveNet drops a net, used to clean up a partially built entry
// after a construction failure elsewhere in the caller.
func (w *Workspace) RemoveNet(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.nets, name)
}

// GetNet returns the net installed under name, if any.
func (w *Workspace) GetNet(name string) (Net, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.nets[name]
	return n, ok
}

// RunNet runs the previously installed net named name.
func (w *Workspace) RunNet(ctx context.Context, name string) error {
	n, ok := w.GetNet(name)
	if !ok {
		return errors.E("workspace.RunNet", name, errors.NotFound, errors.New("no such net"))
	}
	if err := n.Run(ctx); err != nil {
		return errors.E("workspace.RunNet", name, errors.StepFailure, err)
	}
	return nil
}
