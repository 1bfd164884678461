package plan_test

import (
	"context"
	"sync"
	"testing"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/plan"
)

var boolMeta = &blob.TypeMeta{Name: "bool"}

type fakeRunner struct {
	mu    sync.Mutex
	blobs map[string]*blob.Blob
	runs  map[string]int
	onRun func(name string, count int) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{blobs: map[string]*blob.Blob{}, runs: map[string]int{}}
}

func (r *fakeRunner) RunNet(ctx context.Context, name string) error {
	r.mu.Lock()
	r.runs[name]++
	count := r.runs[name]
	r.mu.Unlock()
	if r.onRun != nil {
		return r.onRun(name, count)
	}
	return nil
}

func (r *fakeRunner) GetBlob(name string) (*blob.Blob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[name]
	return b, ok
}

func (r *fakeRunner) setBool(name string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[name]
	if !ok {
		b = blob.New()
		r.blobs[name] = b
	}
	b.Set(boolMeta, v)
}

func TestNumIterExact(t *testing.T) {
	r := newFakeRunner()
	def := plan.Def{Steps: []*plan.Step{{Name: "s", Networks: []string{"net"}, NumIter: 5}}}
	if err := plan.Run(context.Background(), r, def, nil); err != nil {
		t.Fatal(err)
	}
	if r.runs["net"] != 5 {
		t.Fatalf("got %d runs, want 5", r.runs["net"])
	}
}

func TestShouldStopBlobInitiallyTrueRunsZero(t *testing.T) {
	r := newFakeRunner()
	r.setBool("stop", true)
	def := plan.Def{Steps: []*plan.Step{{Name: "s", Networks: []string{"net"}, ShouldStopBlob: "stop"}}}
	if err := plan.Run(context.Background(), r, def, nil); err != nil {
		t.Fatal(err)
	}
	if r.runs["net"] != 0 {
		t.Fatalf("got %d runs, want 0 (should-stop already true before the first iteration)", r.runs["net"])
	}
}

func TestShouldStopBlobStopsEarly(t *testing.T) {
	r := newFakeRunner()
	r.onRun = func(name string, count int) error {
		if count == 5 {
			r.setBool("stop", true)
		}
		return nil
	}
	def := plan.Def{Steps: []*plan.Step{{Name: "s", Networks: []string{"net"}, NumIter: 100, ShouldStopBlob: "stop"}}}
	if err := plan.Run(context.Background(), r, def, nil); err != nil {
		t.Fatal(err)
	}
	if r.runs["net"] != 5 {
		t.Fatalf("got %d runs, want exactly 5", r.runs["net"])
	}
}

func TestConcurrentSubstepsOneFails(t *testing.T) {
	r := newFakeRunner()
	r.onRun = func(name string, count int) error {
		if name == "b" && count == 3 {
			return context.DeadlineExceeded
		}
		return nil
	}
	def := plan.Def{Steps: []*plan.Step{{
		Name:       "concurrent",
		Concurrent: true,
		Substeps: []*plan.Step{
			{Name: "sa", Networks: []string{"a"}, NumIter: 10},
			{Name: "sb", Networks: []string{"b"}, NumIter: 10},
		},
	}}}
	if err := plan.Run(context.Background(), r, def, nil); err == nil {
		t.Error("expected step failure")
	}
}

func TestSequentialSubstepsRunInOrder(t *testing.T) {
	r := newFakeRunner()
	var order []string
	var mu sync.Mutex
	r.onRun = func(name string, count int) error {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		return nil
	}
	def := plan.Def{Steps: []*plan.Step{{
		Name: "seq",
		Substeps: []*plan.Step{
			{Name: "s1", Networks: []string{"a"}, NumIter: 1},
			{Name: "s2", Networks: []string{"b"}, NumIter: 1},
		},
	}}}
	if err := plan.Run(context.Background(), r, def, nil); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("got order %v, want [a b]", order)
	}
}

func TestSequentialSubstepsStopAfterFirst(t *testing.T) {
	r := newFakeRunner()
	var order []string
	var mu sync.Mutex
	r.onRun = func(name string, count int) error {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		if name == "a" {
			r.setBool("stop", true)
		}
		return nil
	}
	def := plan.Def{Steps: []*plan.Step{{
		Name:           "seq",
		ShouldStopBlob: "stop",
		Substeps: []*plan.Step{
			{Name: "s1", Networks: []string{"a"}, NumIter: 1},
			{Name: "s2", Networks: []string{"b"}, NumIter: 1},
		},
	}}}
	if err := plan.Run(context.Background(), r, def, nil); err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("got order %v, want [a] (s2 must not run once s1 flips should_stop_blob)", order)
	}
}

func TestSubstepsAndNetworksMutuallyExclusive(t *testing.T) {
	r := newFakeRunner()
	def := plan.Def{Steps: []*plan.Step{{
		Name:     "bad",
		Networks: []string{"a"},
		Substeps: []*plan.Step{{Name: "s"}},
	}}}
	if err := plan.Run(context.Background(), r, def, nil); err == nil {
		t.Error("expected error for a step with both substeps and networks")
	}
}
