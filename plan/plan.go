// Package plan implements the recursive ExecutionStep interpreter
// described in component design 4.7, ported near-verbatim from
// Caffe2's Workspace::ExecuteStepRecursive and its Reporter helper
// (core/workspace.cc): iteration control via num_iter xor
// should_stop_blob, a background reporter goroutine, sequential or
// concurrent substeps with first-error aggregation, and early-stop
// polling after each substep or network iteration.
package plan

import (
	"context"
	"sync"
	"time"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/log"
	"golang.org/x/sync/errgroup"
)

// Runner is the minimal workspace surface the plan engine depends on:
// running a named net, and reading blobs for should-stop polling.
// workspace.Workspace satisfies this structurally.
type Runner interface {
	RunNet(ctx context.Context, name string) error
	GetBlob(name string) (*blob.Blob, bool)
}

// boolMeta identifies a single-boolean-scalar blob, the payload type
// should_stop_blob and reporter-driven blobs are expected to hold.
var boolMeta = &blob.TypeMeta{Name: "bool"}

// Step is one node of the ExecutionStep tree.
type Step struct {
	// Name is used only for diagnostics.
	Name string
	// Networks names nets to run in sequence, once per iteration. Networks
	// and Substeps are mutually exclusive.
	Networks []string
	// Substeps are child steps, run sequentially unless Concurrent is set
	// and there is more than one.
	Substeps []*Step
	// Concurrent runs Substeps in parallel via a worker pool pulling from
	// a shared counter, mirroring the source's atomic<int> next_substep.
	Concurrent bool

	// NumIter bounds the iteration count; ignored if ShouldStopBlob is
	// set. Zero means "unset", defaulting to 1 exactly like the source's
	// has_num_iter() check.
	NumIter int
	// ShouldStopBlob, if non-empty, names a boolean-scalar blob polled
	// before and after each iteration in place of NumIter.
	ShouldStopBlob string
	// OnlyOnce, when ShouldStopBlob is set, overrides the continuation
	// predicate to run at most one iteration.
	OnlyOnce bool

	// ReportNet and ReportInterval, if both set, start a background
	// goroutine that runs ReportNet every interval until the step exits.
	ReportNet      string
	ReportInterval time.Duration
}

// Def is the top-level plan: a tree of Steps run in sequence.
type Def struct {
	Name  string
	Steps []*Step
}

// Run interprets def against ws: every top-level step runs in
// sequence; the first step failure aborts the remaining ones and is
// returned.
func Run(ctx context.Context, ws Runner, def Def, lg *log.Logger) error {
	for _, step := range def.Steps {
		if err := executeStep(ctx, ws, step, alwaysContinue, lg); err != nil {
			return errors.E("plan.Run", def.Name, err)
		}
	}
	return nil
}

func alwaysContinue(int) bool { return true }

// getShouldStop reads a boolean-scalar blob, treating a missing blob
// as false (matching Caffe2's getShouldStop, which tolerates an
// uninitialized blob). A present blob holding anything but a single
// bool is a ShapeMismatch.
func getShouldStop(ws Runner, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	b, ok := ws.GetBlob(name)
	if !ok {
		return false, nil
	}
	v, err := b.Get(boolMeta)
	if err != nil {
		return false, errors.E("plan.getShouldStop", name, errors.ShapeMismatch, err)
	}
	stop, ok := v.(bool)
	if !ok {
		return false, errors.E("plan.getShouldStop", name, errors.ShapeMismatch,
			errors.New("should_stop_blob does not hold a single bool"))
	}
	return stop, nil
}

// continuationTest builds the iteration predicate described in 4.7:
// continue(i) = !read_bool(should_stop_blob) when a should-stop blob is
// declared (only_once overriding to continue(i) = i==0), else
// continue(i) = i < num_iter_or_1. The blob is read fresh on every
// call, so a should_stop_blob that starts true stops the step before
// its first iteration, matching the boundary behavior in section 8.
func continuationTest(ws Runner, step *Step) func(i int) (bool, error) {
	if step.ShouldStopBlob != "" {
		if step.OnlyOnce {
			return func(i int) (bool, error) { return i == 0, nil }
		}
		return func(int) (bool, error) {
			stop, err := getShouldStop(ws, step.ShouldStopBlob)
			return !stop, err
		}
	}
	iterations := step.NumIter
	if iterations == 0 {
		iterations = 1
	}
	return func(i int) (bool, error) { return i < iterations, nil }
}

// executeStep is the recursive interpreter, mirroring
// ExecuteStepRecursive: it validates the substep/network exclusivity,
// starts a reporter if configured, then loops the iteration predicate
// running either substeps or networks each iteration, checking the
// should-stop blob after each.
func executeStep(ctx context.Context, ws Runner, step *Step, external func(int) bool, lg *log.Logger) error {
	if len(step.Substeps) > 0 && len(step.Networks) > 0 {
		return errors.E("plan.executeStep", step.Name, errors.InvalidNet,
			errors.New("a step may not have both substeps and networks"))
	}

	var stop func()
	if step.ReportNet != "" && step.ReportInterval > 0 {
		stop = startReporter(ctx, ws, step.ReportNet, step.ReportInterval, lg)
		defer stop()
	}

	netContinue := continuationTest(ws, step)
	shouldContinue := func(i int) (bool, error) {
		if !external(i) {
			return false, nil
		}
		return netContinue(i)
	}
	checkShouldStop := func() (bool, error) {
		return getShouldStop(ws, step.ShouldStopBlob)
	}

	if len(step.Substeps) > 0 {
		for i := 0; ; i++ {
			ok, err := shouldContinue(i)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if !step.Concurrent || len(step.Substeps) <= 1 {
				err = runSequentialSubsteps(ctx, ws, step.Substeps, step.ShouldStopBlob, external, lg)
			} else {
				err = runConcurrentSubsteps(ctx, ws, step.Substeps, external, lg)
			}
			if err != nil {
				return err
			}
			stop, serr := checkShouldStop()
			if serr != nil {
				return serr
			}
			if stop {
				break
			}
		}
		return nil
	}

	for i := 0; ; i++ {
		ok, err := shouldContinue(i)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for _, name := range step.Networks {
			if err := ws.RunNet(ctx, name); err != nil {
				return errors.E("plan.executeStep", step.Name, errors.StepFailure, err)
			}
		}
		stop, serr := checkShouldStop()
		if serr != nil {
			return serr
		}
		if stop {
			break
		}
	}
	return nil
}

// runSequentialSubsteps runs each substep in order, polling
// shouldStopBlob after every one and short-circuiting the remaining
// substeps in this group the instant it reads true — matching
// ExecuteStepRecursive's CHECK_SHOULD_STOP call inside the substep
// for-loop, which never lets a later sibling in the same parent
// iteration start once an earlier sibling has flipped the blob.
func runSequentialSubsteps(ctx context.Context, ws Runner, substeps []*Step, shouldStopBlob string, external func(int) bool, lg *log.Logger) error {
	for _, ss := range substeps {
		if err := executeStep(ctx, ws, ss, external, lg); err != nil {
			return err
		}
		stop, err := getShouldStop(ws, shouldStopBlob)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// runConcurrentSubsteps starts one worker per substep pulling from a
// shared counter, exactly like the source's atomic<int> next_substep;
// each failing substep's error is retained and, once every worker has
// exited, the one from the lowest substep index is returned, matching
// the "coalesce into Err(first) deterministically by worker id"
// re-architecture in the design notes.
func runConcurrentSubsteps(ctx context.Context, ws Runner, substeps []*Step, external func(int) bool, lg *log.Logger) error {
	var next int32
	var mu sync.Mutex
	var gotFailure bool
	errs := make([]error, len(substeps))

	substepContinue := func(i int) bool {
		mu.Lock()
		failed := gotFailure
		mu.Unlock()
		return !failed && external(i)
	}

	g, gctx := errgroup.WithContext(ctx)
	numWorkers := len(substeps)
	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			for {
				mu.Lock()
				idx := int(next)
				next++
				failed := gotFailure
				mu.Unlock()
				if failed || idx >= len(substeps) {
					return nil
				}
				if err := executeStep(gctx, ws, substeps[idx], substepContinue, lg); err != nil {
					mu.Lock()
					gotFailure = true
					errs[idx] = err
					mu.Unlock()
					if lg != nil {
						lg.Errorf("plan: substep %q failed: %v", substeps[idx].Name, err)
					}
					return nil
				}
			}
		})
	}
	_ = g.Wait()

	if gotFailure {
		var firstErr error
		for _, err := range errs {
			if err != nil {
				firstErr = err
				break
			}
		}
		return errors.E("plan.runConcurrentSubsteps", errors.WorkerException, firstErr)
	}
	return nil
}

// startReporter runs netName every interval in a background goroutine
// until the returned stop function is called, matching
// Reporter::start/~Reporter. A failed report-net run is logged, never
// fatal.
func startReporter(ctx context.Context, ws Runner, netName string, interval time.Duration, lg *log.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.RunNet(ctx, netName); err != nil && lg != nil {
					lg.Errorf("plan: report net %q failed: %v", netName, err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
