package workspace

import (
	"context"

	"github.com/netcore-run/netcore/plan"
)

// RunPlan interprets def against w: the plan engine recursively runs
// def's steps, driving nets installed in w by name via RunNet.
func (w *Workspace) RunPlan(ctx context.Context, def plan.Def) error {
	return plan.Run(ctx, w, def, w.log)
}

var _ plan.Runner = (*Workspace)(nil)
