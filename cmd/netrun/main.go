package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/netcore-run/netcore/log"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/schema"
	"github.com/netcore-run/netcore/workspace"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run parses args, loads and executes the named plan file, and
// returns the process exit code: 0 on success, non-zero on any
// failure, with a single-line reason written to stderr, matching
// spec Sec.6's CLI surface.
func run(args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("netrun", pflag.ContinueOnError)
	var flags Flags
	flags.Register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err := flags.Err(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	lg := log.New(stderrOutputter{stderr}, levelFor(flags.LogLevel))

	cfg, err := loadConfig(flags.Plan)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ws := workspace.New(nil, lg)
	regs := workspace.Registries{
		Kernels: registry.New[net.KernelFactory](),
		Schemas: registry.New[*schema.Schema](),
	}
	registerBuiltins(regs, lg)

	for _, nc := range cfg.Nets {
		if err := ws.CreateNetDef(nc.toNetDef(), regs); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	def, err := cfg.Plan.toDef()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := ws.RunPlan(context.Background(), def); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func levelFor(name string) log.Level {
	switch name {
	case "off":
		return log.OffLevel
	case "error":
		return log.ErrorLevel
	case "debug":
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}

// stderrOutputter adapts an io.Writer to log.Outputter without
// pulling in the standard library's own log.Logger, matching the
// pack's preference for a purpose-built Outputter over a wrapped
// stdlib one.
type stderrOutputter struct {
	f io.Writer
}

func (s stderrOutputter) Output(calldepth int, msg string) error {
	_, err := fmt.Fprintln(s.f, msg)
	return err
}
