// Command netrun is the reference CLI runner: it loads a plan
// description from a YAML file and runs it against a fresh
// workspace, mirroring the source's cmd/reflow/main.go +
// tool/runflags.go split between flag definitions and validation.
package main

import (
	"github.com/netcore-run/netcore/errors"
	"github.com/spf13/pflag"
)

// Flags holds netrun's command-line surface: only --plan is required
// by spec Sec.6; --log_level extends it the way a real
// reference runner needs to be independently useful without a
// numeric-kernel-bearing plan file to demonstrate control flow alone.
type Flags struct {
	Plan     string
	LogLevel string
}

// Register binds f's fields to fs, in the style of
// CommonRunFlags.Flags(*flag.FlagSet).
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Plan, "plan", "", "path to a plan description file (YAML)")
	fs.StringVar(&f.LogLevel, "log_level", "info", "one of off, error, info, debug")
}

// Err validates the parsed flags, in the style of
// CommonRunFlags.Err().
func (f *Flags) Err() error {
	if f.Plan == "" {
		return errors.E("netrun.Flags.Err", errors.Invalid, errors.New("--plan is required"))
	}
	switch f.LogLevel {
	case "off", "error", "info", "debug":
	default:
		return errors.E("netrun.Flags.Err", errors.Invalid,
			errors.New("--log_level must be one of off, error, info, debug"))
	}
	return nil
}
