package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestFlagsErr(t *testing.T) {
	for _, c := range []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "missing plan", args: nil, wantErr: true},
		{name: "valid defaults", args: []string{"--plan", "x.yaml"}, wantErr: false},
		{name: "bad log level", args: []string{"--plan", "x.yaml", "--log_level", "verbose"}, wantErr: true},
		{name: "explicit debug", args: []string{"--plan", "x.yaml", "--log_level", "debug"}, wantErr: false},
	} {
		t.Run(c.name, func(t *testing.T) {
			var f Flags
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			f.Register(fs)
			require.NoError(t, fs.Parse(c.args))
			err := f.Err()
			if c.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFlagsDefaults(t *testing.T) {
	var f Flags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"--plan", "p.yaml"}))
	require.Equal(t, "p.yaml", f.Plan)
	require.Equal(t, "info", f.LogLevel)
}
