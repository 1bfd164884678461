package main

import (
	"io/ioutil"
	"time"

	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/net"
	"github.com/netcore-run/netcore/plan"
	"gopkg.in/yaml.v2"
)

// fileConfig is the on-disk plan description shape: a set of named
// nets and the plan tree that drives them, decoded with yaml.v2 the
// way the source's flag/config layer decodes YAML tool configs.
type fileConfig struct {
	Nets []netConfig `yaml:"nets"`
	Plan planConfig  `yaml:"plan"`
}

type netConfig struct {
	Name            string       `yaml:"name"`
	Type            string       `yaml:"type"`
	NumWorkers      int          `yaml:"num_workers"`
	Device          deviceConfig `yaml:"device"`
	Ops             []opConfig   `yaml:"ops"`
	ExternalInputs  []string     `yaml:"external_inputs"`
	ExternalOutputs []string     `yaml:"external_outputs"`
}

type opConfig struct {
	Type    string            `yaml:"type"`
	Inputs  []string          `yaml:"inputs"`
	Outputs []string          `yaml:"outputs"`
	Args    map[string]string `yaml:"args"`
	Device  deviceConfig      `yaml:"device"`
}

type deviceConfig struct {
	Kind  string `yaml:"kind"`
	Index int    `yaml:"index"`
}

func (d deviceConfig) toOption() device.Option {
	opt := device.CPUOption
	if d.Kind == "gpu" {
		opt.Kind = device.GPU
	}
	opt.Index = d.Index
	return opt
}

type planConfig struct {
	Name  string       `yaml:"name"`
	Steps []stepConfig `yaml:"steps"`
}

type stepConfig struct {
	Name           string       `yaml:"name"`
	Networks       []string     `yaml:"networks"`
	Substeps       []stepConfig `yaml:"substeps"`
	Concurrent     bool         `yaml:"concurrent"`
	NumIter        int          `yaml:"num_iter"`
	ShouldStopBlob string       `yaml:"should_stop_blob"`
	OnlyOnce       bool         `yaml:"only_once"`
	ReportNet      string       `yaml:"report_net"`
	ReportInterval string       `yaml:"report_interval"`
}

func loadConfig(path string) (fileConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fileConfig{}, errors.E("netrun.loadConfig", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, errors.E("netrun.loadConfig", path, errors.Invalid, err)
	}
	return cfg, nil
}

func (c netConfig) toNetDef() net.NetDef {
	ops := make([]net.OperatorDef, len(c.Ops))
	for i, o := range c.Ops {
		ops[i] = net.OperatorDef{
			Type:    o.Type,
			Inputs:  o.Inputs,
			Outputs: o.Outputs,
			Args:    o.Args,
			Device:  o.Device.toOption(),
		}
	}
	netType := net.Simple
	switch c.Type {
	case "dag":
		netType = net.DAG
	case "async_dag":
		netType = net.AsyncDAG
	case "async_simple":
		netType = net.AsyncFlat
	}
	return net.NetDef{
		Name:            c.Name,
		Ops:             ops,
		ExternalInputs:  c.ExternalInputs,
		ExternalOutputs: c.ExternalOutputs,
		Type:            netType,
		NumWorkers:      c.NumWorkers,
		Device:          c.Device.toOption(),
	}
}

func (c stepConfig) toStep() (*plan.Step, error) {
	substeps := make([]*plan.Step, len(c.Substeps))
	for i, ss := range c.Substeps {
		s, err := ss.toStep()
		if err != nil {
			return nil, err
		}
		substeps[i] = s
	}
	var interval time.Duration
	if c.ReportInterval != "" {
		d, err := time.ParseDuration(c.ReportInterval)
		if err != nil {
			return nil, errors.E("netrun.stepConfig.toStep", c.Name, errors.Invalid, err)
		}
		interval = d
	}
	return &plan.Step{
		Name:           c.Name,
		Networks:       c.Networks,
		Substeps:       substeps,
		Concurrent:     c.Concurrent,
		NumIter:        c.NumIter,
		ShouldStopBlob: c.ShouldStopBlob,
		OnlyOnce:       c.OnlyOnce,
		ReportNet:      c.ReportNet,
		ReportInterval: interval,
	}, nil
}

func (c planConfig) toDef() (plan.Def, error) {
	steps := make([]*plan.Step, len(c.Steps))
	for i, sc := range c.Steps {
		s, err := sc.toStep()
		if err != nil {
			return plan.Def{}, err
		}
		steps[i] = s
	}
	return plan.Def{Name: c.Name, Steps: steps}, nil
}
