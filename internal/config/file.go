package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk TOML form of Options.
type fileConfig struct {
	Strategy            string            `toml:"strategy"`
	Host                string            `toml:"host"`
	WorkerPath          string            `toml:"worker_path"`
	EntryPoint          string            `toml:"entry_point"`
	VMOptions           []string          `toml:"vm_options"`
	ConnectorArgs       map[string]string `toml:"connector_args"`
	Env                 map[string]string `toml:"env"`
	Cwd                 string            `toml:"cwd"`
	AcceptTimeout       string            `toml:"accept_timeout"`
	DebugRequestTimeout string            `toml:"debug_request_timeout"`
}

// LoadFile reads a TOML config file and overlays the keys it defines onto
// a copy of base. Keys absent from the file keep base's values.
func LoadFile(path string, base *Options) (*Options, error) {
	var raw fileConfig

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}

	opts := &Options{}
	if base != nil {
		*opts = *base
	}

	if meta.IsDefined("strategy") || meta.IsDefined("host") {
		name := raw.Strategy
		if !meta.IsDefined("strategy") && opts.Strategy != nil {
			name = opts.Strategy.Name()
		}

		strategy, err := ParseStrategy(name, strings.TrimSpace(raw.Host))
		if err != nil {
			return nil, fmt.Errorf("parse strategy: %w", err)
		}

		opts.Strategy = strategy
	}

	if meta.IsDefined("worker_path") {
		opts.WorkerPath = strings.TrimSpace(raw.WorkerPath)
	}

	if meta.IsDefined("entry_point") {
		opts.EntryPoint = strings.TrimSpace(raw.EntryPoint)
	}

	if meta.IsDefined("vm_options") {
		opts.VMOptions = raw.VMOptions
	}

	if meta.IsDefined("connector_args") {
		opts.ConnectorArgs = raw.ConnectorArgs
	}

	if meta.IsDefined("env") {
		opts.Env = raw.Env
	}

	if meta.IsDefined("cwd") {
		opts.Cwd = strings.TrimSpace(raw.Cwd)
	}

	if meta.IsDefined("accept_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.AcceptTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse accept_timeout: %w", err)
		}

		opts.AcceptTimeout = d
	}

	if meta.IsDefined("debug_request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DebugRequestTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse debug_request_timeout: %w", err)
		}

		opts.DebugRequestTimeout = d
	}

	return opts, nil
}
