package launcher

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/wagiedev/execctl-go/internal/errors"
)

// Connector names.
const (
	ConnectorLaunch = "exec.launch"
	ConnectorListen = "tcp.listen"
)

// Connector argument names shared by the built-in connectors.
const (
	ArgMain    = "main"
	ArgOptions = "options"
	ArgAddress = "address"
	ArgTimeout = "timeout"
)

// Argument describes one argument a connector accepts.
type Argument struct {
	Name        string
	Description string
	Default     string
	Mandatory   bool
}

// Connector starts a worker and connects its debug channel.
type Connector interface {
	// Name returns the registry name of the connector.
	Name() string
	// Arguments returns the arguments the connector declares.
	Arguments() []Argument
	// Connect starts the worker described by spawn using the merged args.
	Connect(ctx context.Context, spawn *Spawn, args map[string]string) (*Result, error)
}

// Registry holds the connectors available to one launcher.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates a registry holding the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}

	for _, c := range connectors {
		r.Register(c)
	}

	return r
}

// Register adds c, replacing any connector with the same name.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors[c.Name()] = c
}

// Lookup returns the connector registered under name.
func (r *Registry) Lookup(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrConnectorNotFound, name)
	}

	return c, nil
}

// Names returns the registered connector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.connectors))
}

// MergeArgs resolves the argument values for a connector.
//
// Values are layered as declared defaults, then derived values, then caller
// values; fixed values always win. Caller names the connector does not
// declare and mandatory arguments left empty are configuration errors.
func MergeArgs(declared []Argument, fixed, derived, caller map[string]string) (map[string]string, error) {
	known := make(map[string]Argument, len(declared))
	merged := make(map[string]string, len(declared))

	for _, arg := range declared {
		known[arg.Name] = arg
		merged[arg.Name] = arg.Default
	}

	for _, name := range slices.Sorted(maps.Keys(caller)) {
		if _, ok := known[name]; !ok {
			return nil, &errors.ConfigError{
				Field: "connector_args." + name,
				Err:   errors.ErrIllegalArgument,
			}
		}
	}

	for _, layer := range []map[string]string{derived, caller, fixed} {
		for name, value := range layer {
			if _, ok := known[name]; ok {
				merged[name] = value
			}
		}
	}

	for _, arg := range declared {
		if arg.Mandatory && merged[arg.Name] == "" {
			return nil, &errors.ConfigError{
				Field: "connector_args." + arg.Name,
				Err:   fmt.Errorf("mandatory argument %q has no value", arg.Name),
			}
		}
	}

	return merged, nil
}
