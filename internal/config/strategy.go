package config

import (
	"fmt"
	"strings"
)

// Strategy selects how the worker process is started.
// Implementations: Launch, Listen.
type Strategy interface {
	// Name returns the strategy name used in logs and config files.
	Name() string
	strategy() // marker method
}

// Launch starts the worker directly under debug control. The debug handle
// is available as soon as the process has started.
type Launch struct{}

// Name implements Strategy.
func (Launch) Name() string { return "launch" }

func (Launch) strategy() {}

// Listen opens a listening debug endpoint, starts the worker as a plain
// subprocess with the endpoint address, and accepts the worker's inbound
// debug connection.
type Listen struct {
	// Host is the interface to listen on. Defaults to the loopback address.
	Host string
}

// Name implements Strategy.
func (Listen) Name() string { return "listen" }

func (Listen) strategy() {}

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(name, host string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "launch":
		return Launch{}, nil
	case "listen":
		return Listen{Host: host}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want launch or listen)", name)
	}
}
