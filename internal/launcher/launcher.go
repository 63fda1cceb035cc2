package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/execctl-go/internal/config"
	"github.com/wagiedev/execctl-go/internal/debug"
	"github.com/wagiedev/execctl-go/internal/errors"
)

const (
	// maxLineSize is the maximum worker stderr line length.
	maxLineSize = 1024 * 1024

	// DebugAttachFlag is the worker flag carrying the debug transport.
	DebugAttachFlag = "-debug-attach"

	// exitGrace is how long a dropped debug connection waits for the
	// process exit before it is reported as a plain disconnect.
	exitGrace = 200 * time.Millisecond

	eventBuffer = 16
)

// Result is a started worker: its debug handle and its process.
type Result struct {
	VM      debug.VM
	Process Process
}

// Spawn describes the worker process a connector starts.
type Spawn struct {
	Log                 *slog.Logger
	Path                string
	Env                 []string
	Dir                 string
	Stderr              func(string)
	DebugRequestTimeout time.Duration
}

// command builds the worker command line:
// <options...> -debug-attach=<attach> <main...>.
func (s *Spawn) command(attach string, args map[string]string) *exec.Cmd {
	argv := strings.Fields(args[ArgOptions])
	argv = append(argv, DebugAttachFlag+"="+attach)
	argv = append(argv, strings.Fields(args[ArgMain])...)

	s.Log.Debug("Built worker command line", "path", s.Path, "args", argv)

	//nolint:gosec // G204: worker path and args come from launcher configuration
	cmd := exec.Command(s.Path, argv...)
	cmd.Env = s.Env
	cmd.Dir = s.Dir

	return cmd
}

// Launcher starts workers through its registry of connectors.
type Launcher struct {
	log      *slog.Logger
	registry *Registry
}

// New creates a launcher with the built-in launching and listening
// connectors registered.
func New(log *slog.Logger) *Launcher {
	return &Launcher{
		log:      log.With("component", "launcher"),
		registry: NewRegistry(launchConnector{}, listenConnector{}),
	}
}

// Registry returns the launcher's connector registry.
func (l *Launcher) Registry() *Registry {
	return l.registry
}

// ConnectorName returns the connector used for strategy.
func ConnectorName(strategy config.Strategy) string {
	if _, ok := strategy.(config.Listen); ok {
		return ConnectorListen
	}

	return ConnectorLaunch
}

// Launch starts a worker with the given strategy. The worker is told to
// connect its command channel back to commandPort on the loopback interface.
//
// Every failure is returned as a *errors.LaunchError.
func (l *Launcher) Launch(
	ctx context.Context,
	strategy config.Strategy,
	opts *config.Options,
	commandPort int,
) (*Result, error) {
	fail := func(err error) (*Result, error) {
		l.log.Error("Failed to launch worker", "strategy", strategy.Name(), "error", err)

		return nil, &errors.LaunchError{Strategy: strategy.Name(), Err: err}
	}

	connector, err := l.registry.Lookup(ConnectorName(strategy))
	if err != nil {
		return fail(err)
	}

	args, err := MergeArgs(connector.Arguments(),
		fixedArgs(opts, commandPort),
		derivedArgs(strategy, opts),
		opts.ConnectorArgs,
	)
	if err != nil {
		return fail(err)
	}

	path, err := NewDiscoverer(&DiscoveryConfig{
		WorkerPath: opts.WorkerPath,
		Logger:     l.log,
	}).Discover(ctx)
	if err != nil {
		return fail(err)
	}

	l.log.Info("Launching worker",
		"strategy", strategy.Name(),
		"connector", connector.Name(),
		"worker_path", path,
		"command_port", commandPort,
	)

	result, err := connector.Connect(ctx, &Spawn{
		Log:                 l.log,
		Path:                path,
		Env:                 buildEnvironment(opts),
		Dir:                 opts.Cwd,
		Stderr:              opts.WorkerStderr,
		DebugRequestTimeout: opts.DebugRequestTimeoutOrDefault(),
	}, args)
	if err != nil {
		return fail(err)
	}

	l.log.Info("Worker started", "pid", result.Process.Pid())

	return result, nil
}

// fixedArgs are the protocol arguments the caller cannot override. Caller
// VM options come first, followed by any "options" connector argument.
func fixedArgs(opts *config.Options, commandPort int) map[string]string {
	options := slices.Clone(opts.VMOptions)
	if extra := opts.ConnectorArgs[ArgOptions]; extra != "" {
		options = append(options, extra)
	}

	return map[string]string{
		ArgMain:    opts.EntryPointOrDefault() + " " + strconv.Itoa(commandPort),
		ArgOptions: strings.Join(options, " "),
	}
}

// derivedArgs are values computed from the strategy and options that an
// explicit connector argument may still replace.
func derivedArgs(strategy config.Strategy, opts *config.Options) map[string]string {
	derived := map[string]string{
		ArgTimeout: opts.AcceptTimeoutOrDefault().String(),
	}

	if listen, ok := strategy.(config.Listen); ok && listen.Host != "" {
		derived[ArgAddress] = net.JoinHostPort(listen.Host, "0")
	}

	return derived
}

func buildEnvironment(opts *config.Options) []string {
	env := os.Environ()

	for _, key := range slices.Sorted(maps.Keys(opts.Env)) {
		env = append(env, fmt.Sprintf("%s=%s", key, opts.Env[key]))
	}

	return env
}
