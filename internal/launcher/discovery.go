package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/execctl-go/internal/errors"
)

const (
	// WorkerName is the worker binary looked up on PATH.
	WorkerName = "execworker"

	// MinimumVersion is the minimum worker version speaking this protocol.
	MinimumVersion = "1.0.0"

	// VersionCheckTimeout is the timeout for the worker version check command.
	VersionCheckTimeout = 2 * time.Second

	skipVersionCheckEnv = "EXECCTL_SKIP_VERSION_CHECK"
)

var versionPattern = regexp.MustCompile(`^([0-9]+\.[0-9]+\.[0-9]+)`)

// DiscoveryConfig holds configuration for worker discovery.
type DiscoveryConfig struct {
	// WorkerPath is an explicit worker path that skips PATH search.
	WorkerPath string

	// SkipVersionCheck skips version validation during discovery.
	// Can also be controlled via the EXECCTL_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	Logger *slog.Logger
}

// Discoverer locates the worker binary.
type Discoverer interface {
	// Discover returns the path of the worker binary.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg *DiscoveryConfig
	log *slog.Logger
}

var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a worker discoverer with the given configuration.
func NewDiscoverer(cfg *DiscoveryConfig) Discoverer {
	if cfg == nil {
		cfg = &DiscoveryConfig{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &discoverer{cfg: cfg, log: log}
}

// Discover locates the worker binary and validates its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	path, err := d.find()
	if err != nil {
		return "", err
	}

	d.log.Debug("Found worker binary", "worker_path", path)
	d.checkVersion(ctx, path)

	return path, nil
}

func (d *discoverer) find() (string, error) {
	if d.cfg.WorkerPath != "" {
		if _, err := os.Stat(d.cfg.WorkerPath); err == nil {
			return d.cfg.WorkerPath, nil
		}

		return "", &errors.WorkerNotFoundError{SearchedPaths: []string{d.cfg.WorkerPath}}
	}

	searched := make([]string, 0, 4)

	if path, err := exec.LookPath(WorkerName); err == nil {
		return path, nil
	}

	searched = append(searched, "$PATH")

	candidates := []string{
		filepath.Join("/usr/local/bin", WorkerName),
		filepath.Join("/usr/bin", WorkerName),
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local/bin", WorkerName))
	}

	for _, path := range candidates {
		searched = append(searched, path)

		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	d.log.Warn("Worker binary not found in any searched paths", "searched_paths", searched)

	return "", &errors.WorkerNotFoundError{SearchedPaths: searched}
}

// checkVersion warns when the worker is older than MinimumVersion.
// Failures to run or parse the version are ignored.
func (d *discoverer) checkVersion(ctx context.Context, path string) {
	if d.cfg.SkipVersionCheck || os.Getenv(skipVersionCheckEnv) != "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the worker path comes from discovery
	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		d.log.Debug("Worker version check failed", "error", err)

		return
	}

	match := versionPattern.FindStringSubmatch(strings.TrimSpace(string(output)))
	if match == nil {
		d.log.Debug("Could not parse worker version", "output", string(output))

		return
	}

	if compareVersions(match[1], MinimumVersion) < 0 {
		d.log.Warn("Worker version is unsupported",
			"version", match[1],
			"minimum_required", MinimumVersion,
		)

		fmt.Fprintf(os.Stderr,
			"Warning: execworker %s is older than the minimum supported version %s.\n",
			match[1], MinimumVersion,
		)
	}
}

// compareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum, bNum := 0, 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum < bNum {
			return -1
		}

		if aNum > bNum {
			return 1
		}
	}

	return 0
}
