// Package probe inspects candidate modules inside a disposable isolation
// context.
//
// A Sandbox is created for one scan and closed when the scan ends. Nothing the
// sandbox compiles is ever instantiated, and the shapes it returns are plain
// data that stay valid after Close. The default process sandbox runs
// inspection in a worker child process, so a candidate that crashes or hangs
// the inspector costs one worker and never the host.
package probe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode selects the isolation mechanism.
type Mode string

const (
	// ModeProcess inspects in a short-lived worker process.
	ModeProcess Mode = "process"
	// ModeInProcess inspects in a dedicated wazero runtime inside the host.
	ModeInProcess Mode = "inprocess"
)

// ParseMode converts a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeProcess, ModeInProcess:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown sandbox mode %q", s)
	}
}

// WorkerCommand is the hidden subcommand that runs Serve.
const WorkerCommand = "probe"

// DefaultTimeout bounds the inspection of one file.
const DefaultTimeout = 10 * time.Second

const closeGrace = 2 * time.Second

// Sandbox inspects candidate files in isolation.
type Sandbox interface {
	// Inspect returns one shape per path, in order. Per-file failures are
	// recorded on the shapes; an error means the sandbox itself failed.
	Inspect(ctx context.Context, paths []string) ([]ModuleShape, error)
	// Close tears the isolation context down.
	Close() error
}

// Option configures Open.
type Option func(*options)

type options struct {
	mode    Mode
	command string
	args    []string
	env     []string
	timeout time.Duration
	logger  *logrus.Logger
}

// WithMode selects the isolation mechanism. The default is ModeProcess.
func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithCommand sets the worker command. The default re-executes the running
// binary with the probe subcommand.
func WithCommand(name string, args ...string) Option {
	return func(o *options) {
		o.command = name
		o.args = args
	}
}

// WithEnv adds KEY=VALUE pairs to the worker environment.
func WithEnv(kv ...string) Option {
	return func(o *options) {
		o.env = append(o.env, kv...)
	}
}

// WithTimeout bounds the time spent inspecting a single file.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger for worker output and lifecycle events.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open creates a sandbox.
func Open(ctx context.Context, opts ...Option) (Sandbox, error) {
	o := options{
		mode:    ModeProcess,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}

	switch o.mode {
	case ModeInProcess:
		return openInProcess(ctx, o)
	case ModeProcess:
		if o.command == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("%w: failed to resolve executable: %w", ErrSandboxCreation, err)
			}
			o.command = exe
			o.args = []string{WorkerCommand}
		}
		return openProcess(ctx, o)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrSandboxCreation, o.mode)
	}
}
