// Package registry finds every implementation of a capability contract among
// the host's resident modules and the modules in a plugin directory.
//
// On-disk candidates are inspected inside a probe sandbox that is opened for
// one scan and closed when the scan returns, so candidates that turn out not
// to implement anything are never loaded into the host. Matching types are
// returned as descriptors carrying a factory; the module behind an on-disk
// descriptor is loaded permanently the first time one of its types is created.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/descriptor"
	"github.com/joncooperworks/capscan/host"
	"github.com/joncooperworks/capscan/metrics"
	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/resident"
	"github.com/joncooperworks/capscan/scanner"
	"github.com/joncooperworks/capscan/trust"
)

// DefaultPattern matches candidate module files.
const DefaultPattern = "*.wasm"

// ReasonUntrusted marks candidates rejected by the trust verifier.
const ReasonUntrusted = "untrusted"

type (
	// ModuleDescriptor describes a resident or on-disk module.
	ModuleDescriptor = descriptor.Module
	// Descriptor describes a type implementing a contract.
	Descriptor[T any] = descriptor.Type[T]
)

// Failure records a candidate file that could not be used.
type Failure struct {
	Path   string
	Reason string
	Err    error
}

// Registry discovers contract implementations.
type Registry struct {
	host     *host.Host
	ownsHost bool

	residents    resident.Source
	residentScan bool
	exclusions   resident.Exclusions
	filter       *resident.Filter

	sandboxOpts []probe.Option
	pattern     string
	verifier    trust.Verifier

	logger    *logrus.Logger
	metrics   *metrics.Scan
	onFailure func(Failure)

	mu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithHost sets the instantiator on-disk descriptors create through. Without
// it the registry creates and owns a host.
func WithHost(h *host.Host) Option {
	return func(r *Registry) {
		r.host = h
	}
}

// WithResidentSource sets where resident modules come from. The default is
// the process-wide set.
func WithResidentSource(src resident.Source) Option {
	return func(r *Registry) {
		r.residents = src
	}
}

// WithResidentScan enables or disables resident enumeration. Enabled by default.
func WithResidentScan(enabled bool) Option {
	return func(r *Registry) {
		r.residentScan = enabled
	}
}

// WithExclusions sets which resident modules are skipped.
func WithExclusions(e resident.Exclusions) Option {
	return func(r *Registry) {
		r.exclusions = e
	}
}

// WithSandboxOptions configures the probe sandbox opened for each scan.
func WithSandboxOptions(opts ...probe.Option) Option {
	return func(r *Registry) {
		r.sandboxOpts = append(r.sandboxOpts, opts...)
	}
}

// WithPattern sets the candidate file name pattern.
func WithPattern(pattern string) Option {
	return func(r *Registry) {
		r.pattern = pattern
	}
}

// WithVerifier rejects candidates the verifier does not trust before they are
// inspected.
func WithVerifier(v trust.Verifier) Option {
	return func(r *Registry) {
		r.verifier = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records scan metrics.
func WithMetrics(m *metrics.Scan) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithFailureHook is called for every candidate that could not be used.
func WithFailureHook(fn func(Failure)) Option {
	return func(r *Registry) {
		r.onFailure = fn
	}
}

// New creates a registry.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		residents:    resident.Process(),
		residentScan: true,
		pattern:      DefaultPattern,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}

	filter, err := r.exclusions.Compile()
	if err != nil {
		return nil, err
	}
	r.filter = filter

	if r.host == nil {
		r.host = host.New(host.WithLogger(r.logger))
		r.ownsHost = true
	}
	return r, nil
}

// Host returns the instantiator descriptors create through.
func (r *Registry) Host() *host.Host {
	return r.host
}

// Close releases the host if the registry created it.
func (r *Registry) Close(ctx context.Context) error {
	if r.ownsHost {
		return r.host.Close(ctx)
	}
	return nil
}

// Discover enumerates resident modules and inspects every candidate under dir
// (recursively) in a sandbox that is closed before Discover returns. The
// snapshot can then be filtered for any number of contracts with Select.
func (r *Registry) Discover(ctx context.Context, dir string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	log := r.logger.WithField("dir", dir)

	snap := &Snapshot{
		host:    r.host,
		logger:  r.logger,
		metrics: r.metrics,
	}
	if r.residentScan {
		snap.residents = r.filter.Apply(r.residents)
	}

	paths, err := scanner.Scan(dir, r.pattern, true, scanner.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(paths))
	verified := map[string]string{}
	for _, path := range paths {
		if r.verifier != nil {
			v, err := r.verifier.Verify(ctx, path)
			if err != nil {
				r.fail(snap, Failure{
					Path:   path,
					Reason: ReasonUntrusted,
					Err:    fmt.Errorf("%w: %w", probe.ErrModuleLoad, err),
				})
				continue
			}
			verified[path] = v.Digest
		}
		candidates = append(candidates, path)
	}

	if len(candidates) > 0 {
		shapes, err := r.inspect(ctx, candidates)
		if err != nil {
			return nil, err
		}
		for _, shape := range shapes {
			if shape.Failed() {
				r.fail(snap, Failure{Path: shape.Path, Reason: shape.Reason, Err: shape.Error()})
				continue
			}
			// The file must not change between signature check and inspection.
			if want, ok := verified[shape.Path]; ok && want != shape.Digest {
				r.fail(snap, Failure{
					Path:   shape.Path,
					Reason: ReasonUntrusted,
					Err:    fmt.Errorf("%w: %w: %s changed after its signature was checked", probe.ErrModuleLoad, trust.ErrUntrusted, shape.Path),
				})
				continue
			}
			snap.modules = append(snap.modules, shape)
		}
	}

	sort.SliceStable(snap.failures, func(i, j int) bool { return snap.failures[i].Path < snap.failures[j].Path })

	r.metrics.RecordScan(len(paths), time.Since(start))
	r.metrics.SetModulesLoaded(r.host.Loaded())
	log.WithFields(logrus.Fields{
		"residents":  len(snap.residents),
		"candidates": len(paths),
		"modules":    len(snap.modules),
		"failures":   len(snap.failures),
		"duration":   time.Since(start),
	}).Debug("scan complete")

	return snap, nil
}

// inspect runs one sandbox over paths. The sandbox is torn down on every
// return path.
func (r *Registry) inspect(ctx context.Context, paths []string) ([]probe.ModuleShape, error) {
	opts := append([]probe.Option{probe.WithLogger(r.logger)}, r.sandboxOpts...)
	sb, err := probe.Open(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sb.Close(); err != nil {
			r.logger.WithError(err).Warn("failed to close probe sandbox")
		}
	}()

	return sb.Inspect(ctx, paths)
}

func (r *Registry) fail(snap *Snapshot, f Failure) {
	snap.failures = append(snap.failures, f)
	r.logger.WithFields(logrus.Fields{
		"path":   f.Path,
		"reason": f.Reason,
	}).WithError(f.Err).Warn("skipping candidate module")
	r.metrics.RecordFailure(f.Reason)
	if r.onFailure != nil {
		r.onFailure(f)
	}
}
