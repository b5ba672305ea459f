// Package host owns the modules that have been permanently loaded into the
// process and creates live instances from discovered descriptors.
package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/contract"
	"github.com/joncooperworks/capscan/descriptor"
	"github.com/joncooperworks/capscan/plugin"
)

// ErrInstantiation is returned when a descriptor cannot produce a live instance.
var ErrInstantiation = errors.New("instantiation failed")

// Host holds permanently loaded modules keyed by absolute path.
type Host struct {
	logger *logrus.Logger

	mu      sync.Mutex
	loaders map[contract.ABI]plugin.Loader
	modules map[string]*loadedModule
	closed  bool
}

type loadedModule struct {
	digest string
	module plugin.Module
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// New creates an empty host. Loaders are created on first use per ABI.
func New(opts ...Option) *Host {
	h := &Host{
		loaders: map[contract.ABI]plugin.Loader{},
		modules: map[string]*loadedModule{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logrus.New()
	}
	return h
}

// Load loads m permanently. Loading the same path again returns the module
// already loaded. The file must still have the digest recorded at scan time.
func (h *Host) Load(ctx context.Context, m descriptor.Module) (plugin.Module, error) {
	if m.Source != descriptor.OnDisk {
		return nil, fmt.Errorf("module %q is not an on-disk module", m.Name)
	}

	path, err := filepath.Abs(m.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", m.Path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("host is closed")
	}

	if l, ok := h.modules[path]; ok {
		if m.Digest != "" && m.Digest != l.digest {
			return nil, fmt.Errorf("module %s was loaded with digest %s, descriptor has %s", path, l.digest, m.Digest)
		}
		return l.module, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("module file unavailable: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if m.Digest != "" && digest != m.Digest {
		return nil, fmt.Errorf("module %s changed since it was scanned", path)
	}

	loader, err := h.loader(ctx, m.ABI)
	if err != nil {
		return nil, err
	}

	module, err := loader.Load(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	h.modules[path] = &loadedModule{digest: digest, module: module}
	h.logger.WithFields(logrus.Fields{
		"module": m.Name,
		"path":   path,
		"abi":    m.ABI,
	}).Info("module loaded")
	return module, nil
}

func (h *Host) loader(ctx context.Context, abi contract.ABI) (plugin.Loader, error) {
	if abi == "" {
		abi = contract.ABICore
	}
	if l, ok := h.loaders[abi]; ok {
		return l, nil
	}
	l, err := plugin.NewLoader(ctx, abi, h.logger)
	if err != nil {
		return nil, err
	}
	h.loaders[abi] = l
	return l, nil
}

// Construct loads m if needed and constructs typeName inside it.
func (h *Host) Construct(ctx context.Context, m descriptor.Module, typeName string) (contract.Object, error) {
	module, err := h.Load(ctx, m)
	if err != nil {
		return nil, err
	}
	return module.Construct(ctx, typeName)
}

// Loaded returns the number of modules permanently loaded into the host.
func (h *Host) Loaded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.modules)
}

// Close unloads every module and releases the loaders.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	for path, l := range h.modules {
		if err := l.module.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", path, err))
		}
	}
	for abi, l := range h.loaders {
		if err := l.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s loader: %w", abi, err))
		}
	}
	h.modules = nil
	h.loaders = nil
	return errors.Join(errs...)
}

// Create runs d's factory. Every failure, including a panic in the
// constructor, is reported as ErrInstantiation.
func Create[T any](ctx context.Context, d descriptor.Type[T]) (v T, err error) {
	factory := d.Factory()
	if factory == nil {
		return v, fmt.Errorf("%w: %s/%s has no factory", ErrInstantiation, d.Module.Name, d.TypeName)
	}

	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("%w: %s/%s panicked: %v", ErrInstantiation, d.Module.Name, d.TypeName, r)
		}
	}()

	v, err = factory(ctx)
	if err != nil && !errors.Is(err, ErrInstantiation) {
		var zero T
		return zero, fmt.Errorf("%w: %s/%s: %w", ErrInstantiation, d.Module.Name, d.TypeName, err)
	}
	return v, err
}
