package registry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/conformance"
	"github.com/joncooperworks/capscan/contract"
	"github.com/joncooperworks/capscan/descriptor"
	"github.com/joncooperworks/capscan/host"
	"github.com/joncooperworks/capscan/metrics"
	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/resident"
)

// Snapshot is the result of one Discover call. It holds plain data only; no
// sandbox or module stays open because of it.
type Snapshot struct {
	residents []resident.Module
	modules   []probe.ModuleShape
	failures  []Failure

	host    *host.Host
	logger  *logrus.Logger
	metrics *metrics.Scan
}

// Failures returns the candidates that could not be used, in path order.
func (s *Snapshot) Failures() []Failure {
	return append([]Failure(nil), s.failures...)
}

// Modules returns the successfully inspected on-disk modules, in path order.
func (s *Snapshot) Modules() []probe.ModuleShape {
	return append([]probe.ModuleShape(nil), s.modules...)
}

// Residents returns the resident modules that were scanned.
func (s *Snapshot) Residents() []resident.Module {
	return append([]resident.Module(nil), s.residents...)
}

// Select returns the descriptors in s that implement c: resident matches in
// registration order, then on-disk matches by path and type name. When a
// resident and an on-disk type share a (module, type) key only the resident
// one is kept.
func Select[T any](s *Snapshot, c *contract.Contract[T]) []Descriptor[T] {
	out := []Descriptor[T]{}
	seen := map[descriptor.Key]bool{}
	counts := map[descriptor.Source]int{}

	add := func(d Descriptor[T]) {
		key := d.Key()
		if seen[key] {
			s.logger.WithFields(logrus.Fields{
				"module":   key.Module,
				"type":     key.Type,
				"contract": c.Name(),
				"path":     d.Module.Path,
			}).Debug("skipping duplicate implementation")
			return
		}
		seen[key] = true
		counts[d.Module.Source]++
		out = append(out, d)
	}

	for _, m := range s.residents {
		mod := descriptor.Module{Source: descriptor.Resident, Name: m.Name}
		for _, typ := range m.Types {
			if conformance.MatchesResident(typ, c) {
				add(descriptor.New(mod, typ.Name, typ.Display, c.Name(), residentFactory(c, typ)))
			}
		}
	}

	for _, shape := range s.modules {
		mod := descriptor.Module{
			Source: descriptor.OnDisk,
			Name:   shape.Name,
			Path:   shape.Path,
			Digest: shape.Digest,
			ABI:    shape.ABI,
		}
		for _, typ := range shape.Types {
			if conformance.Matches(shape.ABI, typ, c) {
				add(descriptor.New(mod, typ.Name, typ.Display, c.Name(), onDiskFactory(s.host, c, mod, typ.Name, typ.Display)))
			}
		}
	}

	for source, n := range counts {
		s.metrics.RecordMatches(c.Name(), source.String(), n)
	}
	return out
}

// FindImplementations discovers dir and selects the implementations of c.
func FindImplementations[T any](ctx context.Context, r *Registry, c *contract.Contract[T], dir string) ([]Descriptor[T], error) {
	snap, err := r.Discover(ctx, dir)
	if err != nil {
		return nil, err
	}
	return Select(snap, c), nil
}

// residentFactory never touches the filesystem.
func residentFactory[T any](c *contract.Contract[T], typ resident.Type) descriptor.Factory[T] {
	return func(ctx context.Context) (T, error) {
		if typ.New == nil {
			var zero T
			return zero, fmt.Errorf("%w: %s", contract.ErrNoConstructor, typ.Name)
		}
		v, ok := c.Cast(typ.New())
		if !ok {
			var zero T
			return zero, fmt.Errorf("%s does not implement %s", typ.Name, c.Name())
		}
		return v, nil
	}
}

func onDiskFactory[T any](h *host.Host, c *contract.Contract[T], mod descriptor.Module, typeName, display string) descriptor.Factory[T] {
	return func(ctx context.Context) (T, error) {
		obj, err := h.Construct(ctx, mod, typeName)
		if err != nil {
			var zero T
			return zero, err
		}
		return c.Bind(obj, display)
	}
}
