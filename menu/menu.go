// Package menu turns discovered descriptors into entries a shell can show and
// activate.
package menu

import (
	"context"
	"fmt"

	"github.com/joncooperworks/capscan/descriptor"
	"github.com/joncooperworks/capscan/host"
)

// Entry is one selectable item.
type Entry struct {
	Label    string
	Source   descriptor.Source
	Module   string
	Activate func(ctx context.Context) error
}

// Action is the primary action run on a freshly created instance.
type Action[T any] func(ctx context.Context, v T) error

// Build returns one entry per descriptor, in order. Activating an entry
// creates a new instance and runs action on it. Labels are the display names;
// a label used by more than one descriptor is qualified with its module name.
func Build[T any](descs []descriptor.Type[T], action Action[T]) []Entry {
	counts := make(map[string]int, len(descs))
	for _, d := range descs {
		counts[d.DisplayName]++
	}

	entries := make([]Entry, 0, len(descs))
	for _, d := range descs {
		label := d.DisplayName
		if counts[label] > 1 {
			label = fmt.Sprintf("%s (%s)", label, d.Module.Name)
		}
		entries = append(entries, Entry{
			Label:    label,
			Source:   d.Module.Source,
			Module:   d.Module.Name,
			Activate: activator(d, action),
		})
	}
	return entries
}

func activator[T any](d descriptor.Type[T], action Action[T]) func(context.Context) error {
	return func(ctx context.Context) error {
		v, err := host.Create(ctx, d)
		if err != nil {
			return err
		}
		if action == nil {
			return nil
		}
		if err := action(ctx, v); err != nil {
			return fmt.Errorf("%s: %w", d.DisplayName, err)
		}
		return nil
	}
}

// Find returns the entry labelled label.
func Find(entries []Entry, label string) (Entry, bool) {
	for _, e := range entries {
		if e.Label == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Labels returns the labels of entries, in order.
func Labels(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Label
	}
	return out
}
