// Package plugin defines the host's capability contracts and the loaders that
// bring on-disk modules into the process.
//
// Loaders are registered per ABI (see RegisterLoader) so the instantiator can
// load a module without knowing which runtime backs it.
package plugin

import (
	"context"
)

// Component is implemented by everything that can be discovered by a
// capability scan.
type Component interface {
	// Name returns the label shown to users, e.g. "Internal Plugin One".
	Name() string
}

// PluginOne is a component with a single primary action.
type PluginOne interface {
	Component

	// DoTheThing runs the plugin's primary action.
	DoTheThing(ctx context.Context) error
}

// PluginTwo is a component that can be executed.
type PluginTwo interface {
	Component

	// Execute runs the plugin.
	Execute(ctx context.Context) error
}
