package plugin

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/contract"
	"github.com/joncooperworks/capscan/plugin/wasm"
)

func init() {
	RegisterLoader(contract.ABICore, func(ctx context.Context, logger *logrus.Logger) (Loader, error) {
		loader, err := wasm.NewLoader(ctx)
		if err != nil {
			return nil, err
		}
		return coreLoader{loader}, nil
	})
}

// Loader loads modules of one ABI permanently into the host.
type Loader interface {
	// Load instantiates data under name. Names are unique per loader.
	Load(ctx context.Context, name string, data []byte) (Module, error)
	// Close releases the loader and everything it loaded.
	Close(ctx context.Context) error
}

// Module is a module instantiated by a Loader.
type Module interface {
	// Construct creates an instance of typeName via its parameterless constructor.
	Construct(ctx context.Context, typeName string) (contract.Object, error)
	Close(ctx context.Context) error
}

// NewLoader creates a loader for abi using its registered factory. A nil
// logger means the standard logger.
func NewLoader(ctx context.Context, abi contract.ABI, logger *logrus.Logger) (Loader, error) {
	factory, err := GetLoaderFactory(abi)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loader, err := factory(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s loader: %w", abi, err)
	}
	return loader, nil
}

type coreLoader struct {
	*wasm.Loader
}

func (l coreLoader) Load(ctx context.Context, name string, data []byte) (Module, error) {
	m, err := l.Loader.Load(ctx, name, data)
	if err != nil {
		return nil, err
	}
	return m, nil
}
