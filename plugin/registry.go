package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/contract"
)

// LoaderFactory is a function that creates a new Loader instance.
//
// Factory functions are registered with RegisterLoader and are called the
// first time the host loads a module of that ABI. Loaders log through logger.
type LoaderFactory func(ctx context.Context, logger *logrus.Logger) (Loader, error)

var (
	// loaderRegistry stores loader factories by ABI
	loaderRegistry = make(map[contract.ABI]LoaderFactory)
	// loaderRegistryMu protects concurrent access to the registry
	loaderRegistryMu sync.RWMutex
)

// RegisterLoader registers a loader factory for an ABI.
//
// This should be called from init() functions in loader implementations. The
// ABI is the value modules declare in their manifest.
//
// The extism loader registers itself like this:
//
//	func init() {
//	    RegisterLoader(contract.ABIExtism, func(ctx context.Context, logger *logrus.Logger) (Loader, error) {
//	        return NewExtismLoader(logger), nil
//	    })
//	}
func RegisterLoader(abi contract.ABI, factory LoaderFactory) {
	loaderRegistryMu.Lock()
	defer loaderRegistryMu.Unlock()
	loaderRegistry[abi] = factory
}

// GetLoaderFactory retrieves the loader factory registered for abi.
//
// Returns an error if no factory is registered.
func GetLoaderFactory(abi contract.ABI) (LoaderFactory, error) {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	factory, ok := loaderRegistry[abi]
	if !ok {
		return nil, fmt.Errorf("no loader factory registered for ABI: %s", abi)
	}
	return factory, nil
}

// ListRegisteredABIs returns all registered ABIs, sorted.
func ListRegisteredABIs() []contract.ABI {
	loaderRegistryMu.RLock()
	defer loaderRegistryMu.RUnlock()
	abis := make([]contract.ABI, 0, len(loaderRegistry))
	for abi := range loaderRegistry {
		abis = append(abis, abi)
	}
	sort.Slice(abis, func(i, j int) bool { return abis[i] < abis[j] })
	return abis
}
