// Package adapter defines the boundary between the generation strategy and
// the underlying statistical models. The strategy treats an Adapter as an
// opaque capability exposing fit, predict and gen.
package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/taigalabs/taiga/internal/core"
)

// Adapter is the external model capability consumed by a generation node.
type Adapter interface {
	// Fit prepares the model from the experiment's observations. It returns
	// *core.DataRequiredError when the attached data is insufficient.
	Fit(ctx context.Context, exp *core.Experiment, data core.Data) error

	// Predict returns means and variances of the objective at the given
	// features. Only valid after a successful Fit.
	Predict(features []core.ObservationFeatures) (means, variances []float64, err error)

	// Gen proposes n new arms, avoiding points listed in pending. Fixed
	// features, when provided, override the corresponding parameters on
	// every proposed arm.
	Gen(ctx context.Context, n int, pending map[string][]core.ObservationFeatures, fixed *core.ObservationFeatures) (*core.GeneratorRun, error)
}

// Factory constructs an adapter for an experiment.
type Factory func(exp *core.Experiment) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register associates a model key with a factory. Registered models can be
// restored by key when an interrupted optimization resumes.
func Register(modelKey string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[modelKey] = f
}

// Lookup returns the factory registered under the given model key.
func Lookup(modelKey string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[modelKey]
	return f, ok
}

// IsRegistered reports whether a model key has a registered factory.
func IsRegistered(modelKey string) bool {
	_, ok := Lookup(modelKey)
	return ok
}

// RegisteredModels returns the sorted keys of all registered factories.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
