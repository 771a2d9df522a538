package pipeline

import (
	"context"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

// Runner names a source and executes one ingest run for it.
type Runner interface {
	Source() string
	Run(ctx context.Context) (domain.RunSummary, error)
}

// Registry holds the runnable sources, keyed by name.
type Registry struct {
	byName map[string]Runner
	order  []string
}

// NewRegistry indexes runners by source name, keeping registration order.
// A duplicate source name keeps the first registration.
func NewRegistry(runners ...Runner) *Registry {
	reg := &Registry{byName: make(map[string]Runner, len(runners))}
	for _, r := range runners {
		if _, exists := reg.byName[r.Source()]; exists {
			continue
		}
		reg.byName[r.Source()] = r
		reg.order = append(reg.order, r.Source())
	}
	return reg
}

// Lookup returns the runner for a source name.
func (r *Registry) Lookup(source string) (Runner, bool) {
	run, ok := r.byName[source]
	return run, ok
}

// Sources lists the registered source names in registration order.
func (r *Registry) Sources() []string {
	return append([]string(nil), r.order...)
}
