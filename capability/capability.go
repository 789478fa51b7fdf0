// Package capability keeps track of which optional data sources are usable in
// this build. Drivers register themselves from init functions; stage
// constructors ask for the capability they need before doing any work.
package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Feature names a group of optional functionality.
type Feature string

const (
	Raster            Feature = "raster"
	Vector            Feature = "vector"
	Catalog           Feature = "catalog"
	HierarchicalStore Feature = "hierarchical-store"
)

// ErrUnavailable is matched by every UnavailableError.
var ErrUnavailable = errors.New("module not available")

var hints = map[Feature]string{
	Raster:            "build with -tags gdal to enable the GDAL raster driver",
	Vector:            "import github.com/pdok/geopipe/vectorio or build with -tags gdal",
	Catalog:           "import github.com/pdok/geopipe/stac",
	HierarchicalStore: "import github.com/pdok/geopipe/rasterio to enable the netcdf driver",
}

// UnavailableError is returned when a stage is constructed for a feature no
// registered provider serves. It is a packaging problem, not a data problem.
type UnavailableError struct {
	Feature Feature
	Hint    string
}

func (e *UnavailableError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("module not available: no provider for %q", e.Feature)
	}
	return fmt.Sprintf("module not available: no provider for %q (%s)", e.Feature, e.Hint)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Registry maps features to the names of the providers that serve them.
type Registry struct {
	mu        sync.RWMutex
	providers map[Feature]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[Feature]map[string]struct{})}
}

// Provide records that provider serves feature. Registering the same pair
// twice is a no-op.
func (r *Registry) Provide(feature Feature, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[feature]; !ok {
		r.providers[feature] = make(map[string]struct{})
	}
	r.providers[feature][provider] = struct{}{}
}

func (r *Registry) Available(feature Feature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers[feature]) > 0
}

// Providers returns the sorted provider names for feature.
func (r *Registry) Providers(feature Feature) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers[feature]))
	for name := range r.providers[feature] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require returns an *UnavailableError when nothing provides feature.
func (r *Registry) Require(feature Feature) error {
	if r.Available(feature) {
		return nil
	}
	return &UnavailableError{Feature: feature, Hint: hints[feature]}
}

var defaultRegistry = NewRegistry()

func Provide(feature Feature, provider string) { defaultRegistry.Provide(feature, provider) }

func Available(feature Feature) bool { return defaultRegistry.Available(feature) }

func Providers(feature Feature) []string { return defaultRegistry.Providers(feature) }

func Require(feature Feature) error { return defaultRegistry.Require(feature) }
