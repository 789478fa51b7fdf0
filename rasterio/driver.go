// Package rasterio reads raster sources into labeled arrays.
package rasterio

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/grid"
)

// Options are forwarded to the driver that opens an address.
type Options struct {
	// OverviewLevel 0 reads full resolution, n reads the n-th overview.
	OverviewLevel int `validate:"gte=0"`
	// Resampling is used when an overview has to be resampled.
	Resampling grid.Resampling `default:"nearest" validate:"oneof=nearest bilinear"`
	// Bands are 1-based band indices, all bands when empty.
	Bands []int `validate:"dive,gte=1"`
	// Driver forces a driver by name instead of picking one by address.
	Driver string
	// Variable selects the variable of a hierarchical store, as a
	// slash separated path for nested groups.
	Variable string
	// Chunks sets the number of rows ("y") read per I/O call.
	Chunks map[string]int `validate:"dive,gt=0"`
	// Masked replaces nodata values with NaN.
	Masked bool
}

// Driver opens one kind of raster source.
type Driver interface {
	Name() string
	Accepts(address string) bool
	Open(ctx context.Context, address string, opts Options) (*grid.Array, error)
}

var (
	driversMu sync.RWMutex
	drivers   []Driver
)

// Register makes a driver available and records the capability it provides.
// Drivers registered later are tried first.
func Register(d Driver, feature capability.Feature) {
	driversMu.Lock()
	defer driversMu.Unlock()
	for i, existing := range drivers {
		if existing.Name() == d.Name() {
			drivers = append(drivers[:i], drivers[i+1:]...)
			break
		}
	}
	drivers = append([]Driver{d}, drivers...)
	capability.Provide(feature, d.Name())
}

// Drivers returns the names of the registered drivers in the order they
// are tried.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = d.Name()
	}
	return names
}

func lookup(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	for _, d := range drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

func resolve(address, name string) (Driver, error) {
	if name != "" {
		d, ok := lookup(name)
		if !ok {
			return nil, &capability.UnavailableError{Feature: capability.Raster, Hint: "no raster driver named " + name}
		}
		return d, nil
	}
	driversMu.RLock()
	defer driversMu.RUnlock()
	for _, d := range drivers {
		if d.Accepts(address) {
			return d, nil
		}
	}
	return nil, errors.Newf("no raster driver accepts %q", address)
}

func available() error {
	driversMu.RLock()
	defer driversMu.RUnlock()
	if len(drivers) == 0 {
		return capability.Require(capability.Raster)
	}
	return nil
}
