// Package vectorio reads vector sources into feature collections.
package vectorio

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

type Options struct {
	// Layer selects a table or layer of a multi-layer source, the first
	// one when empty.
	Layer string
	// TargetCRS reprojects the collection when set. Collections are left in
	// their source reference system otherwise.
	TargetCRS srs.CRS `validate:"gte=0"`
	// Driver forces a driver by name instead of picking one by address.
	Driver string
	// HTTPClient is used for remote addresses.
	HTTPClient *http.Client `validate:"-"`
}

// Driver opens one kind of vector source.
type Driver interface {
	Name() string
	Accepts(address string) bool
	Open(ctx context.Context, address string, opts Options) (*vector.Collection, error)
}

var (
	driversMu sync.RWMutex
	drivers   []Driver
)

// Register makes a driver available. Drivers registered later are tried
// first.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	for i, existing := range drivers {
		if existing.Name() == d.Name() {
			drivers = append(drivers[:i], drivers[i+1:]...)
			break
		}
	}
	drivers = append([]Driver{d}, drivers...)
	capability.Provide(capability.Vector, d.Name())
}

func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = d.Name()
	}
	return names
}

func resolve(address, name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	for _, d := range drivers {
		if name != "" && d.Name() == name {
			return d, nil
		}
		if name == "" && d.Accepts(address) {
			return d, nil
		}
	}
	if name != "" {
		return nil, &capability.UnavailableError{Feature: capability.Vector, Hint: "no vector driver named " + name}
	}
	return nil, errors.Newf("no vector driver accepts %q", address)
}
