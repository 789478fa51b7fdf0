package rasterio

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
)

var validate = validator.New()

// NewReader returns a pipe yielding one array per address. Arrays have dims
// (band, y, x) with coordinates, reference system and transform set.
func NewReader(addresses processing.Pipe[string], opts Options) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid raster reader options")
	}
	if opts.Driver != "" {
		if _, err := resolve("", opts.Driver); err != nil {
			return nil, err
		}
	} else if err := available(); err != nil {
		return nil, err
	}
	return processing.Map(addresses, func(ctx context.Context, address string) (*grid.Array, error) {
		return Open(ctx, address, opts)
	}), nil
}

// Open reads a single address.
func Open(ctx context.Context, address string, opts Options) (*grid.Array, error) {
	ctx = logging.WithSource(logging.WithStage(ctx, "rasterio"), address)
	d, err := resolve(address, opts.Driver)
	if err != nil {
		return nil, err
	}
	a, err := d.Open(ctx, address, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "%s driver could not open %s", d.Name(), address)
	}
	if err = a.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s driver returned an invalid array for %s", d.Name(), address)
	}
	if a.Source == "" {
		a.Source = address
	}
	if opts.Masked && a.HasNodata && !math.IsNaN(a.Nodata) {
		for i, v := range a.Data {
			if v == a.Nodata {
				a.Data[i] = math.NaN()
			}
		}
		a.Nodata = math.NaN()
	}
	log := logging.FromContext(ctx)
	if !a.CRS.Defined() {
		log.Warn().Msg("raster has no reference system")
	}
	log.Debug().Str("driver", d.Name()).Ints("shape", a.Shape).Stringer("crs", a.CRS).Msg("opened raster")
	return a, nil
}
