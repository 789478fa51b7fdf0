package vectorio

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/vector"
)

var validate = validator.New()

// NewReader returns a pipe yielding one collection per address.
func NewReader(addresses processing.Pipe[string], opts Options) (processing.Pipe[*vector.Collection], error) {
	if err := capability.Require(capability.Vector); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid vector reader options")
	}
	if opts.Driver != "" {
		if _, err := resolve("", opts.Driver); err != nil {
			return nil, err
		}
	}
	return processing.Map(addresses, func(ctx context.Context, address string) (*vector.Collection, error) {
		return Open(ctx, address, opts)
	}), nil
}

// Open reads a single address.
func Open(ctx context.Context, address string, opts Options) (*vector.Collection, error) {
	ctx = logging.WithSource(logging.WithStage(ctx, "vectorio"), address)
	d, err := resolve(address, opts.Driver)
	if err != nil {
		return nil, err
	}
	c, err := d.Open(ctx, address, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "%s driver could not open %s", d.Name(), address)
	}
	if opts.TargetCRS.Defined() {
		if c, err = c.Reproject(opts.TargetCRS); err != nil {
			return nil, errors.Wrapf(err, "reproject %s", address)
		}
	}
	logging.FromContext(ctx).Debug().
		Str("driver", d.Name()).
		Int("features", c.Len()).
		Stringer("crs", c.CRS).
		Msg("opened vector source")
	return c, nil
}
