package vectorio

import (
	"context"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pdok/geopipe/pkg/gpkg"
	"github.com/pdok/geopipe/vector"
)

func init() {
	Register(GeoPackage{})
}

// GeoPackage reads one feature table of a local GeoPackage.
type GeoPackage struct{}

func (GeoPackage) Name() string {
	return "gpkg"
}

func (GeoPackage) Accepts(address string) bool {
	return strings.EqualFold(path.Ext(address), ".gpkg")
}

func (GeoPackage) Open(ctx context.Context, address string, opts Options) (*vector.Collection, error) {
	source, err := gpkg.OpenSource(address)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	tables, err := source.GetTableInfo()
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, errors.Newf("%s has no feature tables", address)
	}
	source.Table = tables[0]
	if opts.Layer != "" {
		found := false
		for _, t := range tables {
			if t.Name == opts.Layer {
				source.Table, found = t, true
				break
			}
		}
		if !found {
			return nil, errors.Newf("%s has no feature table %q", address, opts.Layer)
		}
	}

	c := &vector.Collection{Name: source.Table.Name, CRS: source.Table.CRS(), Features: make([]vector.Feature, 0)}
	features := make(chan gpkg.Feature)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.ReadFeatures(ctx, features)
	})
	g.Go(func() error {
		for f := range features {
			c.Features = append(c.Features, toFeature(f.(*gpkg.Record)))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}

func toFeature(r *gpkg.Record) vector.Feature {
	f := vector.Feature{Properties: make(map[string]any, len(r.Names())), Geometry: r.Geometry()}
	for i, name := range r.Names() {
		if i == 0 && strings.EqualFold(name, "fid") {
			f.ID = r.Columns()[i]
			continue
		}
		f.Properties[name] = r.Columns()[i]
	}
	return f
}
