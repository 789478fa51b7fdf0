//go:build gdal

package vectorio

import (
	"context"

	"github.com/airbusgeo/godal"
	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

func init() {
	godal.RegisterAll()
	Register(GDAL{})
}

// GDAL reads every OGR source, /vsi addresses included. It is registered
// last and therefore tried first.
type GDAL struct{}

func (GDAL) Name() string {
	return "gdal"
}

func (GDAL) Accepts(string) bool {
	return true
}

func (GDAL) Open(_ context.Context, address string, opts Options) (*vector.Collection, error) {
	ds, err := godal.Open(address, godal.VectorOnly())
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	layers := ds.Layers()
	if len(layers) == 0 {
		return nil, errors.Newf("%s has no layers", address)
	}
	layer := layers[0]
	if opts.Layer != "" {
		l := ds.LayerByName(opts.Layer)
		if l == nil {
			return nil, errors.Newf("%s has no layer %q", address, opts.Layer)
		}
		layer = *l
	}

	c := &vector.Collection{Name: layer.Name(), CRS: crsOf(layer.SpatialRef()), Features: make([]vector.Feature, 0)}
	layer.ResetReading()
	for {
		f := layer.NextFeature()
		if f == nil {
			break
		}
		feature := vector.Feature{ID: f.FID(), Properties: make(map[string]any)}
		for name, field := range f.Fields() {
			switch field.Type() {
			case godal.FTInt, godal.FTInt64:
				feature.Properties[name] = field.Int()
			case godal.FTReal:
				feature.Properties[name] = field.Float()
			default:
				feature.Properties[name] = field.String()
			}
		}
		if g := f.Geometry(); g != nil && !g.Empty() {
			b, err := g.WKB()
			if err != nil {
				f.Close()
				return nil, err
			}
			if feature.Geometry, err = wkb.DecodeBytes(b); err != nil {
				f.Close()
				return nil, err
			}
		}
		f.Close()
		c.Features = append(c.Features, feature)
	}
	return c, nil
}

func crsOf(sr *godal.SpatialRef) srs.CRS {
	if sr == nil {
		return srs.Undefined
	}
	_ = sr.AutoIdentifyEPSG()
	c, err := srs.FromAuthority(sr.AuthorityName(""), sr.AuthorityCode(""))
	if err != nil {
		return srs.Undefined
	}
	return c
}
