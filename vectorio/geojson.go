package vectorio

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom/encoding/geojson"

	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

func init() {
	Register(GeoJSON{})
}

// GeoJSON reads feature collections, single features and bare geometries.
// Addresses may be local, remote or inside a zip archive.
type GeoJSON struct{}

func (GeoJSON) Name() string {
	return "geojson"
}

func (GeoJSON) Accepts(address string) bool {
	if isGeoJSONName(leaf(address)) {
		return true
	}
	// remote services rarely end in a file name
	return isRemote(strings.TrimPrefix(address, "/vsicurl/")) && path.Ext(leaf(address)) == ""
}

func isGeoJSONName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".geojson", ".json":
		return true
	}
	return false
}

func (GeoJSON) Open(ctx context.Context, address string, opts Options) (*vector.Collection, error) {
	data, err := fetch(ctx, opts.HTTPClient, address, isGeoJSONName)
	if err != nil {
		return nil, err
	}
	c, err := DecodeGeoJSON(data)
	if err != nil {
		return nil, err
	}
	if c.Name == "" {
		c.Name = strings.TrimSuffix(path.Base(leaf(address)), path.Ext(leaf(address)))
	}
	return c, nil
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geoJSONDocument struct {
	Name     string           `json:"name"`
	CRS      *geoJSONCRS      `json:"crs"`
	Features []geoJSONFeature `json:"features"`
	geoJSONFeature
}

type geoJSONCRS struct {
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// DecodeGeoJSON reads a FeatureCollection, Feature or geometry. Documents
// without a "crs" member are WGS84 as RFC 7946 requires.
func DecodeGeoJSON(data []byte) (*vector.Collection, error) {
	var doc geoJSONDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid GeoJSON")
	}
	c := &vector.Collection{Name: doc.Name, CRS: srs.WGS84, Features: make([]vector.Feature, 0, len(doc.Features))}
	if doc.CRS != nil {
		crs, err := srs.Parse(doc.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
		c.CRS = crs
	}

	switch doc.Type {
	case "FeatureCollection":
		for i, f := range doc.Features {
			feature, err := decodeFeature(f)
			if err != nil {
				return nil, errors.Wrapf(err, "feature %d", i)
			}
			c.Features = append(c.Features, feature)
		}
	case "Feature":
		feature, err := decodeFeature(doc.geoJSONFeature)
		if err != nil {
			return nil, err
		}
		c.Features = append(c.Features, feature)
	case "":
		return nil, errors.New("invalid GeoJSON: missing type")
	default:
		var g geojson.Geometry
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, errors.Wrap(err, "invalid GeoJSON geometry")
		}
		c.Features = append(c.Features, vector.Feature{Properties: map[string]any{}, Geometry: g.Geometry})
	}
	return c, nil
}

func decodeFeature(f geoJSONFeature) (vector.Feature, error) {
	feature := vector.Feature{ID: f.ID, Properties: f.Properties}
	if feature.Properties == nil {
		feature.Properties = map[string]any{}
	}
	raw := bytes.TrimSpace(f.Geometry)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return feature, nil
	}
	var g geojson.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return feature, err
	}
	feature.Geometry = g.Geometry
	return feature, nil
}
