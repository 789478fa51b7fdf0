package stac

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/perimeterx/marshmallow"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/srs"
)

// Item is a STAC item. Members without a field of their own end up in Extra.
type Item struct {
	Type           string           `json:"type"`
	StacVersion    string           `json:"stac_version,omitempty"`
	StacExtensions []string         `json:"stac_extensions,omitempty"`
	ID             string           `json:"id" validate:"required"`
	Collection     string           `json:"collection,omitempty"`
	BBox           []float64        `json:"bbox,omitempty" validate:"omitempty,len=4|len=6"`
	Geometry       map[string]any   `json:"geometry"`
	Properties     map[string]any   `json:"properties"`
	Links          []Link           `json:"links,omitempty"`
	Assets         map[string]Asset `json:"-"`
	Extra          map[string]any   `json:"-"`
}

func (i *Item) UnmarshalJSON(data []byte) error {
	extra, err := marshmallow.Unmarshal(data, i, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if i.Assets, err = unmarshalAssets(extra["assets"]); err != nil {
		return errors.Wrapf(err, "item %q", i.ID)
	}
	delete(extra, "assets")
	i.Extra = extra
	return validate.Struct(i)
}

func unmarshalAssets(raw interface{}) (map[string]Asset, error) {
	if raw == nil {
		return map[string]Asset{}, nil
	}
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("assets is not an object")
	}
	assets := make(map[string]Asset, len(rawMap))
	for key, rawAsset := range rawMap {
		var a Asset
		if err := a.UnmarshalJSONFromMap(rawAsset); err != nil {
			return nil, errors.Wrapf(err, "asset %q", key)
		}
		if err := validate.Struct(a); err != nil {
			return nil, errors.Wrapf(err, "asset %q", key)
		}
		assets[key] = a
	}
	return assets, nil
}

func (i Item) MarshalJSON() ([]byte, error) {
	type fields Item
	extra := make(map[string]any, len(i.Extra)+1)
	for k, v := range i.Extra {
		extra[k] = v
	}
	assets := i.Assets
	if assets == nil {
		assets = map[string]Asset{}
	}
	extra["assets"] = assets
	return marshalWithExtra(fields(i), extra)
}

// Datetime returns the nominal time of the item: "datetime", or
// "start_datetime" when datetime is null.
func (i *Item) Datetime() (time.Time, error) {
	for _, key := range []string{"datetime", "start_datetime"} {
		if s, ok := i.Properties[key].(string); ok && s != "" {
			return time.Parse(time.RFC3339Nano, s)
		}
	}
	return time.Time{}, errors.Newf("item %q has no datetime", i.ID)
}

// Footprint decodes the GeoJSON geometry of the item.
func (i *Item) Footprint() (geom.Geometry, error) {
	if i.Geometry == nil {
		return nil, nil
	}
	raw, err := json.Marshal(i.Geometry)
	if err != nil {
		return nil, err
	}
	var g geojson.Geometry
	if err = json.Unmarshal(raw, &g); err != nil {
		return nil, errors.Wrapf(err, "item %q geometry", i.ID)
	}
	return g.Geometry, nil
}

// Projection is what the projection extension says about the grid of an
// asset. Zero values mean unknown.
type Projection struct {
	CRS       srs.CRS
	Transform grid.GeoTransform
	BBox      []float64
	Shape     []int
}

// Projection merges the item level projection properties with those of the
// asset, the asset taking precedence.
func (i *Item) Projection(assetKey string) Projection {
	var p Projection
	p.merge(i.Properties)
	if a, ok := i.Assets[assetKey]; ok {
		p.merge(a.Extra)
	}
	return p
}

// Apply fills in the reference system and transform of a when its driver
// could not tell.
func (p Projection) Apply(a *grid.Array) error {
	if !a.CRS.Defined() && p.CRS.Defined() {
		a.CRS = p.CRS
	}
	if a.Transform.IsZero() && !p.Transform.IsZero() {
		a.Transform = p.Transform
		return a.SetSpatialCoords()
	}
	return nil
}

// Bounds returns the extent of the asset in its own reference system.
func (p Projection) Bounds() (geom.Extent, bool) {
	if len(p.BBox) == 4 {
		return geom.Extent{p.BBox[0], p.BBox[1], p.BBox[2], p.BBox[3]}, true
	}
	if p.Transform.IsZero() || len(p.Shape) != 2 {
		return geom.Extent{}, false
	}
	x0, y0 := p.Transform.Apply(0, 0)
	x1, y1 := p.Transform.Apply(float64(p.Shape[1]), float64(p.Shape[0]))
	return geom.Extent{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}, true
}

func (p *Projection) merge(props map[string]any) {
	if props == nil {
		return
	}
	if v, ok := props["proj:epsg"].(float64); ok && v > 0 {
		p.CRS = srs.CRS(int(v))
	}
	if s, ok := props["proj:code"].(string); ok {
		if c, err := srs.Parse(s); err == nil && c.Defined() {
			p.CRS = c
		}
	}
	if t := floats(props["proj:transform"]); len(t) >= 6 {
		// affine a, b, c, d, e, f to GDAL c, a, b, f, d, e
		p.Transform = grid.GeoTransform{t[2], t[0], t[1], t[5], t[3], t[4]}
	}
	if b := floats(props["proj:bbox"]); len(b) == 4 {
		p.BBox = b
	}
	if s := floats(props["proj:shape"]); len(s) == 2 {
		p.Shape = []int{int(s[0]), int(s[1])}
	}
}

func floats(v any) []float64 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, e := range list {
		f, ok := e.(float64)
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// Asset is a file belonging to an item.
type Asset struct {
	Href  string         `json:"href" validate:"required"`
	Type  string         `json:"type,omitempty"`
	Title string         `json:"title,omitempty"`
	Roles []string       `json:"roles,omitempty"`
	Extra map[string]any `json:"-"`
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var dataMap map[string]interface{}
	if err := json.Unmarshal(data, &dataMap); err != nil {
		return err
	}
	return a.UnmarshalJSONFromMap(dataMap)
}

func (a *Asset) UnmarshalJSONFromMap(data interface{}) error {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return errors.Newf(`data is not a map but a %T`, data)
	}
	extra, err := marshmallow.UnmarshalFromJSONMap(dataMap, a, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

func (a Asset) MarshalJSON() ([]byte, error) {
	type fields Asset
	return marshalWithExtra(fields(a), a.Extra)
}

func (a Asset) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Link is a STAC link, including the request description of paging links.
type Link struct {
	Rel     string            `json:"rel"`
	Href    string            `json:"href"`
	Type    string            `json:"type,omitempty"`
	Title   string            `json:"title,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
	Merge   bool              `json:"merge,omitempty"`
}

// ItemCollection is a materialized search result.
type ItemCollection struct {
	Type     string  `json:"type"`
	Features []*Item `json:"features"`
	Links    []Link  `json:"links,omitempty"`
}

func (c *ItemCollection) Len() int {
	return len(c.Features)
}

func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	known, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return known, err
	}
	merged := make(map[string]any, len(extra))
	for k, e := range extra {
		merged[k] = e
	}
	if err = json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// isTableMediaType matches Parquet assets, which hold features rather than
// grids.
func isTableMediaType(mediaType string) bool {
	return strings.Contains(strings.ToLower(mediaType), "parquet")
}

func isNetCDFMediaType(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)
	return strings.Contains(mediaType, "netcdf") || strings.Contains(mediaType, "hdf5") || strings.Contains(mediaType, "x-hdf")
}
