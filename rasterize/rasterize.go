package rasterize

import (
	"context"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/planar/clip"

	"github.com/pdok/geopipe/geomhelp"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

var (
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

const (
	AggAny   = "any"
	AggCount = "count"
	AggSum   = "sum"
	AggMax   = "max"
	AggMin   = "min"
	AggLast  = "last"
)

type Options struct {
	// Agg combines the values of features covering the same pixel. "any"
	// paints a presence mask.
	Agg string `default:"any" validate:"oneof=any count sum max min last"`
	// BurnField names the numeric property to paint, BurnValue is used when
	// it is empty.
	BurnField string
	BurnValue float64 `default:"1"`
}

// NewRasterizer paints collections onto canvases. A single collection is
// painted on every canvas; otherwise they are matched by position.
func NewRasterizer(canvases processing.Pipe[*Canvas], vectors processing.Pipe[*vector.Collection], opts Options) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid rasterizer options")
	}
	pairs, err := processing.Broadcast(canvases, vectors)
	if err != nil {
		return nil, err
	}
	r := &rasterizer{opts: opts}
	return processing.Map(pairs, func(ctx context.Context, p processing.Pair[*Canvas, *vector.Collection]) (*grid.Array, error) {
		canvas, collection := p.First, p.Second
		if !canvas.CRS.Defined() {
			return nil, errors.Wrapf(srs.ErrUndefinedCRS, "canvas %v %v", canvas.XRange, canvas.YRange)
		}
		local, err := r.projections.Get(collection, canvas.CRS)
		if err != nil {
			return nil, err
		}
		out, err := Rasterize(canvas, local, opts)
		if err != nil {
			return nil, err
		}
		logging.FromContext(logging.WithStage(ctx, "rasterize")).Debug().Int("features", local.Len()).
			Int("width", canvas.Width).Int("height", canvas.Height).Str("agg", opts.Agg).Msg("rasterized")
		return out, nil
	}), nil
}

type rasterizer struct {
	opts        Options
	projections vector.Projections
}

// Rasterize paints c onto canvas. c must be in the reference system of the
// canvas. Every feature counts at most once per pixel.
func Rasterize(canvas *Canvas, c *vector.Collection, opts Options) (*grid.Array, error) {
	fill := math.NaN()
	switch opts.Agg {
	case AggAny, AggCount, AggSum:
		fill = 0
	}
	out, err := canvas.NewArray(fill)
	if err != nil {
		return nil, err
	}
	out.Name = c.Name
	out.HasNodata, out.Nodata = math.IsNaN(fill), fill
	if opts.Agg == AggAny {
		out.DType = "uint8"
	}
	inv, ok := out.Transform.Invert()
	if !ok {
		return nil, errors.New("canvas transform is singular")
	}

	p := painter{out: out, inv: inv, stamp: make([]int, len(out.Data))}
	for i, f := range c.Features {
		value, err := burnValue(f, opts)
		if err != nil {
			return nil, err
		}
		p.feature = i + 1
		p.paint = func(idx int) { combine(out.Data, idx, value, opts.Agg) }
		if err = p.geometry(f.Geometry); err != nil {
			return nil, errors.Wrapf(err, "feature %v", f.ID)
		}
	}
	return out, nil
}

func burnValue(f vector.Feature, opts Options) (float64, error) {
	if opts.BurnField == "" {
		return opts.BurnValue, nil
	}
	switch v := f.Properties[opts.BurnField].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return n, nil
		}
	case nil:
		return math.NaN(), nil
	}
	return 0, errors.Newf("feature %v: property %q is not numeric", f.ID, opts.BurnField)
}

func combine(data []float64, idx int, v float64, agg string) {
	cur := data[idx]
	switch agg {
	case AggAny:
		data[idx] = 1
	case AggCount:
		data[idx] = cur + 1
	case AggSum:
		if !math.IsNaN(v) {
			data[idx] = cur + v
		}
	case AggMax:
		if math.IsNaN(cur) || v > cur {
			data[idx] = v
		}
	case AggMin:
		if math.IsNaN(cur) || v < cur {
			data[idx] = v
		}
	case AggLast:
		data[idx] = v
	}
}

type painter struct {
	out     *grid.Array
	inv     grid.GeoTransform
	stamp   []int
	feature int
	paint   func(idx int)
}

func (p *painter) pixel(col, row int) {
	w, h := p.out.Shape[1], p.out.Shape[0]
	if col < 0 || row < 0 || col >= w || row >= h {
		return
	}
	idx := row*w + col
	if p.stamp[idx] == p.feature {
		return
	}
	p.stamp[idx] = p.feature
	p.paint(idx)
}

func (p *painter) geometry(g geom.Geometry) error {
	switch t := geomhelp.Normalize(g).(type) {
	case nil:
		return nil
	case geom.Point:
		p.point(t)
	case geom.MultiPoint:
		for _, pt := range t {
			p.point(pt)
		}
	case geom.LineString:
		return p.line(t)
	case geom.MultiLineString:
		for _, l := range t {
			if err := p.line(l); err != nil {
				return err
			}
		}
	case geom.Polygon:
		p.polygon(t)
	case geom.MultiPolygon:
		for _, poly := range t {
			p.polygon(poly)
		}
	default:
		return errors.Wrapf(ErrUnsupportedGeometry, "%T %s", g, geomhelp.ShortWKT(g, 80))
	}
	return nil
}

func (p *painter) point(pt [2]float64) {
	col, row := p.inv.Apply(pt[0], pt[1])
	p.pixel(int(math.Floor(col)), int(math.Floor(row)))
}

// line walks every segment with a DDA in pixel space. The line is clipped to
// the canvas first so far away vertices cost nothing.
func (p *painter) line(l [][2]float64) error {
	px := make(geom.LineString, 0, len(l))
	for _, pt := range l {
		c, r := p.inv.Apply(pt[0], pt[1])
		px = append(px, [2]float64{c, r})
	}
	if len(px) == 0 {
		return nil
	}
	if degenerate(px) {
		p.pixel(int(math.Floor(px[0][0])), int(math.Floor(px[0][1])))
		return nil
	}
	w, h := float64(p.out.Shape[1]), float64(p.out.Shape[0])
	parts, err := clip.LineStringer(context.Background(), px, &geom.Extent{-1, -1, w + 1, h + 1})
	if err != nil {
		return err
	}
	for _, part := range parts {
		for i := 0; i+1 < len(part); i++ {
			c0, r0 := part[i][0], part[i][1]
			dc, dr := part[i+1][0]-c0, part[i+1][1]-r0
			steps := int(math.Ceil(math.Max(math.Abs(dc), math.Abs(dr)))) * 2
			if steps == 0 {
				p.pixel(int(math.Floor(c0)), int(math.Floor(r0)))
				continue
			}
			for s := 0; s <= steps; s++ {
				t := float64(s) / float64(steps)
				p.pixel(int(math.Floor(c0+t*dc)), int(math.Floor(r0+t*dr)))
			}
		}
	}
	return nil
}

func degenerate(l geom.LineString) bool {
	for _, pt := range l[1:] {
		if pt != l[0] {
			return false
		}
	}
	return true
}

// polygon paints the pixels whose centre lies inside (or on the border of)
// the polygon, using even-odd crossings over all rings.
func (p *painter) polygon(poly geom.Polygon) {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return
	}
	ext, err := geom.NewExtentFromGeometry(poly)
	if err != nil {
		return
	}
	c0, r0 := p.inv.Apply(ext[0], ext[3])
	c1, r1 := p.inv.Apply(ext[2], ext[1])
	w, h := p.out.Shape[1], p.out.Shape[0]
	minC, maxC := clamp(math.Min(c0, c1), w), clamp(math.Max(c0, c1), w)
	minR, maxR := clamp(math.Min(r0, r1), h), clamp(math.Max(r0, r1), h)
	fwd := p.out.Transform
	for row := minR; row <= maxR && row < h; row++ {
		for col := minC; col <= maxC && col < w; col++ {
			x, y := fwd.Apply(float64(col)+0.5, float64(row)+0.5)
			if geomhelp.Contains(poly, [2]float64{x, y}) {
				p.pixel(col, row)
			}
		}
	}
}

func clamp(v float64, n int) int {
	i := int(math.Floor(v))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
