// Package chipindex writes the footprints of chips to a GeoPackage table, so
// a training set can be inspected and filtered in a GIS.
package chipindex

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	gogpkg "github.com/go-spatial/geom/encoding/gpkg"
	"golang.org/x/sync/errgroup"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/pkg/gpkg"
	"github.com/pdok/geopipe/slicer"
	"github.com/pdok/geopipe/split"
	"github.com/pdok/geopipe/srs"
)

// FeaturesAttr holds the number of vector features clipped to a chip.
const FeaturesAttr = "vector:features"

// edgeVertices is the number of segments per footprint edge when the
// footprint is reprojected.
const edgeVertices = 8

var validate = validator.New(validator.WithRequiredStructEnabled())

type Options struct {
	Table    string `default:"chips" validate:"required"`
	EPSG     int    `default:"4326" validate:"gt=0"`
	PageSize int    `default:"1000" validate:"gt=0"`
}

var columns = []gpkg.Column{
	{Name: "name", Type: "TEXT"},
	{Name: "source", Type: "TEXT"},
	{Name: "window", Type: "TEXT"},
	{Name: "x_off", Type: "INTEGER"},
	{Name: "y_off", Type: "INTEGER"},
	{Name: "width", Type: "INTEGER"},
	{Name: "height", Type: "INTEGER"},
	{Name: "split", Type: "TEXT"},
	{Name: "h3_cell", Type: "TEXT"},
	{Name: "features", Type: "INTEGER"},
}

// Index is a processing.Target for chips.
type Index struct {
	target *gpkg.TargetGeopackage
	crs    srs.CRS
}

// Create opens file and adds the chip table to it.
func Create(file string, opts Options) (*Index, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid chip index options")
	}
	target, err := gpkg.OpenTarget(file, opts.PageSize)
	if err != nil {
		return nil, err
	}
	crs := srs.CRS(opts.EPSG)
	table := gpkg.NewTable(opts.Table, gogpkg.Polygon, crs, columns...)
	target.Table = table
	if err = target.CreateTables([]gpkg.Table{table}); err != nil {
		_ = target.Close()
		return nil, err
	}
	return &Index{target: target, crs: crs}, nil
}

func (ix *Index) Close() error {
	return ix.target.Close()
}

// WriteItems writes a row for every chip until chips is closed.
func (ix *Index) WriteItems(ctx context.Context, chips <-chan *grid.Array) error {
	g, ctx := errgroup.WithContext(ctx)
	features := make(chan gpkg.Feature)
	g.Go(func() error {
		defer close(features)
		for chip := range chips {
			row, err := ix.row(chip)
			if err != nil {
				return err
			}
			select {
			case features <- row:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		return ix.target.WriteItems(ctx, features)
	})
	return g.Wait()
}

func (ix *Index) row(chip *grid.Array) (*gpkg.Record, error) {
	if !chip.CRS.Defined() {
		return nil, errors.Wrapf(srs.ErrUndefinedCRS, "chip %q", chip.Name)
	}
	x, y, err := chip.SpatialDims()
	if err != nil {
		return nil, err
	}
	bounds, err := chip.Bounds()
	if err != nil {
		return nil, err
	}
	footprint, err := Footprint(bounds, chip.CRS, ix.crs)
	if err != nil {
		return nil, errors.Wrapf(err, "footprint of chip %q", chip.Name)
	}

	var window, xOff, yOff, splitName, cell, features any
	if w, ok := slicer.WindowOf(chip); ok {
		window = FormatWindow(w)
		if r, ok := w[x]; ok {
			xOff = int64(r.Start)
		}
		if r, ok := w[y]; ok {
			yOff = int64(r.Start)
		}
	}
	if s, ok := split.Of(chip); ok {
		splitName = string(s)
	}
	if c, ok := chip.Attrs[split.CellAttr].(string); ok {
		cell = c
	}
	if n, ok := chip.Attrs[FeaturesAttr].(int); ok {
		features = int64(n)
	}
	values := []any{nil, chip.Name, chip.Source, window, xOff, yOff,
		int64(chip.Len(x)), int64(chip.Len(y)), splitName, cell, features}
	return gpkg.NewRecord(nil, values, footprint), nil
}

// FormatWindow writes a window as "dim=start:stop" pairs sorted by dim.
func FormatWindow(w slicer.Window) string {
	dims := make([]string, 0, len(w))
	for dim := range w {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	var sb strings.Builder
	for i, dim := range dims {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(dim)
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(w[dim].Start))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(w[dim].Stop))
	}
	return sb.String()
}

// Footprint returns the closed outline of bounds in another reference
// system. Edges are densified when the systems differ.
func Footprint(bounds geom.Extent, from, to srs.CRS) (geom.Polygon, error) {
	corners := [][2]float64{
		{bounds[0], bounds[1]}, {bounds[2], bounds[1]}, {bounds[2], bounds[3]}, {bounds[0], bounds[3]},
	}
	if from == to {
		return geom.Polygon{append(corners, corners[0])}, nil
	}
	xy := make([]float64, 0, 2*(4*edgeVertices+1))
	for i, c := range corners {
		next := corners[(i+1)%4]
		for s := 0; s < edgeVertices; s++ {
			t := float64(s) / edgeVertices
			xy = append(xy, c[0]+t*(next[0]-c[0]), c[1]+t*(next[1]-c[1]))
		}
	}
	xy = append(xy, corners[0][0], corners[0][1])
	if err := srs.Transform(from, to, xy); err != nil {
		return nil, err
	}
	ring := make([][2]float64, len(xy)/2)
	for i := range ring {
		ring[i] = [2]float64{xy[2*i], xy[2*i+1]}
	}
	return geom.Polygon{ring}, nil
}
