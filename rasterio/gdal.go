//go:build gdal

package rasterio

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/srs"
)

var registerGDAL sync.Once

func init() {
	registerGDAL.Do(godal.RegisterAll)
	Register(GDAL{}, capability.Raster)
	srs.RegisterProvider("gdal", 10, gdalProvider)
	grid.RegisterWarper(gdalWarp)
}

// GDAL reads everything GDAL can open as a raster, /vsi addresses included.
type GDAL struct{}

func (GDAL) Name() string {
	return "gdal"
}

func (GDAL) Accepts(string) bool {
	return true
}

func (GDAL) Open(ctx context.Context, address string, opts Options) (*grid.Array, error) {
	if isRemote(address) {
		address = "/vsicurl/" + address
	}
	ds, err := godal.Open(address, godal.RasterOnly())
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	structure := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, errors.Wrap(err, "geotransform")
	}

	bands := opts.Bands
	if len(bands) == 0 {
		bands = make([]int, structure.NBands)
		for i := range bands {
			bands[i] = i + 1
		}
	}
	all := ds.Bands()
	width, height := structure.SizeX, structure.SizeY
	if opts.OverviewLevel > 0 {
		overviews := all[0].Overviews()
		if opts.OverviewLevel > len(overviews) {
			return nil, errors.Newf("overview level %d requested, %s has %d", opts.OverviewLevel, address, len(overviews))
		}
		ovr := overviews[opts.OverviewLevel-1].Structure()
		gt[1] *= float64(width) / float64(ovr.SizeX)
		gt[5] *= float64(height) / float64(ovr.SizeY)
		width, height = ovr.SizeX, ovr.SizeY
	}

	a, err := grid.New([]string{"band", "y", "x"}, []int{len(bands), height, width})
	if err != nil {
		return nil, err
	}
	a.Transform = grid.GeoTransform(gt)
	a.DType = structure.DataType.String()
	a.CRS = crsOf(ds.SpatialRef())

	rows := height
	if n, ok := opts.Chunks["y"]; ok && n < height {
		rows = n
	}
	labels := make([]string, len(bands))
	for i, b := range bands {
		if b > len(all) {
			return nil, errors.Newf("band %d out of range, raster has %d bands", b, len(all))
		}
		band := all[b-1]
		if nodata, ok := band.NoData(); ok {
			a.Nodata, a.HasNodata = nodata, true
		}
		labels[i] = band.Description()
		if opts.OverviewLevel > 0 {
			band = band.Overviews()[opts.OverviewLevel-1]
		}
		plane := a.Data[i*width*height : (i+1)*width*height]
		for row := 0; row < height; row += rows {
			n := min(rows, height-row)
			if err := band.Read(0, row, plane[row*width:(row+n)*width], width, n, resampling(opts.Resampling)); err != nil {
				return nil, errors.Wrapf(err, "read band %d rows %d-%d", b, row, row+n)
			}
		}
	}
	a.Coords["band"] = grid.Coord{Values: bandValues(bands)}
	if strings.Join(labels, "") != "" {
		a.Attrs["long_name"] = labels
	}
	if err := a.SetSpatialCoords(); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug().Int("bands", len(bands)).Int("overview", opts.OverviewLevel).Msg("read with gdal")
	return a, nil
}

func resampling(r grid.Resampling) godal.BandIOOption {
	if r == grid.Bilinear {
		return godal.Resampling(godal.Bilinear)
	}
	return godal.Resampling(godal.Nearest)
}

func bandValues(bands []int) []float64 {
	values := make([]float64, len(bands))
	for i, b := range bands {
		values[i] = float64(b)
	}
	return values
}

func crsOf(sr *godal.SpatialRef) srs.CRS {
	if sr == nil {
		return srs.Undefined
	}
	_ = sr.AutoIdentifyEPSG()
	if !strings.EqualFold(sr.AuthorityName(""), "EPSG") {
		return srs.Undefined
	}
	code, err := strconv.Atoi(sr.AuthorityCode(""))
	if err != nil {
		return srs.Undefined
	}
	return srs.CRS(code)
}

// gdalProvider transforms between any two EPSG codes with OSR.
func gdalProvider(from, to srs.CRS) (srs.TransformFunc, bool) {
	return func(xy []float64) error {
		src, err := godal.NewSpatialRefFromEPSG(from.EPSG())
		if err != nil {
			return errors.Mark(err, srs.ErrReproject)
		}
		defer src.Close()
		dst, err := godal.NewSpatialRefFromEPSG(to.EPSG())
		if err != nil {
			return errors.Mark(err, srs.ErrReproject)
		}
		defer dst.Close()
		trn, err := godal.NewTransform(src, dst)
		if err != nil {
			return errors.Mark(err, srs.ErrReproject)
		}
		defer trn.Close()

		n := len(xy) / 2
		x, y := make([]float64, n), make([]float64, n)
		for i := 0; i < n; i++ {
			x[i], y[i] = xy[2*i], xy[2*i+1]
		}
		if err := trn.TransformEx(x, y, nil, nil); err != nil {
			return errors.Mark(err, srs.ErrReproject)
		}
		for i := 0; i < n; i++ {
			xy[2*i], xy[2*i+1] = x[i], y[i]
		}
		return nil
	}, true
}
