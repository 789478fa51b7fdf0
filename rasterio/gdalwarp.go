//go:build gdal

package rasterio

import (
	"github.com/airbusgeo/godal"
	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/grid"
)

// gdalWarp copies the planes of src and dst into MEM datasets and lets GDAL
// warp one into the other. Arrays whose reference system GDAL does not know
// are left to grid.Warp.
func gdalWarp(src, dst *grid.Array, method grid.Resampling) (bool, error) {
	n := len(src.Dims)
	sw, sh := src.Shape[n-1], src.Shape[n-2]
	dw, dh := dst.Shape[n-1], dst.Shape[n-2]
	if sw*sh == 0 || dw*dh == 0 {
		return false, nil
	}
	planes := len(src.Data) / (sw * sh)

	in, ok, err := memDataset(src, planes, sw, sh)
	if !ok || err != nil {
		return false, err
	}
	defer in.Close()
	out, ok, err := memDataset(dst, planes, dw, dh)
	if !ok || err != nil {
		return false, err
	}
	defer out.Close()

	if err = out.WarpInto([]*godal.Dataset{in}, []string{"-r", warpAlgorithm(method)}); err != nil {
		return false, errors.Wrap(err, "gdal warp")
	}
	for p, band := range out.Bands() {
		if err = band.Read(0, 0, dst.Data[p*dw*dh:(p+1)*dw*dh], dw, dh); err != nil {
			return false, errors.Wrapf(err, "read warped plane %d", p)
		}
	}
	return true, nil
}

// memDataset holds one band per plane of a. It reports false when the
// reference system of a is unknown to GDAL.
func memDataset(a *grid.Array, planes, w, h int) (*godal.Dataset, bool, error) {
	sr, err := godal.NewSpatialRefFromEPSG(a.CRS.EPSG())
	if err != nil {
		return nil, false, nil
	}
	defer sr.Close()
	ds, err := godal.Create(godal.Memory, "", planes, godal.Float64, w, h)
	if err != nil {
		return nil, false, errors.Wrap(err, "create MEM dataset")
	}
	if err = ds.SetGeoTransform([6]float64(a.Transform)); err != nil {
		ds.Close()
		return nil, false, errors.Wrap(err, "set geotransform")
	}
	if err = ds.SetSpatialRef(sr); err != nil {
		ds.Close()
		return nil, false, errors.Wrap(err, "set spatial reference")
	}
	for p, band := range ds.Bands() {
		if a.HasNodata {
			if err = band.SetNoData(a.Nodata); err != nil {
				ds.Close()
				return nil, false, errors.Wrap(err, "set nodata")
			}
		}
		if err = band.Write(0, 0, a.Data[p*w*h:(p+1)*w*h], w, h); err != nil {
			ds.Close()
			return nil, false, errors.Wrapf(err, "write plane %d", p)
		}
	}
	return ds, true, nil
}

func warpAlgorithm(r grid.Resampling) string {
	if r == grid.Bilinear {
		return "bilinear"
	}
	return "near"
}
