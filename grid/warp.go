package grid

import (
	"math"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/srs"
)

// Resampling selects how source pixels are sampled when warping.
type Resampling string

const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
)

// ParseResampling accepts the method names case insensitively. The empty
// string is Nearest.
func ParseResampling(s string) (Resampling, error) {
	switch Resampling(strings.ToLower(s)) {
	case "", Nearest:
		return Nearest, nil
	case Bilinear:
		return Bilinear, nil
	}
	return "", errors.Newf("unsupported resampling method %q", s)
}

// Warper writes the warped planes of src into dst.Data. dst carries the
// target grid and fill as its nodata value, src always has a transform. It
// reports false when it cannot serve the pair, Warp then samples itself.
type Warper func(src, dst *Array, method Resampling) (bool, error)

var (
	warperMu sync.RWMutex
	warper   Warper
)

// RegisterWarper makes Warp hand its work to w first. nil restores the
// built-in sampling.
func RegisterWarper(w Warper) {
	warperMu.Lock()
	defer warperMu.Unlock()
	warper = w
}

// Warp samples src onto the grid of dst. The spatial dims of src must be
// its last two dims, y before x. Leading dims are kept as they are. Pixels
// without a valid source value get fill.
func Warp(src *Array, dst Spec, method Resampling, fill float64) (*Array, error) {
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	xDim, yDim, err := src.SpatialDims()
	if err != nil {
		return nil, err
	}
	n := len(src.Dims)
	if src.Axis(yDim) != n-2 || src.Axis(xDim) != n-1 {
		return nil, errors.Newf("array %q must end with dims (%s, %s), has %v", src.Name, yDim, xDim, src.Dims)
	}
	transform := src.Transform
	if transform.IsZero() {
		tmp := src.CloneMeta()
		if err := tmp.SetTransformFromCoords(); err != nil {
			return nil, err
		}
		transform = tmp.Transform
	}
	inv, ok := transform.Invert()
	if !ok {
		return nil, errors.Newf("array %q has a singular transform", src.Name)
	}

	out := src.CloneMeta()
	w, h := dst.Size()
	out.Dims[n-2], out.Dims[n-1] = "y", "x"
	out.Shape[n-2], out.Shape[n-1] = h, w
	delete(out.Coords, xDim)
	delete(out.Coords, yDim)
	out.Coords["x"] = Coord{Values: dst.XCoords()}
	out.Coords["y"] = Coord{Values: dst.YCoords()}
	out.CRS = dst.CRS
	out.Transform = dst.GeoTransform()
	out.Nodata = fill
	out.HasNodata = true
	out.Data = make([]float64, out.Size())
	for i := range out.Data {
		out.Data[i] = fill
	}

	warperMu.RLock()
	custom := warper
	warperMu.RUnlock()
	if custom != nil {
		resolved := *src
		resolved.Transform = transform
		ok, err := custom(&resolved, out, method)
		if err != nil {
			return nil, errors.Wrapf(err, "warping %q", src.Name)
		}
		if ok {
			return out, nil
		}
	}

	xs, ys := out.Coords["x"].Values, out.Coords["y"].Values
	xy := make([]float64, 0, 2*w*h)
	for _, y := range ys {
		for _, x := range xs {
			xy = append(xy, x, y)
		}
	}
	if dst.CRS != src.CRS {
		if err := srs.Transform(dst.CRS, src.CRS, xy); err != nil {
			return nil, err
		}
	}

	sw, sh := src.Shape[n-1], src.Shape[n-2]
	planes := 1
	for _, l := range src.Shape[:n-2] {
		planes *= l
	}
	for p := 0; p < planes; p++ {
		plane := src.Data[p*sw*sh : (p+1)*sw*sh]
		target := out.Data[p*w*h : (p+1)*w*h]
		for i := range target {
			col, row := inv.Apply(xy[2*i], xy[2*i+1])
			switch method {
			case Bilinear:
				target[i] = sampleBilinear(src, plane, sw, sh, col, row, fill)
			default:
				target[i] = sampleNearest(src, plane, sw, sh, col, row, fill)
			}
		}
	}
	return out, nil
}

func sampleNearest(src *Array, plane []float64, w, h int, col, row, fill float64) float64 {
	if math.IsNaN(col) || math.IsNaN(row) {
		return fill
	}
	c, r := int(math.Floor(col)), int(math.Floor(row))
	if c < 0 || r < 0 || c >= w || r >= h {
		return fill
	}
	v := plane[r*w+c]
	if src.IsNodata(v) {
		return fill
	}
	return v
}

// sampleBilinear weighs the four nearest pixel centres, skipping those
// without data.
func sampleBilinear(src *Array, plane []float64, w, h int, col, row, fill float64) float64 {
	if math.IsNaN(col) || math.IsNaN(row) || col < 0 || row < 0 || col >= float64(w) || row >= float64(h) {
		return fill
	}
	fc, fr := col-0.5, row-0.5
	c0, r0 := int(math.Floor(fc)), int(math.Floor(fr))
	dc, dr := fc-float64(c0), fr-float64(r0)
	var sum, weights float64
	for _, n := range [4]struct {
		c, r int
		w    float64
	}{
		{c0, r0, (1 - dc) * (1 - dr)},
		{c0 + 1, r0, dc * (1 - dr)},
		{c0, r0 + 1, (1 - dc) * dr},
		{c0 + 1, r0 + 1, dc * dr},
	} {
		c := min(max(n.c, 0), w-1)
		r := min(max(n.r, 0), h-1)
		v := plane[r*w+c]
		if n.w == 0 || src.IsNodata(v) {
			continue
		}
		sum += v * n.w
		weights += n.w
	}
	if weights == 0 {
		return fill
	}
	return sum / weights
}
