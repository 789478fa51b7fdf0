package grid

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"

	"github.com/pdok/geopipe/srs"
)

// Spec describes a north-up target grid.
type Spec struct {
	CRS    srs.CRS
	Bounds geom.Extent
	// ResX and ResY are positive pixel sizes in CRS units.
	ResX float64
	ResY float64
}

// SpecOf returns the grid an array is on.
func SpecOf(a *Array) (Spec, error) {
	bounds, err := a.Bounds()
	if err != nil {
		return Spec{}, err
	}
	rx, ry, err := a.Resolution()
	if err != nil {
		return Spec{}, err
	}
	return Spec{CRS: a.CRS, Bounds: bounds, ResX: math.Abs(rx), ResY: math.Abs(ry)}, nil
}

func (s Spec) Validate() error {
	if s.ResX <= 0 || s.ResY <= 0 {
		return errors.Newf("resolution must be positive, got %v x %v", s.ResX, s.ResY)
	}
	if s.Bounds[2] <= s.Bounds[0] || s.Bounds[3] <= s.Bounds[1] {
		return errors.Newf("empty bounds %v", s.Bounds)
	}
	return nil
}

// Size returns the number of columns and rows. Partial pixels at the right
// and bottom edge are included.
func (s Spec) Size() (width, height int) {
	const eps = 1e-9
	width = int(math.Ceil((s.Bounds[2]-s.Bounds[0])/s.ResX - eps))
	height = int(math.Ceil((s.Bounds[3]-s.Bounds[1])/s.ResY - eps))
	return width, height
}

func (s Spec) GeoTransform() GeoTransform {
	return GeoTransform{s.Bounds[0], s.ResX, 0, s.Bounds[3], 0, -s.ResY}
}

// XCoords returns the pixel centres along x, west to east.
func (s Spec) XCoords() []float64 {
	w, _ := s.Size()
	return centres(s.Bounds[0], s.ResX, w)
}

// YCoords returns the pixel centres along y, north to south.
func (s Spec) YCoords() []float64 {
	_, h := s.Size()
	return centres(s.Bounds[3], -s.ResY, h)
}

// NewArray allocates an array on s with the given leading dims and dims
// y and x last.
func (s Spec) NewArray(leading []string, leadingShape []int) (*Array, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w, h := s.Size()
	a, err := New(append(append([]string(nil), leading...), "y", "x"), append(append([]int(nil), leadingShape...), h, w))
	if err != nil {
		return nil, err
	}
	a.CRS = s.CRS
	a.Transform = s.GeoTransform()
	a.Coords["x"] = Coord{Values: s.XCoords()}
	a.Coords["y"] = Coord{Values: s.YCoords()}
	return a, nil
}
