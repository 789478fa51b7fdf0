// Package split assigns chips to train, validation and test sets by the H3
// cell of their centre, so chips that overlap the same area end up in the
// same set.
package split

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	h3 "github.com/uber/h3-go/v4"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/srs"
)

type Split string

const (
	Train      Split = "train"
	Validation Split = "validation"
	Test       Split = "test"

	// Attrs keys set on assigned chips.
	SplitAttr = "split"
	CellAttr  = "h3:cell"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Options struct {
	// Resolution of the H3 grid, 1 (continents) to 15 (square metres).
	Resolution int `default:"7" validate:"gte=1,lte=15"`
	// Fractions of train, validation and test. They are normalized to sum 1.
	Fractions []float64 `default:"[0.8,0.1,0.1]" validate:"len=3,dive,gte=0"`
	// Seed changes the assignment while keeping it deterministic.
	Seed string
}

type Assigner struct {
	resolution int
	seed       string
	// upper bounds of train and validation in [0, 1)
	cuts [2]float64
}

func NewAssigner(opts Options) (*Assigner, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid split options")
	}
	total := opts.Fractions[0] + opts.Fractions[1] + opts.Fractions[2]
	if total <= 0 {
		return nil, errors.Newf("split fractions %v sum to zero", opts.Fractions)
	}
	return &Assigner{
		resolution: opts.Resolution,
		seed:       opts.Seed,
		cuts:       [2]float64{opts.Fractions[0] / total, (opts.Fractions[0] + opts.Fractions[1]) / total},
	}, nil
}

// Cell returns the H3 cell holding the centre of chip.
func (s *Assigner) Cell(chip *grid.Array) (h3.Cell, error) {
	if !chip.CRS.Defined() {
		return 0, errors.Wrapf(srs.ErrUndefinedCRS, "chip %q", chip.Name)
	}
	b, err := chip.Bounds()
	if err != nil {
		return 0, err
	}
	xy := []float64{(b[0] + b[2]) / 2, (b[1] + b[3]) / 2}
	if err = srs.Transform(chip.CRS, srs.WGS84, xy); err != nil {
		return 0, err
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(xy[1], xy[0]), s.resolution)
	if err != nil {
		return 0, errors.Wrapf(err, "h3 cell of %v", xy)
	}
	return cell, nil
}

// Of returns the split of a cell.
func (s *Assigner) Of(cell h3.Cell) Split {
	d := xxhash.New()
	_, _ = d.WriteString(s.seed)
	_, _ = d.WriteString(cell.String())
	// top 53 bits as a uniform value in [0, 1)
	u := float64(d.Sum64()>>11) / math.Exp2(53)
	switch {
	case u < s.cuts[0]:
		return Train
	case u < s.cuts[1]:
		return Validation
	}
	return Test
}

func (s *Assigner) Assign(chip *grid.Array) (Split, h3.Cell, error) {
	cell, err := s.Cell(chip)
	if err != nil {
		return "", 0, err
	}
	return s.Of(cell), cell, nil
}

// NewSplitter tags every chip with its split and cell in Attrs.
func NewSplitter(chips processing.Pipe[*grid.Array], opts Options) (processing.Pipe[*grid.Array], error) {
	s, err := NewAssigner(opts)
	if err != nil {
		return nil, err
	}
	return processing.Map(chips, func(ctx context.Context, chip *grid.Array) (*grid.Array, error) {
		split, cell, err := s.Assign(chip)
		if err != nil {
			return nil, err
		}
		out := *chip
		out.Attrs = make(map[string]any, len(chip.Attrs)+2)
		for k, v := range chip.Attrs {
			out.Attrs[k] = v
		}
		out.Attrs[SplitAttr] = split
		out.Attrs[CellAttr] = cell.String()
		logging.FromContext(logging.WithStage(ctx, "split")).Debug().Str("cell", cell.String()).
			Str("split", string(split)).Msg("assigned")
		return &out, nil
	}), nil
}

// Of returns the split stored on a chip by NewSplitter.
func Of(chip *grid.Array) (Split, bool) {
	s, ok := chip.Attrs[SplitAttr].(Split)
	return s, ok
}
