// Package slicer cuts arrays into fixed size windows.
package slicer

import (
	"context"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/mapslicehelp"
	"github.com/pdok/geopipe/processing"
)

// WindowAttr is the attribute of a chip holding its Window.
const WindowAttr = "window"

// Options configure the windows. Windows that would extend past the end of a
// dim are dropped.
type Options struct {
	// InputDims maps dims to window sizes. The first dim is the outermost
	// in the traversal, the last one varies fastest.
	InputDims *orderedmap.OrderedMap[string, int]
	// InputOverlap is the number of positions consecutive windows share.
	InputOverlap map[string]int
}

// Dims builds the window sizes in traversal order from name, size pairs.
func Dims(pairs ...orderedmap.Pair[string, int]) *orderedmap.OrderedMap[string, int] {
	m := orderedmap.New[string, int]()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

func (o Options) Validate() error {
	if o.InputDims == nil || o.InputDims.Len() == 0 {
		return errors.New("no input dims to slice along")
	}
	for p := o.InputDims.Oldest(); p != nil; p = p.Next() {
		if p.Value <= 0 {
			return errors.Newf("window size for %q must be positive, got %d", p.Key, p.Value)
		}
		overlap := o.InputOverlap[p.Key]
		if overlap < 0 || overlap >= p.Value {
			return errors.Newf("overlap for %q must be in [0, %d), got %d", p.Key, p.Value, overlap)
		}
	}
	for dim := range o.InputOverlap {
		if _, ok := o.InputDims.Get(dim); !ok {
			return errors.Newf("overlap given for %q which is not an input dim", dim)
		}
	}
	return nil
}

// Window is the position of a chip in the array it was cut from.
type Window map[string]grid.Range

// WindowOf returns the window a chip was cut from.
func WindowOf(chip *grid.Array) (Window, bool) {
	w, ok := chip.Attrs[WindowAttr].(Window)
	return w, ok
}

// Windows lists the windows of a in row-major order over the input dims.
func Windows(a *grid.Array, opts Options) ([]Window, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	dims := mapslicehelp.OrderedMapKeys(opts.InputDims)
	starts := make([][]int, len(dims))
	total := 1
	for i, dim := range dims {
		n := a.Len(dim)
		if a.Axis(dim) < 0 {
			return nil, errors.Newf("array %q has no dim %q", a.Name, dim)
		}
		size, _ := opts.InputDims.Get(dim)
		stride := size - opts.InputOverlap[dim]
		for s := 0; s+size <= n; s += stride {
			starts[i] = append(starts[i], s)
		}
		total *= len(starts[i])
	}
	windows := make([]Window, 0, total)
	if total == 0 {
		return windows, nil
	}
	idx := make([]int, len(dims))
	for {
		w := make(Window, len(dims))
		for i, dim := range dims {
			size, _ := opts.InputDims.Get(dim)
			start := starts[i][idx[i]]
			w[dim] = grid.Range{Start: start, Stop: start + size}
		}
		windows = append(windows, w)
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(starts[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return windows, nil
		}
	}
}

// CountWindows returns how many chips a yields.
func CountWindows(a *grid.Array, opts Options) (int, error) {
	windows, err := Windows(a, opts)
	return len(windows), err
}

// NewSlicer yields the chips of every array, array by array.
func NewSlicer(arrays processing.Pipe[*grid.Array], opts Options) (processing.Pipe[*grid.Array], error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid slicer options")
	}
	return &slicer{arrays: arrays, opts: opts}, nil
}

type slicer struct {
	arrays  processing.Pipe[*grid.Array]
	opts    Options
	current *grid.Array
	windows []Window
	pos     int
}

func (s *slicer) Next(ctx context.Context) (*grid.Array, error) {
	for s.pos >= len(s.windows) {
		a, err := s.arrays.Next(ctx)
		if err != nil {
			return nil, err
		}
		if s.windows, err = Windows(a, s.opts); err != nil {
			return nil, err
		}
		s.current, s.pos = a, 0
		logging.FromContext(logging.WithStage(ctx, "slicer")).Debug().Str("array", a.Name).
			Str("source", a.Source).Int("windows", len(s.windows)).Msg("slicing")
	}
	w := s.windows[s.pos]
	s.pos++
	chip, err := s.current.Isel(w)
	if err != nil {
		return nil, err
	}
	chip.Attrs[WindowAttr] = w
	return chip, nil
}
