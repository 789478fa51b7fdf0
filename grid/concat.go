package grid

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// Concat joins arrays along an existing dim. All other dims must have the
// same names and lengths. Metadata is taken from the first array.
func Concat(dim string, parts ...*Array) (*Array, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	first := parts[0]
	axis := first.Axis(dim)
	if axis < 0 {
		return nil, errors.Newf("array %q has no dim %q", first.Name, dim)
	}
	total := 0
	for i, p := range parts {
		if !slices.Equal(p.Dims, first.Dims) {
			return nil, errors.Newf("part %d has dims %v, want %v", i, p.Dims, first.Dims)
		}
		for j := range p.Shape {
			if j != axis && p.Shape[j] != first.Shape[j] {
				return nil, errors.Newf("part %d has shape %v, incompatible with %v along %q", i, p.Shape, first.Shape, dim)
			}
		}
		total += p.Shape[axis]
	}

	out := first.CloneMeta()
	out.Shape[axis] = total
	out.Data = make([]float64, 0, out.Size())
	outer, inner := 1, 1
	for _, n := range first.Shape[:axis] {
		outer *= n
	}
	for _, n := range first.Shape[axis+1:] {
		inner *= n
	}
	for o := 0; o < outer; o++ {
		for _, p := range parts {
			block := p.Shape[axis] * inner
			out.Data = append(out.Data, p.Data[o*block:(o+1)*block]...)
		}
	}

	delete(out.Coords, dim)
	coord := Coord{}
	for _, p := range parts {
		c, ok := p.Coords[dim]
		if !ok {
			return out, nil
		}
		coord.Values = append(coord.Values, c.Values...)
		coord.Labels = append(coord.Labels, c.Labels...)
		coord.Times = append(coord.Times, c.Times...)
	}
	if coord.Len() == total {
		out.Coords[dim] = coord
	}
	return out, nil
}

// Stack joins same-shape arrays along a new leading dim.
func Stack(dim string, coord Coord, parts ...*Array) (*Array, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to stack")
	}
	first := parts[0]
	if first.Axis(dim) >= 0 {
		return nil, errors.Newf("array %q already has dim %q", first.Name, dim)
	}
	for i, p := range parts {
		if !slices.Equal(p.Dims, first.Dims) || !slices.Equal(p.Shape, first.Shape) {
			return nil, errors.Newf("part %d is %v %v, want %v %v", i, p.Dims, p.Shape, first.Dims, first.Shape)
		}
	}
	out := first.CloneMeta()
	out.Dims = append([]string{dim}, out.Dims...)
	out.Shape = append([]int{len(parts)}, out.Shape...)
	out.Data = make([]float64, 0, out.Size())
	for _, p := range parts {
		out.Data = append(out.Data, p.Data...)
	}
	if coord.Len() == len(parts) {
		out.Coords[dim] = coord
	} else if coord.Len() != 0 {
		return nil, errors.Newf("%d coordinates for %d stacked arrays", coord.Len(), len(parts))
	}
	return out, nil
}
