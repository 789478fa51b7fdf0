package geomhelp

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
)

func TestArea(t *testing.T) {
	var tests = []struct {
		geom [][][2]float64
		area float64
	}{
		// Rectangle
		0: {geom: [][][2]float64{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}}, area: 100},
		// Rectangle with hole
		1: {geom: [][][2]float64{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, {{2, 2}, {2, 8}, {8, 8}, {8, 2}, {2, 2}}}, area: 64},
		// Rectangle with empty hole
		2: {geom: [][][2]float64{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, {}}, area: 100},
		// Rectangle with nil hole
		3: {geom: [][][2]float64{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}, nil}, area: 100},
		// nil geometry
		4: {geom: nil, area: 0},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.area, Area(tt.geom), "test %d", i)
	}
}

func TestSieve(t *testing.T) {
	square := geom.Polygon{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}}
	withHoles := geom.Polygon{
		{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}},
		{{1, 1}, {1, 2}, {2, 2}, {2, 1}, {1, 1}},
		{{4, 4}, {4, 8}, {8, 8}, {8, 4}, {4, 4}},
	}
	sliver := geom.Polygon{{{20, 0}, {20, 10}, {20.1, 10}, {20.1, 0}, {20, 0}}}
	var tests = []struct {
		geom    geom.Geometry
		minArea float64
		want    geom.Geometry
	}{
		0: {geom: square, minArea: 99, want: square},
		1: {geom: square, minArea: 100, want: nil},
		2: {geom: &square, minArea: 1, want: square},
		3: {geom: withHoles, minArea: 1, want: geom.Polygon{withHoles[0], withHoles[2]}},
		4: {geom: geom.MultiPolygon{square, sliver}, minArea: 2, want: geom.MultiPolygon{square}},
		5: {geom: geom.MultiPolygon{sliver}, minArea: 2, want: nil},
		6: {geom: geom.Point{1, 2}, minArea: 10, want: geom.Point{1, 2}},
		7: {geom: geom.LineString{{0, 0}, {1, 1}}, minArea: 10, want: geom.LineString{{0, 0}, {1, 1}}},
	}
	for i, tt := range tests {
		got := Sieve(tt.geom, tt.minArea)
		if tt.want == nil {
			assert.Nil(t, got, "test %d", i)
			continue
		}
		assert.Equal(t, tt.want, got, "test %d", i)
	}
}
