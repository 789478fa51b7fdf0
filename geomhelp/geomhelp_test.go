package geomhelp

import (
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShoelace(t *testing.T) {
	assert.Equal(t, 4.0, Shoelace([][2]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}}))
	assert.Equal(t, 4.0, Shoelace([][2]float64{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}))
	assert.Equal(t, 0.0, Shoelace([][2]float64{{0, 0}, {2, 0}}))
	assert.Equal(t, 0.0, Shoelace(nil))
}

func TestContains(t *testing.T) {
	donut := [][][2]float64{
		{{0, 0}, {4, 0}, {4, 4}, {0, 4}},
		{{1, 1}, {3, 1}, {3, 3}, {1, 3}},
	}
	tests := []struct {
		pt   [2]float64
		want bool
	}{
		0: {pt: [2]float64{0.5, 0.5}, want: true},
		1: {pt: [2]float64{2, 2}, want: false},
		2: {pt: [2]float64{5, 2}, want: false},
		3: {pt: [2]float64{4, 2}, want: true},
		4: {pt: [2]float64{1, 2}, want: true},
		5: {pt: [2]float64{0, 0}, want: true},
		6: {pt: [2]float64{-1, 0}, want: false},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.want, Contains(donut, tt.pt), "test %d", i)
	}
}

func TestFlattenRebuild(t *testing.T) {
	tests := []geom.Geometry{
		0: geom.Point{1, 2},
		1: geom.LineString{{0, 0}, {1, 1}},
		2: geom.Polygon{{{0, 0}, {1, 0}, {1, 1}}, {{0.2, 0.2}, {0.3, 0.2}, {0.3, 0.3}}},
		3: geom.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}}}, {{{5, 5}, {6, 5}, {6, 6}}}},
		4: geom.Collection{geom.Point{1, 1}, geom.MultiLineString{{{0, 0}, {2, 2}}}},
		5: &geom.MultiPoint{{3, 4}, {5, 6}},
	}
	for i, g := range tests {
		xy, err := Flatten(g, nil)
		require.NoError(t, err, "test %d", i)
		for j := range xy {
			xy[j] *= 2
		}
		rebuilt, rest, err := Rebuild(g, xy)
		require.NoError(t, err, "test %d", i)
		assert.Empty(t, rest, "test %d", i)
		again, err := Flatten(rebuilt, nil)
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, xy, again, "test %d", i)
	}
}

func TestShortWKT(t *testing.T) {
	s := ShortWKT(geom.LineString{{0, 0}, {1000000, 1000000}, {2000000, 2000000}}, 20)
	assert.LessOrEqual(t, len(s), 20)
	assert.Contains(t, s, "...")
	assert.Contains(t, ShortWKT(geom.Point{1, 2}, 0), "POINT")
}
