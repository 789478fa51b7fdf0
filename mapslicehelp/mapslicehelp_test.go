package mapslicehelp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestOrderedMapKeys(t *testing.T) {
	m := orderedmap.New[string, int]()
	assert.Equal(t, []string{}, OrderedMapKeys(m))
	m.Set("y", 256)
	m.Set("x", 128)
	m.Set("band", 3)
	m.Set("y", 64)
	assert.Equal(t, []string{"y", "x", "band"}, OrderedMapKeys(m))
}
