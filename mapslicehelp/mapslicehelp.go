package mapslicehelp

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// OrderedMapKeys returns the keys of m in insertion order.
func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}
