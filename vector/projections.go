package vector

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/srs"
)

// Projections remembers the reprojected copies of the last collection it
// was given, so a collection broadcast to many windows is reprojected once
// per reference system. A new collection replaces the remembered one.
type Projections struct {
	mu    sync.Mutex
	last  *Collection
	byCRS map[srs.CRS]*Collection
}

func (p *Projections) Get(c *Collection, to srs.CRS) (*Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != c {
		p.last = c
		p.byCRS = make(map[srs.CRS]*Collection)
	}
	if r, ok := p.byCRS[to]; ok {
		return r, nil
	}
	r, err := c.Reproject(to)
	if err != nil {
		return nil, errors.Wrapf(err, "reprojecting %q to %s", c.Name, to)
	}
	p.byCRS[to] = r
	return r, nil
}

// Len returns the number of copies held.
func (p *Projections) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byCRS)
}
