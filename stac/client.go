// Package stac searches SpatioTemporal Asset Catalogs and reads the assets of
// the items they return.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/httpclient"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
)

var (
	ErrNoSearchLink     = errors.New("catalog has no search link")
	ErrNoCatalog        = errors.New("no catalog url given and STAC_URL is not set")
	ErrUnsupportedAsset = errors.New("asset media type has no array engine")
)

func init() {
	capability.Provide(capability.Catalog, "stac")
}

// Modifier is applied to every item before it is handed out, for example to
// sign asset hrefs.
type Modifier func(*Item) error

// Client talks to a STAC API. The landing page is fetched on first use.
type Client struct {
	catalogURL string
	http       *http.Client
	modifier   Modifier

	mu     sync.Mutex
	search *Link
}

func NewClient(catalogURL string, httpClient *http.Client, modifier Modifier) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewOutbound()
	}
	return &Client{catalogURL: catalogURL, http: httpClient, modifier: modifier}
}

func (c *Client) URL() string {
	return c.catalogURL
}

// SearchLink returns the search link of the catalog.
func (c *Client) SearchLink(ctx context.Context) (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.search != nil {
		return *c.search, nil
	}
	var landing struct {
		Links []Link `json:"links"`
	}
	if err := c.do(ctx, request{method: http.MethodGet, url: c.catalogURL}, &landing); err != nil {
		return Link{}, errors.Wrap(err, "opening catalog")
	}
	var found *Link
	for i := range landing.Links {
		l := landing.Links[i]
		if l.Rel != "search" {
			continue
		}
		if found == nil || strings.EqualFold(l.Method, http.MethodPost) {
			found = &l
		}
	}
	if found == nil {
		return Link{}, errors.Wrapf(ErrNoSearchLink, "catalog %s", c.catalogURL)
	}
	href, err := resolveHref(c.catalogURL, found.Href)
	if err != nil {
		return Link{}, err
	}
	found.Href = href
	c.search = found
	return *found, nil
}

// Search describes a search. Nothing is requested until its items are pulled.
func (c *Client) Search(q Query) *ItemSearch {
	return &ItemSearch{client: c, query: q}
}

type request struct {
	method  string
	url     string
	body    map[string]any
	headers map[string]string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	logging.FromContext(ctx).Debug().Str("method", r.method).Str("url", r.url).Msg("stac request")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("%s %s: %s: %s", r.method, r.url, resp.Status, strings.TrimSpace(string(msg)))
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s", r.url)
}

func resolveHref(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %s", base)
	}
	h, err := url.Parse(href)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %s", href)
	}
	return b.ResolveReference(h).String(), nil
}

// ItemSearch is a lazily executed search.
type ItemSearch struct {
	client *Client
	query  Query
}

func (s *ItemSearch) Query() Query {
	return s.query
}

// Items pages through the results, following next links.
func (s *ItemSearch) Items() processing.Pipe[*Item] {
	return &itemPipe{search: s}
}

// ItemCollection pulls all items of the search.
func (s *ItemSearch) ItemCollection(ctx context.Context) (*ItemCollection, error) {
	items, err := processing.Collect(ctx, s.Items())
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Item{}
	}
	return &ItemCollection{Type: "FeatureCollection", Features: items}, nil
}

type itemPipe struct {
	search  *ItemSearch
	started bool
	next    *request
	page    []*Item
	pos     int
	yielded int
}

type itemPage struct {
	Features []*Item `json:"features"`
	Links    []Link  `json:"links"`
}

func (p *itemPipe) Next(ctx context.Context) (*Item, error) {
	q := p.search.query
	for {
		if q.MaxItems > 0 && p.yielded >= q.MaxItems {
			return nil, io.EOF
		}
		if p.pos < len(p.page) {
			item := p.page[p.pos]
			p.pos++
			p.yielded++
			if m := p.search.client.modifier; m != nil {
				if err := m(item); err != nil {
					return nil, errors.Wrapf(err, "modifying item %q", item.ID)
				}
			}
			return item, nil
		}
		if !p.started {
			first, err := p.first(ctx)
			if err != nil {
				return nil, err
			}
			p.next = first
			p.started = true
		}
		if p.next == nil {
			return nil, io.EOF
		}
		if err := p.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *itemPipe) first(ctx context.Context) (*request, error) {
	link, err := p.search.client.SearchLink(ctx)
	if err != nil {
		return nil, err
	}
	q := p.search.query
	if strings.EqualFold(link.Method, http.MethodGet) {
		values, err := q.Values()
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(link.Href)
		if err != nil {
			return nil, err
		}
		u.RawQuery = values.Encode()
		return &request{method: http.MethodGet, url: u.String(), headers: link.Headers}, nil
	}
	body, err := q.Body()
	if err != nil {
		return nil, err
	}
	return &request{method: http.MethodPost, url: link.Href, body: body, headers: link.Headers}, nil
}

func (p *itemPipe) fetch(ctx context.Context) error {
	current := *p.next
	var page itemPage
	if err := p.search.client.do(ctx, current, &page); err != nil {
		return errors.Wrap(err, "searching catalog")
	}
	p.page, p.pos, p.next = page.Features, 0, nil
	for _, l := range page.Links {
		if l.Rel != "next" {
			continue
		}
		href, err := resolveHref(current.url, l.Href)
		if err != nil {
			return err
		}
		next := request{method: http.MethodGet, url: href, headers: l.Headers}
		if strings.EqualFold(l.Method, http.MethodPost) {
			next.method = http.MethodPost
			next.body = nextBody(current.body, l)
		}
		p.next = &next
		break
	}
	return nil
}

func nextBody(previous map[string]any, l Link) map[string]any {
	if !l.Merge {
		return l.Body
	}
	merged := make(map[string]any, len(previous)+len(l.Body))
	for k, v := range previous {
		merged[k] = v
	}
	for k, v := range l.Body {
		merged[k] = v
	}
	return merged
}
