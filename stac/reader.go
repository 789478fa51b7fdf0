package stac

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/httpclient"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/rasterio"
)

const (
	EngineSTAC   = "stac"
	EngineRaster = "raster"
	EngineNetCDF = "netcdf"

	catalogEnv = "STAC_URL"
)

type SearchOptions struct {
	// CatalogURL defaults to the STAC_URL environment variable.
	CatalogURL string `validate:"omitempty,url"`
	// Common parameters fill in what a query leaves unset.
	Common     Query
	Modifier   Modifier
	HTTPClient *http.Client `validate:"-"`
}

// NewSearcher returns a pipe yielding one lazy search per query.
func NewSearcher(queries processing.Pipe[Query], opts SearchOptions) (processing.Pipe[*ItemSearch], error) {
	if err := capability.Require(capability.Catalog); err != nil {
		return nil, err
	}
	if opts.CatalogURL == "" {
		opts.CatalogURL = os.Getenv(catalogEnv)
	}
	if opts.CatalogURL == "" {
		return nil, ErrNoCatalog
	}
	if err := validate.Struct(opts); err != nil {
		return nil, errors.Wrap(err, "invalid searcher options")
	}
	client := NewClient(opts.CatalogURL, opts.HTTPClient, opts.Modifier)
	return processing.Map(queries, func(ctx context.Context, q Query) (*ItemSearch, error) {
		q = q.Merge(opts.Common)
		if err := q.Validate(); err != nil {
			return nil, err
		}
		logging.FromContext(logging.WithStage(ctx, "stac")).Debug().Str("catalog", client.URL()).
			Strs("collections", q.Collections).Msg("search")
		return client.Search(q), nil
	}), nil
}

type ItemReaderOptions struct {
	Modifier   Modifier
	HTTPClient *http.Client
}

// NewItemReader reads one item per href, from a local file or a URL.
func NewItemReader(hrefs processing.Pipe[string], opts ItemReaderOptions) processing.Pipe[*Item] {
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.NewOutbound()
	}
	return processing.Map(hrefs, func(ctx context.Context, href string) (*Item, error) {
		data, err := readHref(ctx, opts.HTTPClient, href)
		if err != nil {
			return nil, errors.Wrapf(err, "reading item %s", href)
		}
		item := &Item{}
		if err = json.Unmarshal(data, item); err != nil {
			return nil, errors.Wrapf(err, "decoding item %s", href)
		}
		if err = absoluteAssets(item, href); err != nil {
			return nil, err
		}
		if opts.Modifier != nil {
			if err = opts.Modifier(item); err != nil {
				return nil, errors.Wrapf(err, "modifying item %q", item.ID)
			}
		}
		return item, nil
	})
}

func readHref(ctx context.Context, client *http.Client, href string) ([]byte, error) {
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return os.ReadFile(strings.TrimPrefix(href, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("GET %s: %s", href, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// absoluteAssets resolves relative asset hrefs against the item href.
func absoluteAssets(item *Item, href string) error {
	for key, a := range item.Assets {
		if strings.Contains(a.Href, "://") || strings.HasPrefix(a.Href, "/") {
			continue
		}
		resolved, err := resolveHref(href, a.Href)
		if err != nil {
			return errors.Wrapf(err, "asset %q", key)
		}
		a.Href = resolved
		item.Assets[key] = a
	}
	return nil
}

// AssetRef points at one asset of an item.
type AssetRef struct {
	Item *Item
	Key  string
}

func (r AssetRef) Asset() (Asset, bool) {
	a, ok := r.Item.Assets[r.Key]
	return a, ok
}

// Assets yields a reference per asset of every item: the given keys, or all
// assets with the "data" role (all assets when none has roles) otherwise.
func Assets(items processing.Pipe[*Item], keys ...string) processing.Pipe[AssetRef] {
	return &assetRefPipe{items: items, keys: keys}
}

type assetRefPipe struct {
	items   processing.Pipe[*Item]
	keys    []string
	pending []AssetRef
}

func (p *assetRefPipe) Next(ctx context.Context) (AssetRef, error) {
	for len(p.pending) == 0 {
		item, err := p.items.Next(ctx)
		if err != nil {
			return AssetRef{}, err
		}
		keys := p.keys
		if len(keys) == 0 {
			keys = DataAssets(item)
		}
		for _, k := range keys {
			if _, ok := item.Assets[k]; !ok {
				return AssetRef{}, errors.Newf("item %q has no asset %q", item.ID, k)
			}
			p.pending = append(p.pending, AssetRef{Item: item, Key: k})
		}
	}
	ref := p.pending[0]
	p.pending = p.pending[1:]
	return ref, nil
}

func DataAssets(item *Item) []string {
	var data, all []string
	for k, a := range item.Assets {
		all = append(all, k)
		if a.HasRole("data") {
			data = append(data, k)
		}
	}
	if len(data) == 0 {
		data = all
	}
	sort.Strings(data)
	return data
}

type AssetReaderOptions struct {
	Engine string `default:"stac" validate:"oneof=stac raster netcdf"`
	// Raster options are passed to the raster drivers.
	Raster rasterio.Options
}

// NewAssetReader opens every asset into an array. The stac engine picks the
// netcdf engine for NetCDF and HDF5 media types and the raster engine
// otherwise, which reads Zarr stores through GDAL. Parquet assets are tables
// and fail with ErrUnsupportedAsset.
func NewAssetReader(assets processing.Pipe[AssetRef], opts AssetReaderOptions) (processing.Pipe[*grid.Array], error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(opts); err != nil {
		return nil, &capability.UnavailableError{Feature: capability.Catalog, Hint: "unknown engine " + opts.Engine}
	}
	switch opts.Engine {
	case EngineRaster:
		if err := capability.Require(capability.Raster); err != nil {
			return nil, err
		}
	case EngineNetCDF:
		if err := capability.Require(capability.HierarchicalStore); err != nil {
			return nil, err
		}
	}
	return processing.Map(assets, func(ctx context.Context, ref AssetRef) (*grid.Array, error) {
		return openAsset(ctx, ref, opts)
	}), nil
}

func openAsset(ctx context.Context, ref AssetRef, opts AssetReaderOptions) (*grid.Array, error) {
	asset, ok := ref.Asset()
	if !ok {
		return nil, errors.Newf("item %q has no asset %q", ref.Item.ID, ref.Key)
	}
	if isTableMediaType(asset.Type) {
		return nil, errors.Wrapf(ErrUnsupportedAsset, "item %q asset %q of type %q", ref.Item.ID, ref.Key, asset.Type)
	}
	engine := opts.Engine
	if engine == EngineSTAC {
		engine = EngineRaster
		if isNetCDFMediaType(asset.Type) {
			engine = EngineNetCDF
		}
	}
	raster := opts.Raster
	switch engine {
	case EngineNetCDF:
		raster.Driver = "netcdf"
	case EngineRaster:
		if err := capability.Require(capability.Raster); err != nil {
			return nil, err
		}
	}
	logging.FromContext(logging.WithStage(ctx, "stac")).Debug().Str("item", ref.Item.ID).
		Str("asset", ref.Key).Str("engine", engine).Msg("opening asset")
	a, err := rasterio.Open(ctx, asset.Href, raster)
	if err != nil {
		return nil, errors.Wrapf(err, "item %q asset %q", ref.Item.ID, ref.Key)
	}
	if err = ref.Item.Projection(ref.Key).Apply(a); err != nil {
		return nil, errors.Wrapf(err, "item %q asset %q", ref.Item.ID, ref.Key)
	}
	if a.Attrs == nil {
		a.Attrs = map[string]any{}
	}
	a.Attrs["stac:item"] = ref.Item.ID
	a.Attrs["stac:asset"] = ref.Key
	return a, nil
}
