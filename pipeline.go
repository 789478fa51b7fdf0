package main

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pdok/geopipe/chipindex"
	"github.com/pdok/geopipe/clip"
	"github.com/pdok/geopipe/grid"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/metrics"
	"github.com/pdok/geopipe/processing"
	"github.com/pdok/geopipe/rasterio"
	"github.com/pdok/geopipe/slicer"
	"github.com/pdok/geopipe/split"
	"github.com/pdok/geopipe/stac"
	"github.com/pdok/geopipe/stack"
	"github.com/pdok/geopipe/transform"
	"github.com/pdok/geopipe/vectorio"
)

// counter passes chips through and counts them.
type counter struct {
	pipe processing.Pipe[*grid.Array]
	n    int
}

func (c *counter) Next(ctx context.Context) (*grid.Array, error) {
	chip, err := c.pipe.Next(ctx)
	if err == nil {
		c.n++
	}
	return chip, err
}

// runChips builds the pipeline described by cfg and writes the chip index.
// It returns the number of chips written.
func runChips(ctx context.Context, cfg Config, provider *metrics.Provider) (int, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	arrays, err := sourceArrays(ctx, cfg, provider)
	if err != nil {
		return 0, err
	}
	if cfg.Normalize {
		if arrays, err = transform.NewNormalizer(arrays, transform.NormalizeOptions{}); err != nil {
			return 0, err
		}
	}

	slicerOpts, err := cfg.SlicerOptions()
	if err != nil {
		return 0, err
	}
	chips, err := slicer.NewSlicer(arrays, slicerOpts)
	if err != nil {
		return 0, err
	}
	chips = metrics.Instrument(provider, "slicer", chips)
	if chips, err = split.NewSplitter(chips, split.Options{
		Resolution: cfg.SplitResolution, Fractions: cfg.Fractions, Seed: cfg.Seed,
	}); err != nil {
		return 0, err
	}
	if cfg.Vector != "" {
		if chips, err = countFeatures(chips, cfg); err != nil {
			return 0, err
		}
		chips = metrics.Instrument(provider, "clip", chips)
	}

	if err = prepareOutput(cfg.Output, cfg.Overwrite); err != nil {
		return 0, err
	}
	index, err := chipindex.Create(cfg.Output, chipindex.Options{Table: cfg.Table, EPSG: cfg.IndexEPSG, PageSize: cfg.PageSize})
	if err != nil {
		return 0, err
	}
	defer index.Close()

	log.Info().Str("output", cfg.Output).Msg("=== start chipping ===")
	counted := &counter{pipe: chips}
	if err = processing.Drain(ctx, counted, index); err != nil {
		return counted.n, err
	}
	log.Info().Int("chips", counted.n).Dur("took", time.Since(start)).Msg("=== done chipping ===")
	return counted.n, nil
}

func sourceArrays(ctx context.Context, cfg Config, provider *metrics.Provider) (processing.Pipe[*grid.Array], error) {
	rasterOpts := rasterio.Options{
		OverviewLevel: cfg.OverviewLevel,
		Bands:         cfg.Bands,
		Driver:        cfg.RasterDriver,
		Masked:        cfg.Masked,
	}
	if cfg.StacURL == "" {
		arrays, err := rasterio.NewReader(processing.FromSlice(cfg.Rasters...), rasterOpts)
		if err != nil {
			return nil, err
		}
		return metrics.Instrument(provider, "rasterio", arrays), nil
	}

	searches, err := stac.NewSearcher(processing.FromSlice(stac.Query{
		Collections: cfg.Collections,
		BBox:        cfg.BBox,
		Datetime:    cfg.Datetime,
		MaxItems:    cfg.MaxItems,
	}), stac.SearchOptions{CatalogURL: cfg.StacURL})
	if err != nil {
		return nil, err
	}
	search, err := searches.Next(ctx)
	if err != nil {
		return nil, err
	}
	items := metrics.Instrument(provider, "stac", search.Items())
	arrays, err := stack.NewStacker(items, stack.StackOptions{
		EPSG:       cfg.EPSG,
		Resolution: cfg.Resolution,
		Assets:     cfg.Assets,
		Raster:     rasterOpts,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Mosaic {
		if arrays, err = stack.NewMosaicker(arrays, stack.MosaicOptions{}); err != nil {
			return nil, err
		}
	}
	return metrics.Instrument(provider, "stack", arrays), nil
}

// countFeatures clips the vector source to every chip and stores the number
// of features found on it.
func countFeatures(chips processing.Pipe[*grid.Array], cfg Config) (processing.Pipe[*grid.Array], error) {
	vectors, err := vectorio.NewReader(processing.FromSlice(cfg.Vector), vectorio.Options{})
	if err != nil {
		return nil, err
	}
	clipped, err := clip.NewClipper(vectors, chips, clip.Options{SubsetOnly: cfg.SubsetOnly, MinArea: cfg.MinArea})
	if err != nil {
		return nil, err
	}
	return processing.Map(clipped, func(_ context.Context, c clip.Clipped) (*grid.Array, error) {
		c.Window.Attrs[chipindex.FeaturesAttr] = c.Vector.Len()
		return c.Window, nil
	}), nil
}

func prepareOutput(file string, overwrite bool) error {
	_, err := os.Stat(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case !overwrite:
		return errors.Newf("output %s exists, use --overwrite to replace it", file)
	}
	return errors.Wrap(os.Remove(file), "could not remove output")
}
