package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/cockroachdb/errors"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/geopipe/capability"
	"github.com/pdok/geopipe/logging"
	"github.com/pdok/geopipe/metrics"
	"github.com/pdok/geopipe/rasterio"
	"github.com/pdok/geopipe/vectorio"
)

const CONFIG string = `config`
const RASTERS string = `rasters`
const RASTERDRIVER string = `rasterDriver`
const BANDS string = `bands`
const OVERVIEWLEVEL string = `overviewLevel`
const MASKED string = `masked`
const STACURL string = `stacUrl`
const COLLECTIONS string = `collections`
const BBOX string = `bbox`
const DATETIME string = `datetime`
const MAXITEMS string = `maxItems`
const ASSETS string = `assets`
const EPSG string = `epsg`
const RESOLUTION string = `resolution`
const MOSAIC string = `mosaic`
const NORMALIZE string = `normalize`
const WINDOW string = `window`
const OVERLAP string = `overlap`
const VECTOR string = `vector`
const SUBSETONLY string = `subsetOnly`
const MINAREA string = `minArea`
const SPLITRESOLUTION string = `splitResolution`
const FRACTIONS string = `fractions`
const SEED string = `seed`
const OUTPUT string = `output`
const OVERWRITE string = `overwrite`
const TABLE string = `table`
const INDEXEPSG string = `indexEpsg`
const PAGESIZE string = `pagesize`
const LOGLEVEL string = `logLevel`
const LOGCONSOLE string = `logConsole`
const METRICSADDR string = `metricsAddr`

func envVars(name string) []string {
	return []string{"GEOPIPE_" + strcase.ToScreamingSnake(name)}
}

//nolint:funlen
func chipFlags() []cli.Flag {
	return []cli.Flag{
		&cli.PathFlag{Name: CONFIG, Aliases: []string{"c"}, Usage: "JSON pipeline config, flags override its values", EnvVars: envVars(CONFIG)},
		&cli.StringSliceFlag{Name: RASTERS, Aliases: []string{"r"}, Usage: "Raster addresses to chip, local paths or URLs", EnvVars: envVars(RASTERS)},
		&cli.StringFlag{Name: RASTERDRIVER, Usage: "Force a raster driver, e.g. gdal or netcdf", EnvVars: envVars(RASTERDRIVER)},
		&cli.IntSliceFlag{Name: BANDS, Usage: "1-based bands to read, all when empty", EnvVars: envVars(BANDS)},
		&cli.IntFlag{Name: OVERVIEWLEVEL, Usage: "Overview to read, 0 is full resolution", EnvVars: envVars(OVERVIEWLEVEL)},
		&cli.BoolFlag{Name: MASKED, Usage: "Replace nodata with NaN", EnvVars: envVars(MASKED)},
		&cli.StringFlag{Name: STACURL, Usage: "STAC API to search instead of reading rasters", EnvVars: envVars(STACURL)},
		&cli.StringSliceFlag{Name: COLLECTIONS, Usage: "STAC collections to search", EnvVars: envVars(COLLECTIONS)},
		&cli.Float64SliceFlag{Name: BBOX, Usage: "Search box in WGS84: minx,miny,maxx,maxy", EnvVars: envVars(BBOX)},
		&cli.StringFlag{Name: DATETIME, Usage: "Search datetime or interval, e.g. 2023-01-01T00:00:00Z/..", EnvVars: envVars(DATETIME)},
		&cli.IntFlag{Name: MAXITEMS, Usage: "Maximum number of items to stack, 0 for all", EnvVars: envVars(MAXITEMS)},
		&cli.StringSliceFlag{Name: ASSETS, Usage: "Item assets to stack as bands", EnvVars: envVars(ASSETS)},
		&cli.IntFlag{Name: EPSG, Usage: "EPSG code of the stacked grid", EnvVars: envVars(EPSG)},
		&cli.Float64SliceFlag{Name: RESOLUTION, Usage: "Resolution of the stacked grid: res or resx,resy", EnvVars: envVars(RESOLUTION)},
		&cli.BoolFlag{Name: MOSAIC, Usage: "Composite the stacked items into one layer", EnvVars: envVars(MOSAIC)},
		&cli.BoolFlag{Name: NORMALIZE, Usage: "Normalize every band to zero mean and unit variance", EnvVars: envVars(NORMALIZE)},
		&cli.StringSliceFlag{Name: WINDOW, Aliases: []string{"w"}, Usage: "Chip size per dim, outermost first, e.g. y=256,x=256", EnvVars: envVars(WINDOW)},
		&cli.StringSliceFlag{Name: OVERLAP, Usage: "Overlap per dim, e.g. y=32,x=32", EnvVars: envVars(OVERLAP)},
		&cli.StringFlag{Name: VECTOR, Aliases: []string{"v"}, Usage: "Vector source to count per chip", EnvVars: envVars(VECTOR)},
		&cli.BoolFlag{Name: SUBSETONLY, Usage: "Count features without cutting them at the chip border", EnvVars: envVars(SUBSETONLY)},
		&cli.Float64Flag{Name: MINAREA, Usage: "Ignore clipped polygons of at most this area", EnvVars: envVars(MINAREA)},
		&cli.IntFlag{Name: SPLITRESOLUTION, Usage: "H3 resolution of the train/validation/test split", EnvVars: envVars(SPLITRESOLUTION)},
		&cli.Float64SliceFlag{Name: FRACTIONS, Usage: "Train, validation and test fractions", EnvVars: envVars(FRACTIONS)},
		&cli.StringFlag{Name: SEED, Usage: "Seed of the split assignment", EnvVars: envVars(SEED)},
		&cli.StringFlag{Name: OUTPUT, Aliases: []string{"o"}, Usage: "Chip index GPKG", EnvVars: envVars(OUTPUT)},
		&cli.BoolFlag{Name: OVERWRITE, Usage: "Overwrite the chip index if it exists", EnvVars: envVars(OVERWRITE)},
		&cli.StringFlag{Name: TABLE, Usage: "Table of the chip index", EnvVars: envVars(TABLE)},
		&cli.IntFlag{Name: INDEXEPSG, Usage: "EPSG code of the chip footprints", EnvVars: envVars(INDEXEPSG)},
		&cli.IntFlag{Name: PAGESIZE, Aliases: []string{"p"}, Usage: "Page Size, how many chips are written per transaction", EnvVars: envVars(PAGESIZE)},
		&cli.StringFlag{Name: LOGLEVEL, Usage: "debug, info, warn or error", EnvVars: envVars(LOGLEVEL)},
		&cli.BoolFlag{Name: LOGCONSOLE, Usage: "Human readable logs instead of JSON", EnvVars: envVars(LOGCONSOLE)},
		&cli.StringFlag{Name: METRICSADDR, Usage: "Serve Prometheus metrics on this address, e.g. :9090", EnvVars: envVars(METRICSADDR)},
	}
}

// configFromFlags reads the config file, if any, and applies the flags that
// are set on top of it.
//
//nolint:cyclop
func configFromFlags(c *cli.Context) (Config, error) {
	var cfg Config
	if file := c.Path(CONFIG); file != "" {
		var err error
		if cfg, err = ReadConfig(file); err != nil {
			return cfg, err
		}
	}
	set := func(name string, apply func()) {
		if c.IsSet(name) {
			apply()
		}
	}
	set(RASTERS, func() { cfg.Rasters = c.StringSlice(RASTERS) })
	set(RASTERDRIVER, func() { cfg.RasterDriver = c.String(RASTERDRIVER) })
	set(BANDS, func() { cfg.Bands = c.IntSlice(BANDS) })
	set(OVERVIEWLEVEL, func() { cfg.OverviewLevel = c.Int(OVERVIEWLEVEL) })
	set(MASKED, func() { cfg.Masked = c.Bool(MASKED) })
	set(STACURL, func() { cfg.StacURL = c.String(STACURL) })
	set(COLLECTIONS, func() { cfg.Collections = c.StringSlice(COLLECTIONS) })
	set(BBOX, func() { cfg.BBox = c.Float64Slice(BBOX) })
	set(DATETIME, func() { cfg.Datetime = c.String(DATETIME) })
	set(MAXITEMS, func() { cfg.MaxItems = c.Int(MAXITEMS) })
	set(ASSETS, func() { cfg.Assets = c.StringSlice(ASSETS) })
	set(EPSG, func() { cfg.EPSG = c.Int(EPSG) })
	set(RESOLUTION, func() { cfg.Resolution = c.Float64Slice(RESOLUTION) })
	set(MOSAIC, func() { cfg.Mosaic = c.Bool(MOSAIC) })
	set(NORMALIZE, func() { cfg.Normalize = c.Bool(NORMALIZE) })
	set(WINDOW, func() { cfg.Window = c.StringSlice(WINDOW) })
	set(OVERLAP, func() { cfg.Overlap = c.StringSlice(OVERLAP) })
	set(VECTOR, func() { cfg.Vector = c.String(VECTOR) })
	set(SUBSETONLY, func() { cfg.SubsetOnly = c.Bool(SUBSETONLY) })
	set(MINAREA, func() { cfg.MinArea = c.Float64(MINAREA) })
	set(SPLITRESOLUTION, func() { cfg.SplitResolution = c.Int(SPLITRESOLUTION) })
	set(FRACTIONS, func() { cfg.Fractions = c.Float64Slice(FRACTIONS) })
	set(SEED, func() { cfg.Seed = c.String(SEED) })
	set(OUTPUT, func() { cfg.Output = c.String(OUTPUT) })
	set(OVERWRITE, func() { cfg.Overwrite = c.Bool(OVERWRITE) })
	set(TABLE, func() { cfg.Table = c.String(TABLE) })
	set(INDEXEPSG, func() { cfg.IndexEPSG = c.Int(INDEXEPSG) })
	set(PAGESIZE, func() { cfg.PageSize = c.Int(PAGESIZE) })
	set(LOGLEVEL, func() { cfg.LogLevel = c.String(LOGLEVEL) })
	set(LOGCONSOLE, func() { cfg.LogConsole = c.Bool(LOGCONSOLE) })
	set(METRICSADDR, func() { cfg.MetricsAddr = c.String(METRICSADDR) })
	return cfg, cfg.Finish()
}

func chipAction(c *cli.Context) error {
	cfg, err := configFromFlags(c)
	if err != nil {
		return err
	}
	logger := logging.Build(logging.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Component: "geopipe"}, c.App.ErrWriter)
	ctx, stop := signal.NotifyContext(logging.Into(c.Context, logger), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var provider *metrics.Provider
	if cfg.MetricsAddr != "" {
		provider = metrics.Init(metrics.Config{Version: versioninfo.Short()})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: provider.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	_, err = runChips(ctx, cfg, provider)
	return err
}

func driversAction(c *cli.Context) error {
	out := c.App.Writer
	for _, feature := range []capability.Feature{capability.Raster, capability.Vector, capability.Catalog, capability.HierarchicalStore} {
		providers := capability.Providers(feature)
		if len(providers) == 0 {
			providers = []string{"-"}
		}
		fmt.Fprintf(out, "%-20s %s\n", feature, strings.Join(providers, ", "))
	}
	fmt.Fprintf(out, "%-20s %s\n", "raster drivers", strings.Join(rasterio.Drivers(), ", "))
	fmt.Fprintf(out, "%-20s %s\n", "vector drivers", strings.Join(vectorio.Drivers(), ", "))
	return nil
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "geopipe"
	app.Usage = "Cut geospatial rasters into training chips"
	app.Version = versioninfo.Short()
	app.Commands = []*cli.Command{
		{
			Name:   "chip",
			Usage:  "Slice rasters or a STAC search into chips and write a chip index GPKG",
			Flags:  chipFlags(),
			Action: chipAction,
		},
		{
			Name:   "drivers",
			Usage:  "List the available drivers per capability",
			Action: driversAction,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger := logging.Build(logging.Config{}, os.Stderr)
		logger.Fatal().Err(err).Msg("geopipe failed")
	}
}
