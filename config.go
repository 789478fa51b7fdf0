package main

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/geopipe/slicer"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the pipeline run by the chip command. It can be read from a JSON
// file and every field can be overridden by a flag of the same name.
type Config struct {
	// Rasters are read one array per address.
	Rasters       []string `json:"rasters" validate:"required_without=StacURL,excluded_with=StacURL"`
	RasterDriver  string   `json:"rasterDriver"`
	Bands         []int    `json:"bands" validate:"dive,gte=1"`
	OverviewLevel int      `json:"overviewLevel" validate:"gte=0"`
	Masked        bool     `json:"masked"`

	// StacURL searches a catalog and stacks the items found instead.
	StacURL     string    `json:"stacUrl" validate:"omitempty,url"`
	Collections []string  `json:"collections"`
	BBox        []float64 `json:"bbox" validate:"omitempty,len=4"`
	Datetime    string    `json:"datetime"`
	MaxItems    int       `json:"maxItems" validate:"gte=0"`
	Assets      []string  `json:"assets"`
	EPSG        int       `json:"epsg" validate:"gte=0"`
	Resolution  []float64 `json:"resolution" validate:"omitempty,min=1,max=2,dive,gt=0"`
	Mosaic      bool      `json:"mosaic"`

	Normalize bool `json:"normalize"`

	// Window and Overlap are "dim=size" pairs, the first dim outermost.
	Window  []string `json:"window" default:"[\"y=256\",\"x=256\"]" validate:"min=1"`
	Overlap []string `json:"overlap"`

	// Vector is clipped to every chip to count its features.
	Vector     string  `json:"vector"`
	SubsetOnly bool    `json:"subsetOnly"`
	MinArea    float64 `json:"minArea" validate:"gte=0"`

	SplitResolution int       `json:"splitResolution" default:"7" validate:"gte=1,lte=15"`
	Fractions       []float64 `json:"fractions" default:"[0.8,0.1,0.1]" validate:"len=3,dive,gte=0"`
	Seed            string    `json:"seed"`

	Output    string `json:"output" validate:"required"`
	Overwrite bool   `json:"overwrite"`
	Table     string `json:"table" default:"chips"`
	IndexEPSG int    `json:"indexEpsg" default:"4326" validate:"gt=0"`
	PageSize  int    `json:"pageSize" default:"1000" validate:"gt=0"`

	LogLevel    string `json:"logLevel" default:"info" validate:"oneof=debug info warn error"`
	LogConsole  bool   `json:"logConsole"`
	MetricsAddr string `json:"metricsAddr" validate:"omitempty,hostname_port"`
}

// ReadConfig decodes a JSON config file. Unknown keys are an error.
func ReadConfig(file string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(file)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", file)
	}
	unknown, err := marshmallow.Unmarshal(data, &cfg, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return cfg, errors.Wrapf(err, "decoding config %s", file)
	}
	if len(unknown) > 0 {
		keys := make([]string, 0, len(unknown))
		for k := range unknown {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return cfg, errors.Newf("unknown keys in config %s: %s", file, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (cfg *Config) Finish() error {
	if err := defaults.Set(cfg); err != nil {
		return err
	}
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	opts, err := cfg.SlicerOptions()
	if err != nil {
		return err
	}
	return errors.Wrap(opts.Validate(), "invalid window")
}

func (cfg Config) SlicerOptions() (slicer.Options, error) {
	dims, err := parseDims(cfg.Window)
	if err != nil {
		return slicer.Options{}, errors.Wrap(err, "window")
	}
	overlap, err := parseDims(cfg.Overlap)
	if err != nil {
		return slicer.Options{}, errors.Wrap(err, "overlap")
	}
	opts := slicer.Options{InputDims: dims, InputOverlap: make(map[string]int, overlap.Len())}
	for p := overlap.Oldest(); p != nil; p = p.Next() {
		opts.InputOverlap[p.Key] = p.Value
	}
	return opts, nil
}

// parseDims reads "dim=size" pairs keeping their order.
func parseDims(pairs []string) (*orderedmap.OrderedMap[string, int], error) {
	dims := orderedmap.New[string, int]()
	for _, pair := range pairs {
		dim, size, ok := strings.Cut(pair, "=")
		dim = strings.TrimSpace(dim)
		if !ok || dim == "" {
			return nil, errors.Newf("expected dim=size, got %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(size))
		if err != nil {
			return nil, errors.Wrapf(err, "size of %q", dim)
		}
		if _, present := dims.Set(dim, n); present {
			return nil, errors.Newf("dim %q given twice", dim)
		}
	}
	return dims, nil
}
