package stac

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Query holds the parameters of a STAC API item search.
type Query struct {
	BBox        []float64      `json:"bbox,omitempty" validate:"omitempty,len=4|len=6"`
	Intersects  map[string]any `json:"intersects,omitempty"`
	Datetime    string         `json:"datetime,omitempty"`
	Collections []string       `json:"collections,omitempty"`
	IDs         []string       `json:"ids,omitempty"`
	Limit       int            `json:"limit,omitempty" validate:"gte=0"`
	Query       map[string]any `json:"query,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	FilterLang  string         `json:"filter-lang,omitempty" validate:"omitempty,oneof=cql2-json cql2-text"`
	SortBy      []SortBy       `json:"sortby,omitempty" validate:"dive"`

	// MaxItems caps the number of items yielded by a search. Zero means all.
	MaxItems int `json:"-" validate:"gte=0"`
}

type SortBy struct {
	Field     string `json:"field" validate:"required"`
	Direction string `json:"direction" validate:"oneof=asc desc"`
}

// Interval formats a datetime interval; a zero time is an open end.
func Interval(start, end time.Time) string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return ".."
		}
		return t.UTC().Format(time.RFC3339)
	}
	return format(start) + "/" + format(end)
}

// Merge returns a copy of q with unset parameters taken from common.
func (q Query) Merge(common Query) Query {
	if q.BBox == nil && q.Intersects == nil {
		q.BBox = common.BBox
		q.Intersects = common.Intersects
	}
	if q.Datetime == "" {
		q.Datetime = common.Datetime
	}
	if q.Collections == nil {
		q.Collections = common.Collections
	}
	if q.IDs == nil {
		q.IDs = common.IDs
	}
	if q.Limit == 0 {
		q.Limit = common.Limit
	}
	if q.Query == nil {
		q.Query = common.Query
	}
	if q.Filter == nil {
		q.Filter = common.Filter
		q.FilterLang = common.FilterLang
	}
	if q.SortBy == nil {
		q.SortBy = common.SortBy
	}
	if q.MaxItems == 0 {
		q.MaxItems = common.MaxItems
	}
	return q
}

func (q Query) Validate() error {
	if err := validate.Struct(q); err != nil {
		return errors.Wrap(err, "invalid search query")
	}
	if q.BBox != nil && q.Intersects != nil {
		return errors.New("invalid search query: bbox and intersects are mutually exclusive")
	}
	return nil
}

// Body is the JSON body of a POST search.
func (q Query) Body() (map[string]any, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	err = json.Unmarshal(raw, &body)
	return body, err
}

// Values encodes q as GET search parameters.
func (q Query) Values() (url.Values, error) {
	v := url.Values{}
	if len(q.BBox) > 0 {
		parts := make([]string, len(q.BBox))
		for i, f := range q.BBox {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		v.Set("bbox", strings.Join(parts, ","))
	}
	if q.Datetime != "" {
		v.Set("datetime", q.Datetime)
	}
	if len(q.Collections) > 0 {
		v.Set("collections", strings.Join(q.Collections, ","))
	}
	if len(q.IDs) > 0 {
		v.Set("ids", strings.Join(q.IDs, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.FilterLang != "" {
		v.Set("filter-lang", q.FilterLang)
	}
	if len(q.SortBy) > 0 {
		parts := make([]string, len(q.SortBy))
		for i, s := range q.SortBy {
			sign := "+"
			if s.Direction == "desc" {
				sign = "-"
			}
			parts[i] = sign + s.Field
		}
		v.Set("sortby", strings.Join(parts, ","))
	}
	for key, obj := range map[string]map[string]any{"intersects": q.Intersects, "query": q.Query, "filter": q.Filter} {
		if obj == nil {
			continue
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", key)
		}
		v.Set(key, string(raw))
	}
	return v, nil
}
