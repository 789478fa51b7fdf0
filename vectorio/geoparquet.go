package vectorio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/pdok/geopipe/srs"
	"github.com/pdok/geopipe/vector"
)

// geoMetadataKey holds the GeoParquet column description in the file's
// key-value metadata.
const geoMetadataKey = "geo"

func init() {
	Register(GeoParquet{})
}

// GeoParquet reads the primary WKB geometry column of a GeoParquet file
// together with its scalar columns. Addresses may be local, remote or inside
// a zip archive.
type GeoParquet struct{}

func (GeoParquet) Name() string {
	return "geoparquet"
}

func (GeoParquet) Accepts(address string) bool {
	return isParquetName(leaf(address))
}

func isParquetName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".parquet", ".geoparquet":
		return true
	}
	return false
}

type geoMetadata struct {
	Version       string                      `json:"version"`
	PrimaryColumn string                      `json:"primary_column"`
	Columns       map[string]geoColumnDetails `json:"columns"`
}

type geoColumnDetails struct {
	Encoding string          `json:"encoding"`
	CRS      json.RawMessage `json:"crs"`
}

// projJSONID is the part of a PROJJSON document naming the reference system.
type projJSONID struct {
	ID *struct {
		Authority string `json:"authority"`
		Code      any    `json:"code"`
	} `json:"id"`
}

func (GeoParquet) Open(ctx context.Context, address string, opts Options) (*vector.Collection, error) {
	data, err := fetch(ctx, opts.HTTPClient, address, isParquetName)
	if err != nil {
		return nil, err
	}
	c, err := DecodeGeoParquet(ctx, data)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", address)
	}
	c.Name = strings.TrimSuffix(path.Base(leaf(address)), path.Ext(leaf(address)))
	return c, nil
}

// DecodeGeoParquet reads a whole GeoParquet file into a collection. Columns
// other than the primary geometry become properties; nested columns are
// rendered as strings.
func DecodeGeoParquet(ctx context.Context, data []byte) (*vector.Collection, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	meta, err := readGeoMetadata(pf)
	if err != nil {
		return nil, err
	}
	column := meta.Columns[meta.PrimaryColumn]
	if column.Encoding != "" && !strings.EqualFold(column.Encoding, "WKB") {
		return nil, errors.Newf("geometry column %q has encoding %q, only WKB is read", meta.PrimaryColumn, column.Encoding)
	}
	crs, err := geoParquetCRS(column.CRS)
	if err != nil {
		return nil, err
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	table, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer table.Release()

	rows := int(table.NumRows())
	c := &vector.Collection{CRS: crs, Features: make([]vector.Feature, rows)}
	for i := range c.Features {
		c.Features[i] = vector.Feature{ID: int64(i), Properties: map[string]any{}}
	}
	found := false
	for i, field := range table.Schema().Fields() {
		geometry := field.Name == meta.PrimaryColumn
		found = found || geometry
		row := 0
		for _, chunk := range table.Column(i).Data().Chunks() {
			for j := 0; j < chunk.Len(); j, row = j+1, row+1 {
				if chunk.IsNull(j) {
					continue
				}
				f := &c.Features[row]
				if !geometry {
					f.Properties[field.Name] = arrowValue(chunk, j)
					continue
				}
				b, ok := chunk.(*array.Binary)
				if !ok {
					return nil, errors.Newf("geometry column %q is %s, not binary", field.Name, chunk.DataType())
				}
				if f.Geometry, err = wkb.DecodeBytes(b.Value(j)); err != nil {
					return nil, errors.Wrapf(err, "row %d", row)
				}
			}
		}
	}
	if !found {
		return nil, errors.Newf("no geometry column %q", meta.PrimaryColumn)
	}
	return c, nil
}

func readGeoMetadata(pf *file.Reader) (geoMetadata, error) {
	var meta geoMetadata
	value := pf.MetaData().KeyValueMetadata().FindValue(geoMetadataKey)
	if value == nil {
		return meta, errors.Newf("no %q metadata, not a GeoParquet file", geoMetadataKey)
	}
	if err := json.Unmarshal([]byte(*value), &meta); err != nil {
		return meta, errors.Wrap(err, "geo metadata")
	}
	if meta.PrimaryColumn == "" {
		meta.PrimaryColumn = "geometry"
	}
	return meta, nil
}

// geoParquetCRS reads the EPSG id of a PROJJSON crs. A missing crs means
// OGC:CRS84, an explicit null an unknown system.
func geoParquetCRS(raw json.RawMessage) (srs.CRS, error) {
	if len(raw) == 0 {
		return srs.WGS84, nil
	}
	if string(raw) == "null" {
		return srs.Undefined, nil
	}
	var doc projJSONID
	if err := json.Unmarshal(raw, &doc); err != nil {
		return srs.Undefined, errors.Wrap(err, "geometry column crs")
	}
	if doc.ID == nil {
		return srs.Undefined, nil
	}
	code := doc.ID.Code
	if f, ok := code.(float64); ok {
		code = int(f)
	}
	return srs.FromAuthority(doc.ID.Authority, fmt.Sprint(code))
}

func arrowValue(a arrow.Array, i int) any {
	switch t := a.(type) {
	case *array.String:
		return t.Value(i)
	case *array.LargeString:
		return t.Value(i)
	case *array.Boolean:
		return t.Value(i)
	case *array.Int64:
		return t.Value(i)
	case *array.Int32:
		return int64(t.Value(i))
	case *array.Int16:
		return int64(t.Value(i))
	case *array.Int8:
		return int64(t.Value(i))
	case *array.Uint32:
		return int64(t.Value(i))
	case *array.Float64:
		return t.Value(i)
	case *array.Float32:
		return float64(t.Value(i))
	case *array.Binary:
		return t.Value(i)
	}
	return a.ValueStr(i)
}
