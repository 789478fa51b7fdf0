// Package gpkg reads and writes GeoPackage feature tables.
package gpkg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/geopipe/geomhelp"
	"github.com/pdok/geopipe/srs"
)

// Feature is one row of a feature table. Columns are in table order,
// without the geometry column.
type Feature interface {
	Columns() []interface{}
	Geometry() geom.Geometry
}

// Record is a Feature read from a table.
type Record struct {
	names    []string
	columns  []interface{}
	geometry geom.Geometry
}

func NewRecord(names []string, columns []interface{}, geometry geom.Geometry) *Record {
	return &Record{names: names, columns: columns, geometry: geometry}
}

func (r Record) Columns() []interface{} {
	return r.columns
}

func (r Record) Names() []string {
	return r.names
}

func (r Record) Geometry() geom.Geometry {
	return r.geometry
}

type Column struct {
	CID       int
	Name      string
	Type      string
	NotNull   int
	DfltValue *string
	PK        int
}

type Table struct {
	Name    string
	Columns []Column
	GColumn string
	GType   gpkg.GeometryType
	SRS     gpkg.SpatialReferenceSystem
}

// NewTable describes a table with an integer primary key "fid", the given
// attribute columns and a geometry column "geom".
func NewTable(name string, gtype gpkg.GeometryType, crs srs.CRS, columns ...Column) Table {
	all := append([]Column{{Name: "fid", Type: "INTEGER", NotNull: 1, PK: 1}}, columns...)
	all = append(all, Column{Name: "geom", Type: geometryTypeName(gtype)})
	for i := range all {
		all[i].CID = i
	}
	return Table{Name: name, Columns: all, GColumn: "geom", GType: gtype, SRS: spatialReferenceSystem(crs)}
}

// CRS returns the reference system of the geometry column.
func (t Table) CRS() srs.CRS {
	c, err := srs.FromAuthority(t.SRS.Organization, fmt.Sprint(t.SRS.OrganizationCoordsysID))
	if err != nil {
		return srs.Undefined
	}
	return c
}

// AttributeNames returns the names of the non geometry columns.
func (t Table) AttributeNames() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Name != t.GColumn {
			names = append(names, c.Name)
		}
	}
	return names
}

func spatialReferenceSystem(crs srs.CRS) gpkg.SpatialReferenceSystem {
	if !crs.Defined() {
		return gpkg.SpatialReferenceSystem{Name: "Undefined cartesian SRS", ID: -1, Organization: "NONE", OrganizationCoordsysID: -1, Definition: "undefined"}
	}
	return gpkg.SpatialReferenceSystem{
		Name:                   crs.String(),
		ID:                     crs.EPSG(),
		Organization:           "EPSG",
		OrganizationCoordsysID: crs.EPSG(),
		Definition:             crs.URI(),
		Description:            crs.String(),
	}
}

// geometryTypeFromString returns the numeric value of a gometry string
func geometryTypeFromString(geometrytype string) gpkg.GeometryType {
	switch strings.ToUpper(geometrytype) {
	case "GEOMETRY":
		return gpkg.Geometry
	case "POINT":
		return gpkg.Point
	case "LINESTRING":
		return gpkg.Linestring
	case "POLYGON":
		return gpkg.Polygon
	case "MULTIPOINT":
		return gpkg.MultiPoint
	case "MULTILINESTRING":
		return gpkg.MultiLinestring
	case "MULTIPOLYGON":
		return gpkg.MultiPolygon
	case "GEOMETRYCOLLECTION":
		return gpkg.GeometryCollection
	default:
		return gpkg.Geometry
	}
}

func geometryTypeName(gtype gpkg.GeometryType) string {
	switch gtype {
	case gpkg.Point:
		return "POINT"
	case gpkg.Linestring:
		return "LINESTRING"
	case gpkg.Polygon:
		return "POLYGON"
	case gpkg.MultiPoint:
		return "MULTIPOINT"
	case gpkg.MultiLinestring:
		return "MULTILINESTRING"
	case gpkg.MultiPolygon:
		return "MULTIPOLYGON"
	case gpkg.GeometryCollection:
		return "GEOMETRYCOLLECTION"
	default:
		return "GEOMETRY"
	}
}

type SourceGeopackage struct {
	Table  Table
	handle *gpkg.Handle
}

func OpenSource(file string) (*SourceGeopackage, error) {
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening GeoPackage %s", file)
	}
	return &SourceGeopackage{handle: handle}, nil
}

func (source *SourceGeopackage) Close() error {
	return source.handle.Close()
}

// ReadFeatures sends every row of source.Table to features and closes it.
func (source *SourceGeopackage) ReadFeatures(ctx context.Context, features chan<- Feature) error {
	defer close(features)

	rows, err := source.handle.QueryContext(ctx, source.Table.selectSQL())
	if err != nil {
		return errors.Wrapf(err, "error querying %s", source.Table.Name)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "error reading the columns")
	}

	for rows.Next() {
		vals := make([]interface{}, len(cols))
		valPtrs := make([]interface{}, len(cols))
		for i := 0; i < len(cols); i++ {
			valPtrs[i] = &vals[i]
		}

		if err = rows.Scan(valPtrs...); err != nil {
			return errors.Wrap(err, "err reading row values")
		}
		var f Record
		for i, colName := range cols {
			if colName == source.Table.GColumn {
				if vals[i] == nil {
					continue
				}
				wkbgeom, err := gpkg.DecodeGeometry(vals[i].([]byte))
				if err != nil {
					return errors.Wrap(err, "error decoding the geometry")
				}
				f.geometry = wkbgeom.Geometry
				continue
			}
			f.names = append(f.names, colName)
			switch v := vals[i].(type) {
			case []uint8:
				f.columns = append(f.columns, string(v))
			case int64, float64, time.Time, string, bool, nil:
				f.columns = append(f.columns, v)
			default:
				return errors.Newf("unexpected type for sqlite column data: %v: %T", cols[i], v)
			}
		}
		select {
		case features <- &f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return rows.Err()
}

func (source *SourceGeopackage) GetTableInfo() ([]Table, error) {
	query := `SELECT table_name, column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns;`
	rows, err := source.handle.Query(query)
	if err != nil {
		return nil, errors.Wrapf(err, "error during query %v", query)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		var gtype string
		var srsID int
		err := rows.Scan(&t.Name, &t.GColumn, &gtype, &srsID)
		if err != nil {
			return nil, errors.Wrap(err, "error reading the source table information")
		}
		tables = append(tables, Table{Name: t.Name, GColumn: t.GColumn, GType: geometryTypeFromString(gtype), SRS: gpkg.SpatialReferenceSystem{ID: srsID}})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].Columns, err = getTableColumns(source.handle, tables[i].Name); err != nil {
			return nil, err
		}
		if tables[i].SRS, err = getSpatialReferenceSystem(source.handle, tables[i].SRS.ID); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

type TargetGeopackage struct {
	Table    Table
	pagesize int
	handle   *gpkg.Handle
}

func OpenTarget(file string, pagesize int) (*TargetGeopackage, error) {
	if pagesize <= 0 {
		pagesize = 1000
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening GeoPackage %s", file)
	}
	return &TargetGeopackage{pagesize: pagesize, handle: handle}, nil
}

func (target *TargetGeopackage) Close() error {
	return target.handle.Close()
}

func (target *TargetGeopackage) CreateTables(tables []Table) error {
	for _, table := range tables {
		if table.SRS.ID > 0 {
			err := target.handle.UpdateSRS(table.SRS)
			if err != nil {
				return err
			}
		}

		err := buildTable(target.handle, table)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteItems writes features in transactions of pagesize rows until the
// channel is closed.
func (target *TargetGeopackage) WriteItems(ctx context.Context, features <-chan Feature) error {
	var page []Feature
	for feature := range features {
		page = append(page, feature)
		if len(page)%target.pagesize == 0 {
			if err := target.writeFeatures(ctx, page); err != nil {
				return err
			}
			page = nil
		}
	}
	return target.writeFeatures(ctx, page)
}

func (target *TargetGeopackage) writeFeatures(ctx context.Context, features []Feature) error {
	if len(features) == 0 {
		return nil
	}
	tx, err := target.handle.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not start a transaction")
	}

	stmt, err := tx.PrepareContext(ctx, target.Table.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "could not prepare a statement")
	}
	defer stmt.Close()

	var ext *geom.Extent
	for _, f := range features {
		sb, err := gpkg.NewBinary(int32(target.Table.SRS.ID), f.Geometry())
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "could not create a binary geometry for %s", geomhelp.ShortWKT(f.Geometry(), 80))
		}

		data := append(append([]interface{}(nil), f.Columns()...), sb)
		if _, err = stmt.ExecContext(ctx, data...); err != nil {
			_ = tx.Rollback()
			var fid interface{} = "unknown"
			if len(data) > 1 {
				fid = data[0]
			}
			return errors.Wrapf(err, "could not insert feature %v", fid)
		}

		if ext == nil {
			if ext, err = geom.NewExtentFromGeometry(f.Geometry()); err != nil {
				ext = nil
			}
		} else {
			ext.AddGeometry(f.Geometry())
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit")
	}
	if ext == nil {
		return nil
	}
	return errors.Wrap(target.handle.UpdateGeometryExtent(target.Table.Name, ext), "failed to update the extent")
}

// createSQL creates a CREATE statement on the given table and column information
// used for creating feature tables in the target Geopackage
func (t Table) createSQL() string {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%v"`, t.Name)
	var columnparts []string
	for _, column := range t.Columns {
		columnpart := `"` + column.Name + `" ` + column.Type
		if column.PK == 1 {
			columnpart = columnpart + ` PRIMARY KEY`
		} else if column.NotNull == 1 {
			columnpart = columnpart + ` NOT NULL`
		}

		columnparts = append(columnparts, columnpart)
	}

	query := create + `(` + strings.Join(columnparts, `, `) + `);`
	return query
}

// selectSQL build a SELECT statement based on the table and columns
// used for reading the source features
func (t Table) selectSQL() string {
	var csql []string
	for _, c := range t.Columns {
		csql = append(csql, `"`+c.Name+`"`)
	}
	query := `SELECT ` + strings.Join(csql, `,`) + ` FROM "` + t.Name + `";`
	return query
}

// insertSQL used for writing the features
// build the INSERT statement based on the table and columns
func (t Table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.Columns {
		if c.Name != t.GColumn {
			csql = append(csql, `"`+c.Name+`"`)
			vsql = append(vsql, `?`)
		}
	}
	csql = append(csql, `"`+t.GColumn+`"`)
	vsql = append(vsql, `?`)
	query := `INSERT INTO "` + t.Name + `"(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
	return query
}

// getSpatialReferenceSystem extracts this based on the given SRS id
func getSpatialReferenceSystem(h *gpkg.Handle, id int) (gpkg.SpatialReferenceSystem, error) {
	var srs gpkg.SpatialReferenceSystem
	query := `SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description FROM gpkg_spatial_ref_sys WHERE srs_id = ?;`

	row := h.QueryRow(query, id)
	var description *string
	if err := row.Scan(&srs.Name, &srs.ID, &srs.Organization, &srs.OrganizationCoordsysID, &srs.Definition, &description); err != nil {
		return srs, errors.Wrapf(err, "error reading srs %d", id)
	}
	if description != nil {
		srs.Description = *description
	}

	return srs, nil
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) ([]Column, error) {
	var columns []Column
	query := `PRAGMA table_info('%v');`
	rows, err := h.Query(fmt.Sprintf(query, table))
	if err != nil {
		return nil, errors.Wrapf(err, "error during query %v", query)
	}
	defer rows.Close()

	for rows.Next() {
		var column Column
		err := rows.Scan(&column.CID, &column.Name, &column.Type, &column.NotNull, &column.DfltValue, &column.PK)
		if err != nil {
			return nil, errors.Wrap(err, "error getting the column information")
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// buildTable creates a given destination table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t Table) error {
	_, err := h.Exec(t.createSQL())
	if err != nil {
		return errors.Wrap(err, "error building table in target GeoPackage")
	}

	err = h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.Name,
		ShortName:     t.Name,
		Description:   t.Name,
		GeometryField: t.GColumn,
		GeometryType:  t.GType,
		SRS:           int32(t.SRS.ID),
		//
		Z: gpkg.Prohibited,
		M: gpkg.Prohibited,
	})
	if err != nil {
		return errors.Wrap(err, "error adding geometry table in target GeoPackage")
	}
	return nil
}
