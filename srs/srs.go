// Package srs identifies coordinate reference systems by their EPSG code and
// moves coordinates between them.
package srs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUndefinedCRS is returned when an operation needs a reference
	// system and none is set.
	ErrUndefinedCRS = errors.New("undefined coordinate reference system")
	// ErrReproject is returned when coordinates cannot be moved between two
	// reference systems.
	ErrReproject = errors.New("cannot reproject")

	crsURIRegexURL = regexp.MustCompile("^https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
)

// CRS is an EPSG code. The zero value is the undefined reference system.
type CRS int

const (
	Undefined   CRS = 0
	WGS84       CRS = 4326
	WebMercator CRS = 3857
	// WorldMercator is EPSG:3395.
	WorldMercator CRS = 3395
	// PlateCarree is EPSG:4087, World Equidistant Cylindrical.
	PlateCarree CRS = 4087
)

func (c CRS) Defined() bool {
	return c > 0
}

func (c CRS) EPSG() int {
	return int(c)
}

func (c CRS) String() string {
	if !c.Defined() {
		return "undefined"
	}
	return "EPSG:" + strconv.Itoa(int(c))
}

// URI returns the OGC definition URL of c.
func (c CRS) URI() string {
	if !c.Defined() {
		return ""
	}
	return "http://www.opengis.net/def/crs/EPSG/0/" + strconv.Itoa(int(c))
}

// Parse reads a reference system from an authority string ("EPSG:28992"),
// an OGC URN or URL, or a bare EPSG code. An empty string yields Undefined.
func Parse(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Undefined, nil
	}
	if m := crsURIRegexURL.FindStringSubmatch(s); m != nil {
		return FromAuthority(m[1], m[2])
	}
	if m := crsURIRegexURN.FindStringSubmatch(s); m != nil {
		return FromAuthority(m[1], m[2])
	}
	if authority, code, found := strings.Cut(s, ":"); found {
		return FromAuthority(authority, code)
	}
	return FromAuthority("EPSG", s)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) CRS {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// FromAuthority resolves an authority name and code pair, as found in
// GeoPackage and OGC documents.
func FromAuthority(authority, code string) (CRS, error) {
	switch strings.ToUpper(strings.TrimSpace(authority)) {
	case "EPSG":
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil || n < 0 {
			return Undefined, errors.Newf("invalid EPSG code %q", code)
		}
		return CRS(n), nil
	case "OGC":
		switch strings.ToUpper(strings.TrimSpace(code)) {
		case "CRS84", "84":
			return WGS84, nil
		}
	case "NONE", "":
		return Undefined, nil
	}
	return Undefined, errors.Newf("unsupported reference system %s:%s", authority, code)
}
