package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/geodiary/mapcore/internal/model/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Markers are stored as WGS84 (EPSG:4326) lat/lng. The rendered layer works in
// web mercator (EPSG:3857), so projection happens only on the way to the layer.
// Identity of a position is its coordinate rounded to KeyPrecision decimals.

// KeyPrecision is the number of decimals kept when normalizing a coordinate.
const KeyPrecision = 6

// MaxMercatorLatitude is where web mercator is cut off; latitudes beyond it
// are clamped before projecting.
const MaxMercatorLatitude = 85.0511287798

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var keyScale = math.Pow(10, KeyPrecision)

// Normalize rounds both coordinates to KeyPrecision decimals and folds
// negative zero into zero.
func Normalize(p core.Position) core.Position {
	return core.Position{Lat: round(p.Lat), Lng: round(p.Lng)}
}

func round(v float64) float64 {
	r := math.Round(v*keyScale) / keyScale
	if r == 0 {
		return 0
	}
	return r
}

// Key returns the deduplication key of a position.
func Key(p core.Position) string {
	n := Normalize(p)
	return strconv.FormatFloat(n.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(n.Lng, 'f', -1, 64)
}

// Equal compares two positions after normalization. A zero tolerance means
// exact equality of the normalized values.
func Equal(a, b core.Position, tolerance float64) bool {
	na, nb := Normalize(a), Normalize(b)
	if tolerance <= 0 {
		return na == nb
	}
	return math.Abs(na.Lat-nb.Lat) <= tolerance && math.Abs(na.Lng-nb.Lng) <= tolerance
}

// Valid reports whether p is a usable WGS84 coordinate.
func Valid(p core.Position) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// PositionFromString parses a "lat,lng" string into a core.Position.
func PositionFromString(coords string) (core.Position, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) != 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	p := core.Position{Lat: lat, Lng: lng}
	if !Valid(p) {
		return core.Position{}, ErrInvalidCoordinates
	}
	return p, nil
}

// Point4326 returns p as a simplefeatures point with X = longitude, Y = latitude.
func Point4326(p core.Position) (geom.Point, error) {
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.Lng, Y: p.Lat},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	return point, nil
}

// Point3857 projects p into web mercator for the rendered layer.
func Point3857(p core.Position) (geom.Point, error) {
	if !Valid(p) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	lat := math.Max(-MaxMercatorLatitude, math.Min(MaxMercatorLatitude, p.Lat))
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lng, lat, 0)
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("projecting %v: %w", p, err)
	}
	return point, nil
}
