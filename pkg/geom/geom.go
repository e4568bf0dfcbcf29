package geom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	gogeom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Format is the binary geometry encoding stored in the materialized table.
// The same value selects both the encode expression used during materialization
// and the reader used during decoding.
type Format string

const (
	WKB  Format = "wkb"
	EWKB Format = "ewkb"
)

// ewkbSRIDFlag marks an EWKB geometry type that is followed by a 4 byte SRID.
const ewkbSRIDFlag = 0x20000000

var (
	ErrUnsupportedFormat   = errors.New("unsupported geometry format")
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
	ErrMissingSRID         = errors.New("payload has no SRID header")
	ErrEmptyPayload        = errors.New("empty geometry payload")
)

// ParseFormat resolves a configuration value into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case WKB, "":
		return WKB, nil
	case EWKB, "postgis":
		return EWKB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) String() string {
	return string(f)
}

// EncodeExpr returns the DuckDB expression that converts the spatial GEOMETRY
// column into this format. Both forms yield a plain BLOB.
func (f Format) EncodeExpr(column string, srid int) (string, error) {
	return f.FromWKB(fmt.Sprintf("ST_AsWKB(%s)::BLOB", column), srid)
}

// FromWKB returns the DuckDB expression that turns wkbExpr, a little endian
// ISO WKB BLOB, into this format.
//
// DuckDB spatial only emits ISO WKB, so EWKB is produced by splicing the SRID
// flag and the SRID into the hex form of that WKB: byte order (2 hex chars),
// the three low type bytes, the flag byte 0x20, the SRID, then the untouched
// body. This holds for 2D geometries, which is what the source table stores.
func (f Format) FromWKB(wkbExpr string, srid int) (string, error) {
	switch f {
	case WKB:
		return wkbExpr, nil
	case EWKB:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(srid))
		hexWKB := fmt.Sprintf("hex(%s)", wkbExpr)
		return fmt.Sprintf(
			"unhex('01' || substr(%[1]s, 3, 6) || '20' || '%[2]X' || substr(%[1]s, 11))",
			hexWKB, b[:],
		), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// Decode reads a whole payload from r and parses it with the reader matching f.
// The payload is consumed until EOF; no length is trusted up front.
func (f Format) Decode(r io.Reader) (gogeom.T, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read geometry payload: %w", err)
	}
	return f.Unmarshal(payload)
}

// Unmarshal parses payload with the reader matching f.
func (f Format) Unmarshal(payload []byte) (gogeom.T, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	switch f {
	case WKB:
		g, err := wkb.Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wkb: %w", err)
		}
		return g, nil
	case EWKB:
		if err := checkSRIDHeader(payload); err != nil {
			return nil, err
		}
		g, err := ewkb.Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ewkb: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// Marshal encodes g in this format using little endian byte order.
// For EWKB the srid is written into the header.
func (f Format) Marshal(g gogeom.T, srid int) ([]byte, error) {
	switch f {
	case WKB:
		return wkb.Marshal(g, wkb.NDR)
	case EWKB:
		withSRID, err := SetSRID(g, srid)
		if err != nil {
			return nil, err
		}
		return ewkb.Marshal(withSRID, ewkb.NDR)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// checkSRIDHeader makes sure the payload carries the EWKB SRID flag.
// Plain WKB is valid EWKB with SRID 0, but the materialized column is expected
// to always carry one.
func checkSRIDHeader(payload []byte) error {
	if len(payload) < 9 {
		return fmt.Errorf("%w: payload too short (%d bytes)", ErrMissingSRID, len(payload))
	}

	var order binary.ByteOrder
	switch payload[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("failed to decode ewkb: invalid byte order %d", payload[0])
	}

	if order.Uint32(payload[1:5])&ewkbSRIDFlag == 0 {
		return ErrMissingSRID
	}
	return nil
}

// SetSRID returns g with its SRID set.
func SetSRID(g gogeom.T, srid int) (gogeom.T, error) {
	switch t := g.(type) {
	case *gogeom.Point:
		return t.SetSRID(srid), nil
	case *gogeom.LineString:
		return t.SetSRID(srid), nil
	case *gogeom.Polygon:
		return t.SetSRID(srid), nil
	case *gogeom.MultiPoint:
		return t.SetSRID(srid), nil
	case *gogeom.MultiLineString:
		return t.SetSRID(srid), nil
	case *gogeom.MultiPolygon:
		return t.SetSRID(srid), nil
	case *gogeom.GeometryCollection:
		return t.SetSRID(srid), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
}

// Decoded is a geometry that made it through the reader, tagged with its row id.
type Decoded struct {
	ID       int64
	Geometry gogeom.T
}

// Type returns the OGC type name of the decoded geometry.
func (d Decoded) Type() string {
	return TypeName(d.Geometry)
}

// Area returns the planar area of the decoded geometry.
func (d Decoded) Area() float64 {
	return Area(d.Geometry)
}
