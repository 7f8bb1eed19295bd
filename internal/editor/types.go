package editor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnknownCollection is returned for a collection outside the three geometry collections.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnknownMode is returned when parsing an unrecognised editing mode.
	ErrUnknownMode = errors.New("unknown editing mode")

	// ErrNotDraggable is returned when a drag arrives while markers are locked.
	ErrNotDraggable = errors.New("markers are not draggable")

	// ErrLookupFailed is returned when the resolver could not be asked at all.
	ErrLookupFailed = errors.New("district lookup failed")
)

// Mode is the single active editing mode. The zero value is ModeNone.
type Mode int

// Editing modes.
const (
	ModeNone Mode = iota
	ModeAddSinglePoint
	ModeAddMultiplePoints
	ModeDrawLine
	ModeDrawPolygon
)

var modeNames = map[Mode]string{
	ModeNone:              "none",
	ModeAddSinglePoint:    "addSinglePoint",
	ModeAddMultiplePoints: "addMultiplePoints",
	ModeDrawLine:          "drawLine",
	ModeDrawPolygon:       "drawPolygon",
}

// names used by the web front-end
var modeAliases = map[string]Mode{
	"":            ModeNone,
	"null":        ModeNone,
	"addmarker":   ModeAddSinglePoint,
	"multimarker": ModeAddMultiplePoints,
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if strings.ToLower(name) == key {
			return m, nil
		}
	}
	if m, ok := modeAliases[key]; ok {
		return m, nil
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Collection identifies one of the geometry collections.
type Collection int

// Geometry collections.
const (
	Points Collection = iota
	LineVertices
	PolygonVertices

	numCollections
)

var collectionNames = [numCollections]string{"points", "lineVertices", "polygonVertices"}

var collectionAliases = map[string]Collection{
	"marker":  Points,
	"markers": Points,
	"line":    LineVertices,
	"polygon": PolygonVertices,
}

func (c Collection) String() string {
	if c.Valid() {
		return collectionNames[c]
	}
	return fmt.Sprintf("Collection(%d)", int(c))
}

// Valid reports whether c names one of the geometry collections.
func (c Collection) Valid() bool {
	return c >= 0 && c < numCollections
}

// MarshalText implements encoding.TextMarshaler.
func (c Collection) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCollection, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Collection) UnmarshalText(text []byte) error {
	parsed, err := ParseCollection(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCollection parses a collection name, case-insensitively.
func ParseCollection(s string) (Collection, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range collectionNames {
		if strings.ToLower(name) == key {
			return Collection(i), nil
		}
	}
	if c, ok := collectionAliases[key]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, s)
}

// Collections lists every geometry collection in display order.
func Collections() []Collection {
	return []Collection{Points, LineVertices, PolygonVertices}
}

// AnnotatedPoint is a map location with its resolved district.
// ID is kept across drags and only identifies the entry while a lookup is in flight.
type AnnotatedPoint struct {
	ID       uuid.UUID `json:"id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	District string    `json:"district"`
}

// SameLocation reports whether two entries hold equal coordinates and district.
func (p AnnotatedPoint) SameLocation(o AnnotatedPoint) bool {
	return p.Lat == o.Lat && p.Lng == o.Lng && p.District == o.District
}

// Label returns the popup caption for the entry at position index of collection c.
func Label(c Collection, index int, p AnnotatedPoint) string {
	switch c {
	case LineVertices:
		return fmt.Sprintf("Line point %d - %s", index+1, p.District)
	case PolygonVertices:
		return fmt.Sprintf("Polygon point %d - %s", index+1, p.District)
	default:
		return fmt.Sprintf("Marker %d - %s", index+1, p.District)
	}
}

// placement is where a click in a given mode lands.
type placement struct {
	target  Collection
	replace bool
	oneShot bool
}

var placements = map[Mode]placement{
	ModeAddSinglePoint:    {target: Points, replace: true, oneShot: true},
	ModeAddMultiplePoints: {target: Points},
	ModeDrawLine:          {target: LineVertices},
	ModeDrawPolygon:       {target: PolygonVertices},
}
