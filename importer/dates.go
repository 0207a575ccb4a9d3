package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// DATE NORMALIZER - Spreadsheet serials and locale strings to calendar dates
// =============================================================================

// SerialEpoch is day zero of spreadsheet serial dates. Using 1899-12-30
// absorbs the phantom 1900-02-29 for every serial after 60.
var SerialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31.
const maxSerial = 2958465

// DefaultDateLayouts are tried in order for string dates. Slash and dash
// dates are day-first.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

type DateNormalizer struct {
	Layouts []string
}

func NewDateNormalizer(layouts ...string) DateNormalizer {
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	return DateNormalizer{Layouts: layouts}
}

// FromSerial converts a spreadsheet serial number to its calendar date.
// The fractional part (time of day) is dropped.
func FromSerial(serial float64) (generic.TimePoint, error) {
	if math.IsNaN(serial) || serial < 1 || serial > maxSerial {
		return generic.TimePoint{}, &generic.ParseError{Field: "date", Value: serial, Err: fmt.Errorf("serial out of range")}
	}
	return generic.DateOf(SerialEpoch.AddDate(0, 0, int(math.Floor(serial)))), nil
}

// Normalize converts v to a calendar date. Numbers (and numeric strings)
// are spreadsheet serials; other strings are parsed with the layouts.
func (n DateNormalizer) Normalize(v any) (generic.TimePoint, error) {
	switch t := v.(type) {
	case nil:
		return generic.TimePoint{}, &generic.ParseError{Field: "date", Value: "", Err: fmt.Errorf("missing")}
	case time.Time:
		if t.IsZero() {
			return generic.TimePoint{}, &generic.ParseError{Field: "date", Value: "", Err: fmt.Errorf("missing")}
		}
		return generic.DateOf(t), nil
	case generic.TimePoint:
		return t, nil
	case float64:
		return FromSerial(t)
	case float32:
		return FromSerial(float64(t))
	case int:
		return FromSerial(float64(t))
	case int64:
		return FromSerial(float64(t))
	case string:
		return n.normalizeString(t)
	}
	return n.normalizeString(fmt.Sprint(v))
}

func (n DateNormalizer) normalizeString(raw string) (generic.TimePoint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return generic.TimePoint{}, &generic.ParseError{Field: "date", Value: raw, Err: fmt.Errorf("missing")}
	}

	// 20231225 is a compact ISO date, not a serial
	if len(s) == 8 && isDigits(s) {
		if t, err := time.Parse("20060102", s); err == nil {
			return generic.DateOf(t), nil
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FromSerial(f)
	}

	layouts := n.Layouts
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return generic.DateOf(t), nil
		}
	}
	return generic.TimePoint{}, &generic.ParseError{Field: "date", Value: raw}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// =============================================================================
// CLOCK VALUES
// =============================================================================

// NormalizeClock converts v to a time of day. Blank values yield nil.
// Numbers in [0, 1) are spreadsheet day fractions.
func NormalizeClock(v any) (*generic.Clock, error) {
	var frac float64
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		c := generic.NewClock(t.Hour(), t.Minute())
		return &c, nil
	case float64:
		frac = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			c, err := generic.ParseClock(s)
			if err != nil {
				return nil, err
			}
			return &c, nil
		}
		frac = f
	default:
		return NormalizeClock(fmt.Sprint(v))
	}

	if frac < 0 || frac >= 1 {
		return nil, &generic.ParseError{Field: "time", Value: frac, Err: fmt.Errorf("day fraction out of range")}
	}
	c := generic.Clock(int(math.Round(frac * 24 * 60)))
	if !c.Valid() {
		c = generic.Clock(24*60 - 1)
	}
	return &c, nil
}
