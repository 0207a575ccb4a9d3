package importer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NUMERIC COERCION - Best-effort, blank or garbage becomes zero
// =============================================================================

// DecimalOrZero coerces a cell value to a decimal. Thousands separators
// are stripped. Unparseable values yield zero.
func DecimalOrZero(v any) decimal.Decimal {
	d, err := parseDecimal(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// IntOrZero coerces a cell value to a whole number, rounding halves away
// from zero.
func IntOrZero(v any) int {
	return int(DecimalOrZero(v).Round(0).IntPart())
}

func parseDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, fmt.Errorf("missing")
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("missing")
	}
	return decimal.NewFromString(s)
}

// text returns the trimmed string form of a cell value.
func text(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
