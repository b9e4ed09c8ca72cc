package cleaning

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// toFloat coerces a raw value to a finite number.
// Absent, null, boolean and non-numeric text all yield nil.
func toFloat(v any) *float64 {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		d, ok := parseDecimal(string(val))
		if !ok {
			return nil
		}
		f = d.InexactFloat64()
	case string:
		d, ok := parseDecimal(val)
		if !ok {
			return nil
		}
		f = d.InexactFloat64()
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toInt coerces a raw value to an integer. Fractional values yield nil.
func toInt(v any) *int64 {
	var d decimal.Decimal
	switch val := v.(type) {
	case json.Number:
		parsed, ok := parseDecimal(string(val))
		if !ok {
			return nil
		}
		d = parsed
	case string:
		parsed, ok := parseDecimal(val)
		if !ok {
			return nil
		}
		d = parsed
	default:
		f := toFloat(v)
		if f == nil {
			return nil
		}
		d = decimal.NewFromFloat(*f)
	}
	if !d.IsInteger() || d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return nil
	}
	n := d.IntPart()
	return &n
}

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// toText renders identifiers and labels. Null yields "".
func toText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'f', 0, 64)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
