package cmc

import (
	json "github.com/goccy/go-json"

	"cmc-analytics/internal/domain"
)

// Flatten turns nested objects into dotted keys (quote.USD.price).
// Arrays are kept as their JSON text; scalars are kept as decoded.
func Flatten(obj map[string]any) domain.RawRecord {
	out := make(domain.RawRecord, len(obj))
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out domain.RawRecord, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			if len(val) == 0 {
				out[key] = nil
				continue
			}
			flattenInto(out, key, val)
		case []any:
			b, err := json.Marshal(val)
			if err != nil {
				out[key] = nil
				continue
			}
			out[key] = string(b)
		default:
			out[key] = val
		}
	}
}
