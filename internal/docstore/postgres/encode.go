package postgres

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/docstore"
)

// timeLayout is fixed width so that stored instants sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeFields(data docstore.Fields) ([]byte, error) {
	b, err := json.Marshal(normalize(data))
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return b, nil
}

func decodeFields(b []byte) (docstore.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var data docstore.Fields
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return fixMaps(data).(docstore.Fields), nil
}

func normalize(v any) any {
	switch vv := v.(type) {
	case docstore.Fields:
		out := make(map[string]any, len(vv))
		for k, x := range vv {
			out[k] = normalize(x)
		}
		return out
	case map[string]any:
		return normalize(docstore.Fields(vv))
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = normalize(vv[i])
		}
		return out
	case time.Time:
		return formatTime(vv)
	case *time.Time:
		if vv == nil {
			return nil
		}
		return formatTime(*vv)
	case decimal.Decimal:
		return vv.String()
	default:
		return v
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// fixMaps turns nested map[string]any produced by encoding/json into Fields.
func fixMaps(v any) any {
	switch vv := v.(type) {
	case docstore.Fields:
		for k, x := range vv {
			vv[k] = fixMaps(x)
		}
		return vv
	case map[string]any:
		return fixMaps(docstore.Fields(vv))
	case []any:
		for i := range vv {
			vv[i] = fixMaps(vv[i])
		}
		return vv
	default:
		return v
	}
}
