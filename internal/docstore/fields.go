package docstore

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fields is the data of a document. Values are limited to strings, bools,
// integers, floats, time.Time, []any and nested Fields / map[string]any.
//
// Adapters round-trip values through their own encodings (JSONB turns
// integers into float64 and times into strings, Firestore returns int64), so
// readers go through the typed accessors below instead of type-asserting.
type Fields map[string]any

// String returns the string at key, or "" when missing.
func (f Fields) String(key string) string {
	return asString(f[key])
}

// Int returns the integer at key, or 0 when missing or not numeric.
func (f Fields) Int(key string) int64 {
	n, _ := asInt(f[key])
	return n
}

// Bool returns the bool at key.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Decimal returns the decimal at key. Money is stored as a string to keep
// precision across adapters, but numeric values are accepted too.
func (f Fields) Decimal(key string) decimal.Decimal {
	d, _ := asDecimal(f[key])
	return d
}

// NullDecimal returns the decimal at key, Valid only when present and parseable.
func (f Fields) NullDecimal(key string) decimal.NullDecimal {
	v, ok := f[key]
	if !ok || v == nil {
		return decimal.NullDecimal{}
	}
	d, ok := asDecimal(v)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

// Time returns the time at key, or the zero time.
func (f Fields) Time(key string) time.Time {
	t, _ := asTime(f[key])
	return t
}

// Map returns the nested document at key.
func (f Fields) Map(key string) Fields {
	return asFields(f[key])
}

// Slice returns the list at key.
func (f Fields) Slice(key string) []any {
	s, _ := f[key].([]any)
	return s
}

// Maps returns the list at key as nested documents, skipping non-map entries.
func (f Fields) Maps(key string) []Fields {
	raw := f.Slice(key)
	out := make([]Fields, 0, len(raw))
	for _, v := range raw {
		if m := asFields(v); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case Fields:
		return vv.Clone()
	case map[string]any:
		return Fields(vv).Clone()
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = cloneValue(vv[i])
		}
		return out
	case []Fields:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = vv[i].Clone()
		}
		return out
	default:
		return v
	}
}

func asFields(v any) Fields {
	switch vv := v.(type) {
	case Fields:
		return vv
	case map[string]any:
		return Fields(vv)
	default:
		return nil
	}
}

func asString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return ""
	case json.Number:
		return vv.String()
	case decimal.Decimal:
		return vv.String()
	case int64:
		return strconv.FormatInt(vv, 10)
	case int:
		return strconv.Itoa(vv)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) (int64, bool) {
	switch vv := v.(type) {
	case int64:
		return vv, true
	case int:
		return int64(vv), true
	case int32:
		return int64(vv), true
	case float64:
		return int64(vv), true
	case json.Number:
		n, err := vv.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(vv), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case int64:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int32:
		return float64(vv), true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	case decimal.Decimal:
		return vv.InexactFloat64(), true
	default:
		return 0, false
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch vv := v.(type) {
	case decimal.Decimal:
		return vv, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(vv))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(vv.String())
		return d, err == nil
	case int64:
		return decimal.NewFromInt(vv), true
	case int:
		return decimal.NewFromInt(int64(vv)), true
	case float64:
		return decimal.NewFromFloat(vv), true
	default:
		return decimal.Zero, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch vv := v.(type) {
	case time.Time:
		return vv, true
	case *time.Time:
		if vv == nil {
			return time.Time{}, false
		}
		return *vv, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(vv))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
