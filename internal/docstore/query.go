package docstore

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Op is a filter comparison operator. The values match Firestore's
// operator strings so adapters can pass them through.
type Op string

// Supported operators.
const (
	OpEq  Op = "=="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Filter restricts a query to documents whose top-level Field compares to
// Value with Op.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where is shorthand for a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents of a collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Match reports whether data satisfies every filter of q.
func (q Query) Match(data Fields) bool {
	for _, f := range q.Filters {
		v, ok := data[f.Field]
		if !ok {
			return false
		}
		c, comparable := compare(v, f.Value)
		if !comparable {
			if f.Op == OpNeq {
				continue
			}
			return false
		}
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpNeq:
			if c == 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, orders and limits docs according to q. Adapters
// without a native query engine use it.
func (q Query) Apply(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Match(d.Data) {
			out = append(out, d)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c, _ := compare(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// compare orders two field values. The second result is false when the
// values are of incompatible kinds.
func compare(a, b any) (int, bool) {
	if ta, ok := asTime(a); ok {
		if _, isString := a.(string); !isString {
			tb, ok := asTime(b)
			if !ok {
				return 0, false
			}
			return ta.Compare(tb), true
		}
	}

	switch av := a.(type) {
	case string:
		switch bv := b.(type) {
		case string:
			// RFC3339 strings from JSON adapters compare as instants.
			if ta, err := time.Parse(time.RFC3339Nano, av); err == nil {
				if tb, err := time.Parse(time.RFC3339Nano, bv); err == nil {
					return ta.Compare(tb), true
				}
			}
			return strings.Compare(av, bv), true
		case time.Time:
			ta, ok := asTime(av)
			if !ok {
				return 0, false
			}
			return ta.Compare(bv), true
		case decimal.Decimal:
			da, ok := asDecimal(av)
			if !ok {
				return 0, false
			}
			return da.Cmp(bv), true
		default:
			return 0, false
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case decimal.Decimal:
		db, ok := asDecimal(b)
		if !ok {
			return 0, false
		}
		return av.Cmp(db), true
	}

	fa, ok := asFloat(a)
	if !ok {
		return 0, false
	}
	if d, ok := b.(decimal.Decimal); ok {
		return decimal.NewFromFloat(fa).Cmp(d), true
	}
	fb, ok := asFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	default:
		return 0, true
	}
}
