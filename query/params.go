// Package query defines the structural shape of a `query`-dataType field
// value: a set of filters plus pagination, the same shape the teacher's
// document search endpoints accept over HTTP (document_search_filters.go,
// document_search_rel_filter.go, document_search_time_filter.go), reduced
// here to the part the changeset processor needs to validate: well-formed
// structure, not execution. Compiling Params into a concrete WHERE clause
// against the entity store is left to a downstream query compiler; Build
// shows the shape that compiler would start from, using
// github.com/Masterminds/squirrel as the teacher's pack uses it
// (txn2-mcp-data-platform).
package query

import (
	"math"

	sq "github.com/Masterminds/squirrel"
	"gitlab.com/tozd/go/errors"
)

// FilterOp is the comparison a single filter performs.
type FilterOp string

const (
	FilterEquals    FilterOp = "eq"
	FilterNotEquals FilterOp = "neq"
	FilterExists    FilterOp = "exists"
	FilterOneOf     FilterOp = "oneOf"
	FilterGreater   FilterOp = "gt"
	FilterGreaterEq FilterOp = "gte"
	FilterLess      FilterOp = "lt"
	FilterLessEq    FilterOp = "lte"
	FilterContains  FilterOp = "contains"
)

var validFilterOps = map[FilterOp]bool{ //nolint:gochecknoglobals
	FilterEquals:    true,
	FilterNotEquals: true,
	FilterExists:    true,
	FilterOneOf:     true,
	FilterGreater:   true,
	FilterGreaterEq: true,
	FilterLess:      true,
	FilterLessEq:    true,
	FilterContains:  true,
}

// Filter is one structural filter clause: "field" compared with "op"
// against "value" or "values".
type Filter struct {
	Field  string   `json:"field"`
	Op     FilterOp `json:"op"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// Params is the structural, storage-independent shape of a saved query:
// filters are implicitly ANDed, paginated by Limit/Offset, and ordered
// by an optional field with direction.
type Params struct {
	Filters []Filter `json:"filters,omitempty"`
	OrderBy string   `json:"orderBy,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// ParseParams decodes a query field's raw object value into Params and
// validates its structural shape (field names present, op recognised,
// limit/offset non-negative). It does not touch the entity store: a
// downstream compiler resolves Params against actual schema fields.
func ParseParams(raw map[string]any) (Params, errors.E) {
	var p Params

	if rawFilters, ok := raw["filters"]; ok {
		list, ok := rawFilters.([]any)
		if !ok {
			return Params{}, errors.New("query: filters must be a list")
		}
		for i, rf := range list {
			obj, ok := rf.(map[string]any)
			if !ok {
				return Params{}, errors.Errorf("query: filters[%d] must be an object", i)
			}
			f, errE := parseFilter(obj)
			if errE != nil {
				errors.Details(errE)["index"] = i
				return Params{}, errE
			}
			p.Filters = append(p.Filters, f)
		}
	}

	if v, ok := raw["orderBy"]; ok {
		s, ok := v.(string)
		if !ok {
			return Params{}, errors.New("query: orderBy must be a string")
		}
		p.OrderBy = s
	}
	if v, ok := raw["desc"]; ok {
		b, ok := v.(bool)
		if !ok {
			return Params{}, errors.New("query: desc must be a boolean")
		}
		p.Desc = b
	}
	if v, ok := raw["limit"]; ok {
		n, errE := parseNonNegativeInt(v, "limit")
		if errE != nil {
			return Params{}, errE
		}
		p.Limit = n
	}
	if v, ok := raw["offset"]; ok {
		n, errE := parseNonNegativeInt(v, "offset")
		if errE != nil {
			return Params{}, errE
		}
		p.Offset = n
	}

	return p, nil
}

func parseFilter(obj map[string]any) (Filter, errors.E) {
	var f Filter

	field, ok := obj["field"].(string)
	if !ok || field == "" {
		return Filter{}, errors.New("query filter: field is required")
	}
	f.Field = field

	op, ok := obj["op"].(string)
	if !ok || !validFilterOps[FilterOp(op)] {
		return Filter{}, errors.Errorf(`query filter: unknown op "%v"`, obj["op"])
	}
	f.Op = FilterOp(op)

	if f.Op == FilterOneOf {
		values, ok := obj["values"].([]any)
		if !ok || len(values) == 0 {
			return Filter{}, errors.New("query filter: oneOf requires a non-empty values list")
		}
		f.Values = values
		return f, nil
	}

	if f.Op != FilterExists {
		value, ok := obj["value"]
		if !ok {
			return Filter{}, errors.Errorf(`query filter: op "%s" requires a value`, f.Op)
		}
		f.Value = value
	}

	return f, nil
}

func parseNonNegativeInt(v any, name string) (int, errors.E) {
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, errors.Errorf("query: %s must be a non-negative integer", name)
	}
	return int(f), nil
}

// Build renders Params into a squirrel SelectBuilder's WHERE/ORDER
// BY/LIMIT/OFFSET clauses against table, giving a downstream compiler a
// starting point rather than a full query (column selection and joins
// across relation filters are the compiler's job, not Params').
func Build(table string, p Params) sq.SelectBuilder {
	builder := sq.Select("*").From(table).PlaceholderFormat(sq.Dollar)

	for _, f := range p.Filters {
		switch f.Op {
		case FilterEquals:
			builder = builder.Where(sq.Eq{f.Field: f.Value})
		case FilterNotEquals:
			builder = builder.Where(sq.NotEq{f.Field: f.Value})
		case FilterExists:
			builder = builder.Where(sq.NotEq{f.Field: nil})
		case FilterOneOf:
			builder = builder.Where(sq.Eq{f.Field: f.Values})
		case FilterGreater:
			builder = builder.Where(sq.Gt{f.Field: f.Value})
		case FilterGreaterEq:
			builder = builder.Where(sq.GtOrEq{f.Field: f.Value})
		case FilterLess:
			builder = builder.Where(sq.Lt{f.Field: f.Value})
		case FilterLessEq:
			builder = builder.Where(sq.LtOrEq{f.Field: f.Value})
		case FilterContains:
			builder = builder.Where(sq.Like{f.Field: f.Value})
		}
	}

	if p.OrderBy != "" {
		if p.Desc {
			builder = builder.OrderBy(p.OrderBy + " DESC")
		} else {
			builder = builder.OrderBy(p.OrderBy + " ASC")
		}
	}
	if p.Limit > 0 {
		builder = builder.Limit(uint64(p.Limit))
	}
	if p.Offset > 0 {
		builder = builder.Offset(uint64(p.Offset))
	}

	return builder
}
