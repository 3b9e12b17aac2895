package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses a filter expression.
//
// The expression is a semicolon-separated list of key=value clauses; values are
// comma-separated:
//
//	category=library,museum; name=springfield; id=4,9; exclude=closed
//
// Keys are case-insensitive. "categories", "names" and "ids" are accepted as
// plural aliases. An empty expression yields an empty filter.
func Parse(expr string) (*Filter, error) {
	f := &Filter{}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return f, nil
	}

	for _, clause := range strings.Split(expr, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		key, value, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("invalid filter clause %q: expected key=value", clause)
		}

		values := splitValues(value)
		if len(values) == 0 {
			return nil, fmt.Errorf("filter clause %q has no values", clause)
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "category", "categories":
			f.Categories = append(f.Categories, values...)
		case "name", "names":
			f.Names = append(f.Names, values...)
		case "exclude", "exclude_name", "exclude_names":
			f.ExcludeNames = append(f.ExcludeNames, values...)
		case "id", "ids":
			for _, v := range values {
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid id %q in filter", v)
				}
				f.IDs = append(f.IDs, id)
			}
		default:
			return nil, fmt.Errorf("unknown filter key %q", strings.TrimSpace(key))
		}
	}

	return f, nil
}

func splitValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
