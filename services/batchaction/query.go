package batchaction

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SearchType selects which columns a full-text search covers.
type SearchType string

const (
	SearchID      SearchType = "id"
	SearchContent SearchType = "content"
	SearchInput   SearchType = "input"
	SearchOutput  SearchType = "output"
)

// SearchModeToType converts a UI search mode into search types.
func SearchModeToType(mode string) []SearchType {
	switch mode {
	case "metadata_fulltext":
		return []SearchType{SearchID, SearchContent}
	case "metadata_fulltext_input":
		return []SearchType{SearchID, SearchInput}
	case "metadata_fulltext_output":
		return []SearchType{SearchID, SearchOutput}
	default:
		return []SearchType{SearchID}
	}
}

type columnKind int

const (
	kindString columnKind = iota
	kindNumber
	kindDatetime
	kindArray
	kindObject
)

type eventColumn struct {
	sql  string
	kind columnKind
}

// filterColumns whitelists the filterable events columns by API name.
var filterColumns = map[string]eventColumn{
	"id":            {"id", kindString},
	"traceId":       {"trace_id", kindString},
	"name":          {"name", kindString},
	"type":          {"type", kindString},
	"environment":   {"environment", kindString},
	"level":         {"level", kindString},
	"version":       {"version", kindString},
	"userId":        {"user_id", kindString},
	"sessionId":     {"session_id", kindString},
	"traceName":     {"trace_name", kindString},
	"release":       {"release", kindString},
	"model":         {"provided_model_name", kindString},
	"promptName":    {"prompt_name", kindString},
	"promptVersion": {"prompt_version", kindNumber},
	"totalCost":     {"total_cost", kindNumber},
	"startTime":     {"start_time", kindDatetime},
	"tags":          {"tags", kindArray},
	"toolNames":     {"tool_call_names", kindArray},
	"metadata":      {"metadata", kindObject},
}

// sqlBuilder accumulates AND-ed conditions with positional arguments.
type sqlBuilder struct {
	conds []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) add(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *sqlBuilder) where() string {
	return strings.Join(b.conds, " AND ")
}

// SelectionQuery selects event rows for one project.
type SelectionQuery struct {
	ProjectID string
	Query     Query
	// CutoffCreatedAt excludes rows created later. Zero means no cutoff.
	CutoffCreatedAt time.Time
}

// buildEventsWhere renders the WHERE clause of a selection.
func buildEventsWhere(sel SelectionQuery) (string, []any, error) {
	b := &sqlBuilder{}
	b.add("project_id = " + b.arg(sel.ProjectID))

	if !sel.CutoffCreatedAt.IsZero() {
		b.add("created_at <= " + b.arg(sel.CutoffCreatedAt))
	}

	for _, f := range sel.Query.Filter {
		if err := addFilter(b, f); err != nil {
			return "", nil, err
		}
	}

	if search := searchCondition(b, sel.Query.SearchQuery, sel.Query.SearchType); search != "" {
		b.add(search)
	}

	return b.where(), b.args, nil
}

func addFilter(b *sqlBuilder, f FilterCondition) error {
	col, ok := filterColumns[f.Column]
	if !ok {
		return fmt.Errorf("%w: unknown filter column %q", ErrInvalidQuery, f.Column)
	}

	switch col.kind {
	case kindString:
		return addStringFilter(b, col.sql, f)
	case kindNumber:
		n, ok := toNumber(f.Value)
		if !ok {
			return fmt.Errorf("%w: column %s needs a numeric value", ErrInvalidQuery, f.Column)
		}
		op, err := comparison(f.Operator)
		if err != nil {
			return err
		}
		b.add(fmt.Sprintf("%s %s %s", col.sql, op, b.arg(n)))
		return nil
	case kindDatetime:
		t, err := toTime(f.Value)
		if err != nil {
			return fmt.Errorf("%w: column %s: %v", ErrInvalidQuery, f.Column, err)
		}
		op, err := comparison(f.Operator)
		if err != nil {
			return err
		}
		b.add(fmt.Sprintf("%s %s %s", col.sql, op, b.arg(t)))
		return nil
	case kindArray:
		values, ok := toStrings(f.Value)
		if !ok {
			return fmt.Errorf("%w: column %s needs a list of strings", ErrInvalidQuery, f.Column)
		}
		arr := b.arg(pq.Array(values))
		switch f.Operator {
		case "any of":
			b.add(fmt.Sprintf("%s && %s::text[]", col.sql, arr))
		case "all of":
			b.add(fmt.Sprintf("%s @> %s::text[]", col.sql, arr))
		case "none of":
			b.add(fmt.Sprintf("NOT (COALESCE(%s, '{}') && %s::text[])", col.sql, arr))
		default:
			return unsupportedOperator(f)
		}
		return nil
	case kindObject:
		if f.Key == "" {
			return fmt.Errorf("%w: column %s needs a key", ErrInvalidQuery, f.Column)
		}
		return addStringFilter(b, fmt.Sprintf("(%s->>%s)", col.sql, b.arg(f.Key)), f)
	}
	return unsupportedOperator(f)
}

func addStringFilter(b *sqlBuilder, column string, f FilterCondition) error {
	if f.Operator == "any of" || f.Operator == "none of" {
		values, ok := toStrings(f.Value)
		if !ok {
			return fmt.Errorf("%w: column %s needs a list of strings", ErrInvalidQuery, f.Column)
		}
		arr := b.arg(pq.Array(values))
		if f.Operator == "any of" {
			b.add(fmt.Sprintf("%s = ANY(%s::text[])", column, arr))
		} else {
			b.add(fmt.Sprintf("(%s IS NULL OR NOT (%s = ANY(%s::text[])))", column, column, arr))
		}
		return nil
	}

	s, ok := f.Value.(string)
	if !ok {
		return fmt.Errorf("%w: column %s needs a string value", ErrInvalidQuery, f.Column)
	}
	switch f.Operator {
	case "=":
		b.add(fmt.Sprintf("%s = %s", column, b.arg(s)))
	case "!=":
		b.add(fmt.Sprintf("%s IS DISTINCT FROM %s", column, b.arg(s)))
	case "contains":
		b.add(fmt.Sprintf("%s ILIKE %s", column, b.arg("%"+escapeLike(s)+"%")))
	case "does not contain":
		b.add(fmt.Sprintf("(%s IS NULL OR %s NOT ILIKE %s)", column, column, b.arg("%"+escapeLike(s)+"%")))
	case "starts with":
		b.add(fmt.Sprintf("%s ILIKE %s", column, b.arg(escapeLike(s)+"%")))
	case "ends with":
		b.add(fmt.Sprintf("%s ILIKE %s", column, b.arg("%"+escapeLike(s))))
	default:
		return unsupportedOperator(f)
	}
	return nil
}

// searchCondition ORs ILIKE matches over the columns the search types cover.
// An empty query yields no condition; nil types default to id search.
func searchCondition(b *sqlBuilder, query string, types []SearchType) string {
	if query == "" {
		return ""
	}
	if len(types) == 0 {
		types = []SearchType{SearchID}
	}

	var columns []string
	if slices.Contains(types, SearchID) {
		columns = append(columns, "id", "name")
	}
	if slices.Contains(types, SearchContent) {
		columns = append(columns, "input::text", "output::text")
	}
	if slices.Contains(types, SearchInput) {
		columns = append(columns, "input::text")
	}
	if slices.Contains(types, SearchOutput) {
		columns = append(columns, "output::text")
	}
	if len(columns) == 0 {
		return ""
	}

	pattern := b.arg("%" + query + "%")
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " ILIKE " + pattern
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func comparison(op string) (string, error) {
	switch op {
	case "=", ">", "<", ">=", "<=":
		return op, nil
	case "!=":
		return "<>", nil
	default:
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, op)
	}
}

func unsupportedOperator(f FilterCondition) error {
	return fmt.Errorf("%w: operator %q is not supported for column %s", ErrInvalidQuery, f.Operator, f.Column)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func toStrings(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t)
		}
		return parsed, nil
	default:
		return time.Time{}, fmt.Errorf("timestamp must be an RFC 3339 string")
	}
}
