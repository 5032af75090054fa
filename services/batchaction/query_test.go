package batchaction

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/DhavalThkkar/langfuse/pkg/testutil"
)

func TestBuildEventsWhere_Base(t *testing.T) {
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	where, args, err := buildEventsWhere(SelectionQuery{ProjectID: "proj-1", CutoffCreatedAt: cutoff})
	if err != nil {
		t.Fatalf("buildEventsWhere() error = %v", err)
	}
	if want := "project_id = $1 AND created_at <= $2"; where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 2 || args[0] != "proj-1" || args[1] != cutoff {
		t.Errorf("args = %v", args)
	}

	where, _, _ = buildEventsWhere(SelectionQuery{ProjectID: "proj-1"})
	if want := "project_id = $1"; where != want {
		t.Errorf("where without cutoff = %q, want %q", where, want)
	}
}

func TestBuildEventsWhere_Filters(t *testing.T) {
	tests := []struct {
		name     string
		filter   FilterCondition
		wantCond string
		wantArg  any
	}{
		{
			name:     "string equals",
			filter:   FilterCondition{Column: "name", Operator: "=", Value: "llm"},
			wantCond: "name = $2",
			wantArg:  "llm",
		},
		{
			name:     "string not equals",
			filter:   FilterCondition{Column: "userId", Operator: "!=", Value: "u"},
			wantCond: "user_id IS DISTINCT FROM $2",
			wantArg:  "u",
		},
		{
			name:     "contains escapes wildcards",
			filter:   FilterCondition{Column: "traceName", Operator: "contains", Value: "50%_off"},
			wantCond: "trace_name ILIKE $2",
			wantArg:  `%50\%\_off%`,
		},
		{
			name:     "starts with",
			filter:   FilterCondition{Column: "model", Operator: "starts with", Value: "gpt"},
			wantCond: "provided_model_name ILIKE $2",
			wantArg:  "gpt%",
		},
		{
			name:     "ends with",
			filter:   FilterCondition{Column: "release", Operator: "ends with", Value: "-rc"},
			wantCond: "release ILIKE $2",
			wantArg:  "%-rc",
		},
		{
			name:     "number",
			filter:   FilterCondition{Column: "totalCost", Operator: ">=", Value: 0.5},
			wantCond: "total_cost >= $2",
			wantArg:  0.5,
		},
		{
			name:     "number not equals",
			filter:   FilterCondition{Column: "promptVersion", Operator: "!=", Value: "3"},
			wantCond: "prompt_version <> $2",
			wantArg:  float64(3),
		},
		{
			name:     "datetime",
			filter:   FilterCondition{Column: "startTime", Operator: ">", Value: "2024-01-02T03:04:05Z"},
			wantCond: "start_time > $2",
			wantArg:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, err := buildEventsWhere(SelectionQuery{
				ProjectID: "p",
				Query:     Query{Filter: []FilterCondition{tt.filter}},
			})
			if err != nil {
				t.Fatalf("buildEventsWhere() error = %v", err)
			}
			if want := "project_id = $1 AND " + tt.wantCond; where != want {
				t.Errorf("where = %q, want %q", where, want)
			}
			if len(args) != 2 {
				t.Fatalf("args = %v, want 2", args)
			}
			if got, ok := args[1].(time.Time); ok {
				if !got.Equal(tt.wantArg.(time.Time)) {
					t.Errorf("arg = %v, want %v", got, tt.wantArg)
				}
				return
			}
			if args[1] != tt.wantArg {
				t.Errorf("arg = %#v, want %#v", args[1], tt.wantArg)
			}
		})
	}
}

func TestBuildEventsWhere_ListFilters(t *testing.T) {
	tests := []struct {
		filter   FilterCondition
		wantCond string
	}{
		{FilterCondition{Column: "tags", Operator: "any of", Value: []any{"a", "b"}}, "tags && $2::text[]"},
		{FilterCondition{Column: "tags", Operator: "all of", Value: []string{"a"}}, "tags @> $2::text[]"},
		{FilterCondition{Column: "toolNames", Operator: "none of", Value: []any{"x"}}, "NOT (COALESCE(tool_call_names, '{}') && $2::text[])"},
		{FilterCondition{Column: "environment", Operator: "any of", Value: []any{"prod"}}, "environment = ANY($2::text[])"},
		{FilterCondition{Column: "level", Operator: "none of", Value: []any{"DEBUG"}}, "(level IS NULL OR NOT (level = ANY($2::text[])))"},
	}
	for _, tt := range tests {
		where, args, err := buildEventsWhere(SelectionQuery{ProjectID: "p", Query: Query{Filter: []FilterCondition{tt.filter}}})
		if err != nil {
			t.Fatalf("buildEventsWhere(%v) error = %v", tt.filter, err)
		}
		if want := "project_id = $1 AND " + tt.wantCond; where != want {
			t.Errorf("where = %q, want %q", where, want)
		}
		if _, ok := args[1].(*pq.StringArray); !ok {
			t.Errorf("arg = %T, want *pq.StringArray", args[1])
		}
	}
}

func TestBuildEventsWhere_Metadata(t *testing.T) {
	where, args, err := buildEventsWhere(SelectionQuery{ProjectID: "p", Query: Query{Filter: []FilterCondition{
		{Column: "metadata", Operator: "=", Key: "customer", Value: "acme"},
	}}})
	if err != nil {
		t.Fatalf("buildEventsWhere() error = %v", err)
	}
	if want := "project_id = $1 AND (metadata->>$2) = $3"; where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if args[1] != "customer" || args[2] != "acme" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildEventsWhere_Invalid(t *testing.T) {
	tests := []FilterCondition{
		{Column: "password", Operator: "=", Value: "x"},
		{Column: "name", Operator: "~", Value: "x"},
		{Column: "name", Operator: "=", Value: 3},
		{Column: "totalCost", Operator: ">", Value: "cheap"},
		{Column: "totalCost", Operator: "contains", Value: 1},
		{Column: "startTime", Operator: ">", Value: "yesterday"},
		{Column: "tags", Operator: "contains", Value: []any{"a"}},
		{Column: "tags", Operator: "any of", Value: []any{1}},
		{Column: "metadata", Operator: "=", Value: "x"},
	}
	for _, f := range tests {
		_, _, err := buildEventsWhere(SelectionQuery{ProjectID: "p", Query: Query{Filter: []FilterCondition{f}}})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("buildEventsWhere(%+v) error = %v, want ErrInvalidQuery", f, err)
		}
	}
}

func TestBuildEventsWhere_Search(t *testing.T) {
	tests := []struct {
		name  string
		query string
		types []SearchType
		want  string
	}{
		{"empty query", "", []SearchType{SearchContent}, "project_id = $1"},
		{"default id", "abc", nil, "project_id = $1 AND (id ILIKE $2 OR name ILIKE $2)"},
		{"content", "abc", []SearchType{SearchContent}, "project_id = $1 AND (input::text ILIKE $2 OR output::text ILIKE $2)"},
		{"id and input", "abc", []SearchType{SearchID, SearchInput}, "project_id = $1 AND (id ILIKE $2 OR name ILIKE $2 OR input::text ILIKE $2)"},
		{"output", "abc", []SearchType{SearchOutput}, "project_id = $1 AND (output::text ILIKE $2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args, err := buildEventsWhere(SelectionQuery{ProjectID: "p", Query: Query{SearchQuery: tt.query, SearchType: tt.types}})
			if err != nil {
				t.Fatalf("buildEventsWhere() error = %v", err)
			}
			if where != tt.want {
				t.Errorf("where = %q, want %q", where, tt.want)
			}
			if tt.query != "" && args[len(args)-1] != "%abc%" {
				t.Errorf("pattern = %v, want %%abc%%", args[len(args)-1])
			}
		})
	}
}

func TestSearchModeToType(t *testing.T) {
	tests := map[string][]SearchType{
		"metadata":                 {SearchID},
		"metadata_fulltext":        {SearchID, SearchContent},
		"metadata_fulltext_input":  {SearchID, SearchInput},
		"metadata_fulltext_output": {SearchID, SearchOutput},
		"":                         {SearchID},
	}
	for mode, want := range tests {
		if got := SearchModeToType(mode); !slices.Equal(got, want) {
			t.Errorf("SearchModeToType(%q) = %v, want %v", mode, got, want)
		}
	}
}

func TestBuildEventsWhere_HostileValuesStayInArgs(t *testing.T) {
	for _, value := range testutil.HostileStrings {
		where, args, err := buildEventsWhere(SelectionQuery{
			ProjectID: "proj-1",
			Query: Query{
				Filter:      []FilterCondition{{Column: "name", Operator: "=", Value: value}},
				SearchQuery: value + "x",
			},
		})
		if err != nil {
			t.Fatalf("buildEventsWhere(%q) error = %v", value, err)
		}
		want := "project_id = $1 AND name = $2 AND (id ILIKE $3 OR name ILIKE $3)"
		if where != want {
			t.Errorf("buildEventsWhere(%q) where = %q, want %q", value, where, want)
		}
		if len(args) != 3 || args[1] != value {
			t.Errorf("buildEventsWhere(%q) args = %v", value, args)
		}
	}
}
