package batchaction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// celCostLimit bounds a single targeting evaluation.
const celCostLimit = 100000

type celField struct {
	name  string
	array bool
	obj   bool
}

// targetingFields maps filter columns to ObservationForEval JSON fields.
// Timestamps and costs are not part of the canonical record and cannot be
// targeted on the live path.
var targetingFields = map[string]celField{
	"id":          {name: "span_id"},
	"traceId":     {name: "trace_id"},
	"name":        {name: "name"},
	"type":        {name: "type"},
	"environment": {name: "environment"},
	"level":       {name: "level"},
	"version":     {name: "version"},
	"userId":      {name: "user_id"},
	"sessionId":   {name: "session_id"},
	"traceName":   {name: "trace_name"},
	"release":     {name: "release"},
	"model":       {name: "provided_model_name"},
	"promptName":  {name: "prompt_name"},
	"tags":        {name: "tags", array: true},
	"toolNames":   {name: "tool_call_names", array: true},
	"metadata":    {name: "metadata", obj: true},
}

// Targeting decides whether an observation passes an evaluator's
// live-traffic filter. Filters are compiled to CEL and cached by expression.
type Targeting struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewTargeting creates the CEL environment with a single dynamic `obs` variable.
func NewTargeting() (*Targeting, error) {
	env, err := cel.NewEnv(
		cel.Variable("obs", cel.DynType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Targeting{env: env, programs: make(map[string]cel.Program)}, nil
}

// Matches evaluates filter against obs. An empty filter matches everything.
func (t *Targeting) Matches(filter []FilterCondition, obs *ObservationForEval) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}

	expr, err := FilterExpression(filter)
	if err != nil {
		return false, err
	}
	prog, err := t.program(expr)
	if err != nil {
		return false, err
	}

	activation, err := observationActivation(obs)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{"obs": activation})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate targeting filter: %w", err)
	}
	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

func (t *Targeting) program(expr string) (cel.Program, error) {
	t.mu.RLock()
	prog, ok := t.programs[expr]
	t.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := t.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile targeting filter: %w", issues.Err())
	}
	prog, err := t.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to build targeting program: %w", err)
	}

	t.mu.Lock()
	t.programs[expr] = prog
	t.mu.Unlock()
	return prog, nil
}

// observationActivation exposes obs to CEL as its JSON object form.
func observationActivation(obs *ObservationForEval) (map[string]any, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode observation: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode observation: %w", err)
	}
	// null fields behave like absent ones
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	return m, nil
}

// FilterExpression renders filter conditions as one CEL boolean expression.
func FilterExpression(filter []FilterCondition) (string, error) {
	if len(filter) == 0 {
		return "true", nil
	}

	parts := make([]string, 0, len(filter))
	for _, f := range filter {
		expr, err := conditionExpression(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " && "), nil
}

func conditionExpression(f FilterCondition) (string, error) {
	field, ok := targetingFields[f.Column]
	if !ok {
		return "", fmt.Errorf("%w: column %q cannot be used for targeting", ErrInvalidQuery, f.Column)
	}

	present := fmt.Sprintf("%s in obs", celString(field.name))
	value := fmt.Sprintf("obs[%s]", celString(field.name))

	if field.obj {
		if f.Key == "" {
			return "", fmt.Errorf("%w: column %s needs a key", ErrInvalidQuery, f.Column)
		}
		present = fmt.Sprintf("(%s && %s in %s)", present, celString(f.Key), value)
		value = fmt.Sprintf("string(%s[%s])", value, celString(f.Key))
	}

	if field.array {
		values, ok := toStrings(f.Value)
		if !ok {
			return "", fmt.Errorf("%w: column %s needs a list of strings", ErrInvalidQuery, f.Column)
		}
		list := celList(values)
		switch f.Operator {
		case "any of":
			return fmt.Sprintf("(%s && %s.exists(x, x in %s))", present, value, list), nil
		case "all of":
			return fmt.Sprintf("(%s && %s.all(x, x in %s))", present, list, value), nil
		case "none of":
			return fmt.Sprintf("!(%s && %s.exists(x, x in %s))", present, value, list), nil
		default:
			return "", unsupportedOperator(f)
		}
	}

	if f.Operator == "any of" || f.Operator == "none of" {
		values, ok := toStrings(f.Value)
		if !ok {
			return "", fmt.Errorf("%w: column %s needs a list of strings", ErrInvalidQuery, f.Column)
		}
		expr := fmt.Sprintf("(%s && %s in %s)", present, value, celList(values))
		if f.Operator == "none of" {
			expr = "!" + expr
		}
		return expr, nil
	}

	s, ok := f.Value.(string)
	if !ok {
		return "", fmt.Errorf("%w: column %s needs a string value", ErrInvalidQuery, f.Column)
	}
	lower := celString(strings.ToLower(s))

	switch f.Operator {
	case "=":
		return fmt.Sprintf("(%s && %s == %s)", present, value, celString(s)), nil
	case "!=":
		return fmt.Sprintf("!(%s && %s == %s)", present, value, celString(s)), nil
	case "contains":
		return fmt.Sprintf("(%s && %s.lowerAscii().contains(%s))", present, value, lower), nil
	case "does not contain":
		return fmt.Sprintf("!(%s && %s.lowerAscii().contains(%s))", present, value, lower), nil
	case "starts with":
		return fmt.Sprintf("(%s && %s.lowerAscii().startsWith(%s))", present, value, lower), nil
	case "ends with":
		return fmt.Sprintf("(%s && %s.lowerAscii().endsWith(%s))", present, value, lower), nil
	default:
		return "", unsupportedOperator(f)
	}
}

func celString(s string) string {
	return strconv.Quote(s)
}

func celList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = celString(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
