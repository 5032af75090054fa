package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DhavalThkkar/langfuse/cli/internal/output"
	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

// jobView renders one batch action.
type jobView struct {
	*batchaction.BatchAction
}

func (v jobView) Table() output.Table {
	j := v.BatchAction
	rows := [][]string{
		{"ID", j.ID},
		{"STATUS", string(j.Status)},
		{"EVALUATORS", strings.Join(j.Config.Names(), ", ")},
		{"PROGRESS", progress(j)},
		{"CREATED", formatTime(&j.CreatedAt)},
		{"FINISHED", formatTime(j.FinishedAt)},
	}
	if j.Log != nil {
		rows = append(rows, []string{"LOG", firstLine(*j.Log)})
	}
	return output.Table{Headers: []string{"FIELD", "VALUE"}, Rows: rows}
}

// jobListView renders a page of batch actions.
type jobListView struct {
	BatchActions []*batchaction.BatchAction `json:"batchActions"`
	TotalCount   int                        `json:"totalCount"`
}

func (v jobListView) Table() output.Table {
	t := output.Table{Headers: []string{"ID", "STATUS", "PROGRESS", "EVALUATORS", "CREATED"}}
	for _, j := range v.BatchActions {
		t.Rows = append(t.Rows, []string{
			j.ID,
			string(j.Status),
			progress(j),
			strconv.Itoa(len(j.Config.Evaluators)),
			formatTime(&j.CreatedAt),
		})
	}
	return t
}

// evaluatorListView renders evaluator configs.
type evaluatorListView struct {
	Evaluators []*batchaction.EvaluatorConfig `json:"evaluators"`
}

func (v evaluatorListView) Table() output.Table {
	t := output.Table{Headers: []string{"ID", "SCORE", "TARGET", "STATUS", "SAMPLING", "TIME SCOPE"}}
	for _, e := range v.Evaluators {
		t.Rows = append(t.Rows, []string{
			e.ID,
			e.ScoreName,
			string(e.TargetObject),
			string(e.Status),
			strconv.FormatFloat(e.Sampling, 'f', -1, 64),
			strings.Join(e.TimeScope, ","),
		})
	}
	return t
}

func progress(j *batchaction.BatchAction) string {
	s := fmt.Sprintf("%d/%d", j.ProcessedCount, j.TotalCount)
	if j.FailedCount > 0 {
		s += fmt.Sprintf(" (%d failed)", j.FailedCount)
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
