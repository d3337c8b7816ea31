// Package ui renders run progress and results for a terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kylegalloway/cilearn/internal/archive"
	"github.com/kylegalloway/cilearn/internal/metrics"
)

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorBorder = lipgloss.Color("#16858E")
	colorMuted  = lipgloss.Color("#2C4A54")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted).Padding(0, 1)
)

// ProgressState holds the current state for progress display.
type ProgressState struct {
	Task       int
	NumTask    int
	GlobalStep int
	SeenAcc    float64
	StartTime  time.Time
}

// FormatProgress returns a single-line progress string printed after each task.
func FormatProgress(ps ProgressState) string {
	elapsed := time.Since(ps.StartTime).Truncate(time.Second)
	return fmt.Sprintf("[task %d/%d] step %d | seen acc %.2f | %v elapsed",
		ps.Task+1, ps.NumTask, ps.GlobalStep, ps.SeenAcc, elapsed)
}

// RunSummary holds the final report for a run.
type RunSummary struct {
	RunID          string
	Name           string
	ILMode         string
	Classification string
	Duration       time.Duration
	Rows           [][]float64
	Summary        *metrics.Summary
}

// MatrixTable renders the result matrix with one row per learned task and one
// column per evaluated task. Cells above the diagonal stay blank.
func MatrixTable(rows [][]float64) string {
	headers := make([]string, 0, len(rows)+1)
	headers = append(headers, "after")
	for j := range rows {
		headers = append(headers, fmt.Sprintf("T%d", j))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return mutedStyle
			default:
				return cellStyle
			}
		})
	for i, r := range rows {
		cells := make([]string, len(rows)+1)
		cells[0] = fmt.Sprintf("T%d", i)
		for j, v := range r {
			cells[j+1] = fmt.Sprintf("%.2f", v)
		}
		t.Row(cells...)
	}
	return t.Render()
}

// FormatSummary returns a multi-line end-of-run report.
func FormatSummary(rs RunSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("=== Run Summary ==="))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Run:        %s", rs.RunID))
	if rs.Name != "" {
		b.WriteString(fmt.Sprintf(" (%s)", rs.Name))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Mode:       %s, %s\n", rs.ILMode, rs.Classification))
	if rs.Duration > 0 {
		b.WriteString(fmt.Sprintf("Duration:   %v\n", rs.Duration.Truncate(time.Second)))
	}
	b.WriteString(fmt.Sprintf("Tasks:      %d\n\n", len(rs.Rows)))
	if len(rs.Rows) > 0 {
		b.WriteString(MatrixTable(rs.Rows))
		b.WriteString("\n")
	}
	if s := rs.Summary; s != nil {
		b.WriteString("\nMetrics:\n")
		b.WriteString(fmt.Sprintf("  %-13s %8.3f\n", metrics.KeyAverageAccuracy, s.AverageAccuracy))
		b.WriteString(fmt.Sprintf("  %-13s %8.3f\n", metrics.KeyAverageIncrementalAccuracy, s.AverageIncrementalAccuracy))
		b.WriteString(fmt.Sprintf("  %-13s %8.3f\n", metrics.KeyBackwardTransfer, s.BackwardTransfer))
		b.WriteString(fmt.Sprintf("  %-13s %8.3f\n", metrics.KeyForgetting, s.Forgetting))
	} else {
		b.WriteString("\nRun did not finish; no metrics.\n")
	}
	return b.String()
}

// FormatRunList renders archived runs, most recent first.
func FormatRunList(metas []archive.RunMeta) string {
	if len(metas) == 0 {
		return "No archived runs."
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers("ID", "NAME", "MODE", "TYPE", "TASKS", "STARTED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, m := range metas {
		t.Row(m.ID, m.Name, m.ILMode, m.Classification,
			fmt.Sprintf("%d", m.NumTask), m.StartedAt.Format(time.RFC3339))
	}
	return t.Render()
}
