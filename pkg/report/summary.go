// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/sicklecell/pkg/cells"
)

// Summary of the evaluation of the trained model on the validation data.
type Summary struct {
	Loss      float64
	Check     CrossCheck
	Confusion ConfusionMatrix

	// Dropped is the number of validation samples without a label entry.
	Dropped int
}

var (
	summaryCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	summaryHeaderStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	summaryWarnStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("208"))
)

func newSummaryTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return summaryHeaderStyle
			}
			return summaryCellStyle
		}).
		Headers(headers...)
}

// String renders the summary as two tables: the metrics and the confusion matrix.
func (s Summary) String() string {
	metricsTable := newSummaryTable("Metric", "Value").
		Row("Validation loss", fmt.Sprintf("%.4f", s.Loss)).
		Row("Validation accuracy (aggregate)", fmt.Sprintf("%.2f%%", 100*s.Check.Aggregate)).
		Row("Validation accuracy (from predictions)", fmt.Sprintf("%.2f%%", 100*s.Check.Recomputed)).
		Row("Difference", fmt.Sprintf("%.4g", s.Check.Difference())).
		Row("Predictions near threshold", humanize.Comma(int64(s.Check.NearThreshold))).
		Row("Samples without label", humanize.Comma(int64(s.Dropped)))

	headers := []string{"Ground truth \\ Predicted"}
	for class := range cells.NumClasses {
		headers = append(headers, cells.Class(class).String())
	}
	cmTable := newSummaryTable(headers...)
	for truth := range cells.NumClasses {
		row := []string{cells.Class(truth).String()}
		for pred := range cells.NumClasses {
			row = append(row, humanize.Comma(int64(s.Confusion[truth][pred])))
		}
		cmTable.Row(row...)
	}

	var sb strings.Builder
	sb.WriteString(metricsTable.String())
	sb.WriteString("\n")
	sb.WriteString(cmTable.String())
	sb.WriteString("\n")
	if !s.Check.Consistent(ConsistencyEpsilon) {
		sb.WriteString(summaryWarnStyle.Render(fmt.Sprintf(
			"aggregate and recomputed accuracies differ by %.4g: %d predictions are within %g of the threshold",
			s.Check.Difference(), s.Check.NearThreshold, NearThresholdEpsilon)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ConsistencyEpsilon is the largest difference between the aggregate and recomputed accuracies accepted as
// consistent.
const ConsistencyEpsilon = 1e-3
