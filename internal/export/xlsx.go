// Package export renders screening results for people: a spreadsheet worklist
// for care coordinators and a plain-text report for the run log.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ckd-screening-service/internal/domain"
)

// Sheet names of the worklist workbook.
const (
	WorklistSheet = "Worklist"
	SummarySheet  = "Summary"
)

// WorklistHeader is the header row of the worklist sheet.
var WorklistHeader = []string{
	"Rank",
	"Priority Score",
	"Action",
	"Patient ID",
	"MRN",
	"Name",
	"Risk Level",
	"Status",
	"Advisory",
	"Primary Risk Factor",
	"Risk Factor Count",
	"eGFR",
	"uACR",
	"Missing Labs",
	"Next Action Date",
	"Recommendation",
	"Albuminuria Trend",
}

var worklistColumnWidths = []float64{6, 14, 20, 14, 14, 22, 11, 32, 28, 22, 16, 8, 8, 30, 16, 70, 22}

// WriteWorklistXLSX writes the ranked worklist as an .xlsx workbook.
func WriteWorklistXLSX(w io.Writer, worklist *domain.Worklist) error {
	if worklist == nil {
		return domain.NewValidationError("worklist", "worklist is required", nil)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", WorklistSheet); err != nil {
		return fmt.Errorf("failed to rename default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, WorklistSheet, 1, toCells(WorklistHeader)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(WorklistHeader), 1)
	if err := f.SetCellStyle(WorklistSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range worklistColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(WorklistSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetPanes(WorklistSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	for i, entry := range worklist.Entries {
		if err := writeRow(f, WorklistSheet, i+2, entryCells(i+1, entry)); err != nil {
			return err
		}
	}

	if err := writeSummarySheet(f, worklist, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func entryCells(rank int, entry domain.PriorityEntry) []interface{} {
	c := entry.Classification
	trend := ""
	if c.Albuminuria != nil {
		trend = fmt.Sprintf("%s (%+.1f%%)", c.Albuminuria.Worsening, c.Albuminuria.PercentChange)
	}
	return []interface{}{
		rank,
		entry.PriorityScore,
		string(entry.ActionCategory),
		c.PatientID,
		c.MRN,
		c.PatientName,
		string(c.RiskLevel),
		c.RiskStatus,
		c.AdvisoryFlag,
		c.PrimaryRiskFactor,
		c.RiskFactorCount,
		floatCell(c.EGFR),
		floatCell(c.UACR),
		joinLabs(c.MissingLabs),
		c.NextActionDate.Format(domain.DateLayout),
		c.Recommendation,
		trend,
	}
}

func writeSummarySheet(f *excelize.File, worklist *domain.Worklist, headerStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Run ID", worklist.RunID},
		{"Evaluated On", worklist.EvaluatedOn.Format(domain.DateLayout)},
		{"Generated At", worklist.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Entries", len(worklist.Entries)},
		{},
		{"Action", "Patients"},
	}
	for _, action := range sortedActions(worklist.ByAction) {
		rows = append(rows, []interface{}{string(action), worklist.ByAction[action]})
	}

	for i, row := range rows {
		if err := writeRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A6", "B6", headerStyle); err != nil {
		return fmt.Errorf("failed to set summary style: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "B", 22)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// floatCell leaves the cell empty for an absent value.
func floatCell(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func joinLabs(labs []domain.LabType) string {
	names := make([]string, len(labs))
	for i, l := range labs {
		names[i] = string(l)
	}
	return strings.Join(names, ", ")
}

// sortedActions orders categories by worklist precedence.
func sortedActions(counts map[domain.ActionCategory]int) []domain.ActionCategory {
	order := map[domain.ActionCategory]int{
		domain.ActionConfirmResults:    0,
		domain.ActionOrderLabs:         1,
		domain.ActionRoutineMonitoring: 2,
	}
	actions := make([]domain.ActionCategory, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		oi, iok := order[actions[i]]
		oj, jok := order[actions[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return actions[i] < actions[j]
	})
	return actions
}
