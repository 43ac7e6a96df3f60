// Package report renders an analysis result as an XLSX workbook.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Skufu/deprescribe/internal/analysis"
	"github.com/Skufu/deprescribe/internal/clinical"
)

const (
	SheetSummary      = "Summary"
	SheetMedications  = "Medications"
	SheetInteractions = "Interactions"
	SheetStart        = "START"
)

var medicationHeader = []string{
	"Name", "Type", "Canonical Name", "Drug Classes", "Risk Score", "Risk Category",
	"Taper Required", "Taper Weeks", "Flags", "Recommendations", "Monitoring",
}

var interactionHeader = []string{
	"Herb", "Drug", "Severity", "Evidence", "Type", "Mechanism", "Effect", "Recommendation",
}

var startHeader = []string{
	"Criterion ID", "System", "Drug Classes", "Criterion", "Indication", "Recommendation", "Evidence",
}

var categoryFill = map[clinical.RiskCategory]string{
	clinical.RiskRed:    "#F8CBAD",
	clinical.RiskYellow: "#FFE699",
	clinical.RiskGreen:  "#C6EFCE",
}

// Workbook builds the four-sheet export for res.
func Workbook(res *analysis.Result) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("report: nil result")
	}
	f := excelize.NewFile()
	defer f.Close()

	w := &writer{f: f}
	if err := w.styles(); err != nil {
		return nil, err
	}

	// The default sheet is renamed rather than deleted so the workbook is
	// never without a sheet.
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetMedications, SheetInteractions, SheetStart} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	steps := []func(*analysis.Result) error{
		w.summary,
		w.medications,
		w.interactions,
		w.start,
	}
	for _, step := range steps {
		if err := step(res); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	f        *excelize.File
	header   int
	label    int
	category map[clinical.RiskCategory]int
}

func (w *writer) styles() error {
	var err error
	w.header, err = w.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	w.label, err = w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create label style: %w", err)
	}
	w.category = make(map[clinical.RiskCategory]int, len(categoryFill))
	for cat, color := range categoryFill {
		id, err := w.f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("create %s style: %w", cat, err)
		}
		w.category[cat] = id
	}
	return nil
}

func (w *writer) summary(res *analysis.Result) error {
	ps := res.PatientSummary
	cfs := "not recorded"
	if ps.CFSScore != nil {
		cfs = fmt.Sprint(*ps.CFSScore)
	}
	rows := [][]any{
		{"Age", ps.Age},
		{"Gender", string(ps.Gender)},
		{"Frailty", ps.FrailtyStatus},
		{"CFS Score", cfs},
		{"Life Expectancy", string(ps.LifeExpectancy)},
		{"Fall History", yesNo(ps.FallHistory)},
		{"Comorbidities", strings.Join(ps.Comorbidities, ", ")},
		{"Medications", ps.TotalMedications},
		{"Herbs", ps.TotalHerbs},
		{"Anticholinergic Burden", ps.AnticholinergicBurden},
		{},
		{"RED", res.PrioritySummary.Red},
		{"YELLOW", res.PrioritySummary.Yellow},
		{"GREEN", res.PrioritySummary.Green},
	}
	rows = appendSection(rows, "Safety Alerts", res.SafetyAlerts)
	rows = appendSection(rows, "Clinical Recommendations", res.ClinicalRecommendations)

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := w.f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
		if len(row) > 0 {
			if err := w.f.SetCellStyle(SheetSummary, cell, cell, w.label); err != nil {
				return fmt.Errorf("style summary row %d: %w", i+1, err)
			}
		}
	}
	return setWidths(w.f, SheetSummary, []float64{26, 90})
}

func appendSection(rows [][]any, title string, lines []string) [][]any {
	if len(lines) == 0 {
		return rows
	}
	rows = append(rows, []any{}, []any{title})
	for _, l := range lines {
		rows = append(rows, []any{"", l})
	}
	return rows
}

func (w *writer) medications(res *analysis.Result) error {
	if err := w.writeHeader(SheetMedications, medicationHeader); err != nil {
		return err
	}
	for i, m := range res.MedicationAnalyses {
		weeks := ""
		if m.TaperDurationWeeks > 0 {
			weeks = fmt.Sprint(m.TaperDurationWeeks)
		}
		row := []any{
			m.Name, string(m.Type), m.CanonicalName, strings.Join(m.DrugClasses, ", "),
			m.RiskScore, string(m.RiskCategory), yesNo(m.TaperRequired), weeks,
			strings.Join(m.Flags, "\n"), strings.Join(m.Recommendations, "\n"),
			strings.Join(m.MonitoringRequired, "\n"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.f.SetSheetRow(SheetMedications, cell, &row); err != nil {
			return fmt.Errorf("write medication %s: %w", m.Name, err)
		}
		if style, ok := w.category[m.RiskCategory]; ok {
			catCell, _ := excelize.CoordinatesToCellName(6, i+2)
			if err := w.f.SetCellStyle(SheetMedications, catCell, catCell, style); err != nil {
				return fmt.Errorf("style medication %s: %w", m.Name, err)
			}
		}
	}
	return setWidths(w.f, SheetMedications, []float64{20, 12, 20, 28, 10, 13, 14, 11, 60, 60, 40})
}

func (w *writer) interactions(res *analysis.Result) error {
	if err := w.writeHeader(SheetInteractions, interactionHeader); err != nil {
		return err
	}
	for i, r := range res.HerbDrugInteractions {
		row := []any{r.Herb, r.Drug, string(r.Severity), r.Evidence, r.Type, r.Mechanism, r.Effect, r.Recommendation}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.f.SetSheetRow(SheetInteractions, cell, &row); err != nil {
			return fmt.Errorf("write interaction %s+%s: %w", r.Herb, r.Drug, err)
		}
	}
	return setWidths(w.f, SheetInteractions, []float64{16, 16, 10, 12, 18, 40, 40, 50})
}

func (w *writer) start(res *analysis.Result) error {
	if err := w.writeHeader(SheetStart, startHeader); err != nil {
		return err
	}
	for i, s := range res.StartRecommendations {
		row := []any{s.CriterionID, s.System, strings.Join(s.DrugClasses, ", "), s.Criterion, s.Indication, s.Recommendation, string(s.Evidence)}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.f.SetSheetRow(SheetStart, cell, &row); err != nil {
			return fmt.Errorf("write start %s: %w", s.CriterionID, err)
		}
	}
	return setWidths(w.f, SheetStart, []float64{14, 24, 28, 50, 30, 50, 10})
}

func (w *writer) writeHeader(sheet string, headers []string) error {
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := w.f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := w.f.SetCellStyle(sheet, cell, cell, w.header); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
	}
	return nil
}

func setWidths(f *excelize.File, sheet string, widths []float64) error {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
