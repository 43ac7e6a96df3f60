package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Skufu/deprescribe/internal/analysis"
	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/matcher"
)

func sampleResult() *analysis.Result {
	return &analysis.Result{
		PatientSummary: analysis.PatientSummary{
			Age:                   82,
			Gender:                clinical.GenderFemale,
			CFSScore:              clinical.IntPtr(6),
			FrailtyStatus:         "Frail",
			LifeExpectancy:        clinical.LifeExpectancyTwoToFive,
			FallHistory:           true,
			TotalMedications:      2,
			TotalHerbs:            1,
			AnticholinergicBurden: 0,
			Comorbidities:         []string{"History of falls", "Atrial fibrillation"},
		},
		MedicationAnalyses: []analysis.MedicationAnalysis{
			{
				Name:               "Alprazolam",
				Type:               clinical.SubstanceMedication,
				CanonicalName:      "alprazolam",
				DrugClasses:        []string{"benzodiazepine"},
				RiskScore:          10,
				RiskCategory:       clinical.RiskRed,
				Flags:              []string{"STOPP-K1 [High]: sedation", "STOPP-D5 [Moderate]: dependence"},
				TaperRequired:      true,
				TaperDurationWeeks: 17,
				Recommendations:    []string{"Taper gradually; do not stop abruptly"},
				MonitoringRequired: []string{"Falls and gait"},
			},
			{
				Name:         "Warfarin",
				Type:         clinical.SubstanceMedication,
				DrugClasses:  []string{"anticoagulant"},
				RiskCategory: clinical.RiskGreen,
			},
		},
		PrioritySummary: analysis.PrioritySummary{Red: 1, Green: 2},
		StartRecommendations: []matcher.StartRecommendation{{
			CriterionID: "START-E5",
			System:      "Musculoskeletal",
			DrugClasses: []string{"vitamin d"},
			Criterion:   "Vitamin D in housebound patients with falls",
			Evidence:    clinical.EvidenceStrong,
		}},
		HerbDrugInteractions: []interaction.Record{{
			Herb:     "Ginkgo",
			Drug:     "Warfarin",
			Severity: clinical.InteractionMajor,
			Evidence: "curated",
			Effect:   "Increased bleeding risk",
		}},
		SafetyAlerts:            []string{"FALL RISK: Alprazolam is high priority and linked to falls in this patient"},
		ClinicalRecommendations: []string{"URGENT: 1 medication(s) flagged as high priority for deprescribing review"},
	}
}

func open(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWorkbookSheets(t *testing.T) {
	data, err := Workbook(sampleResult())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f := open(t, data)
	assert.Equal(t, []string{SheetSummary, SheetMedications, SheetInteractions, SheetStart}, f.GetSheetList())
}

func TestWorkbookMedicationRows(t *testing.T) {
	data, err := Workbook(sampleResult())
	require.NoError(t, err)
	f := open(t, data)

	rows, err := f.GetRows(SheetMedications)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, medicationHeader, rows[0])
	assert.Equal(t, "Alprazolam", rows[1][0])
	assert.Equal(t, "10", rows[1][4])
	assert.Equal(t, "RED", rows[1][5])
	assert.Equal(t, "Yes", rows[1][6])
	assert.Equal(t, "17", rows[1][7])
	assert.Contains(t, rows[1][8], "STOPP-K1")
	assert.Contains(t, rows[1][8], "STOPP-D5")
	assert.Equal(t, "Warfarin", rows[2][0])
	assert.Equal(t, "No", rows[2][6])
}

func TestWorkbookSummaryAndInteractions(t *testing.T) {
	data, err := Workbook(sampleResult())
	require.NoError(t, err)
	f := open(t, data)

	age, err := f.GetCellValue(SheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "82", age)
	cfs, err := f.GetCellValue(SheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, "6", cfs)

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	var alert bool
	for _, r := range rows {
		for _, c := range r {
			if c == "FALL RISK: Alprazolam is high priority and linked to falls in this patient" {
				alert = true
			}
		}
	}
	assert.True(t, alert, "safety alert missing from summary sheet")

	inter, err := f.GetRows(SheetInteractions)
	require.NoError(t, err)
	require.Len(t, inter, 2)
	assert.Equal(t, []string{"Ginkgo", "Warfarin", "Major", "curated"}, inter[1][:4])

	start, err := f.GetRows(SheetStart)
	require.NoError(t, err)
	require.Len(t, start, 2)
	assert.Equal(t, "START-E5", start[1][0])
}

func TestWorkbookEmptyResult(t *testing.T) {
	data, err := Workbook(&analysis.Result{})
	require.NoError(t, err)
	f := open(t, data)

	rows, err := f.GetRows(SheetInteractions)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, interactionHeader, rows[0])
}

func TestWorkbookNilResult(t *testing.T) {
	_, err := Workbook(nil)
	assert.Error(t, err)
}
