package analysis

import (
	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/matcher"
)

// MedicationAnalysis is the per-substance outcome. Flags holds display
// strings in match order; FlagDetails carries the structured flags.
type MedicationAnalysis struct {
	Name               string                 `json:"name"`
	Type               clinical.SubstanceType `json:"type"`
	CanonicalName      string                 `json:"canonical_name,omitempty"`
	DrugClasses        []string               `json:"drug_classes"`
	RiskScore          int                    `json:"risk_score"`
	RiskCategory       clinical.RiskCategory  `json:"risk_category"`
	Flags              []string               `json:"flags"`
	FlagDetails        []matcher.Flag         `json:"flag_details"`
	Recommendations    []string               `json:"recommendations"`
	MonitoringRequired []string               `json:"monitoring_required"`
	TaperRequired      bool                   `json:"taper_required"`
	TaperDurationWeeks int                    `json:"taper_duration_weeks,omitempty"`
}

type PrioritySummary struct {
	Red    int `json:"RED"`
	Yellow int `json:"YELLOW"`
	Green  int `json:"GREEN"`
}

type MonitoringPlan struct {
	MedicationName string   `json:"medication_name"`
	Frequency      string   `json:"frequency"`
	Parameters     []string `json:"parameters"`
	DurationWeeks  int      `json:"duration_weeks"`
	AlertCriteria  []string `json:"alert_criteria"`
}

type PatientSummary struct {
	Age                   int                     `json:"age"`
	Gender                clinical.Gender         `json:"gender"`
	CFSScore              *int                    `json:"cfs_score,omitempty"`
	FrailtyStatus         string                  `json:"frailty_status"`
	LifeExpectancy        clinical.LifeExpectancy `json:"life_expectancy"`
	FallHistory           bool                    `json:"fall_history"`
	TotalMedications      int                     `json:"total_medications"`
	TotalHerbs            int                     `json:"total_herbs"`
	AnticholinergicBurden int                     `json:"anticholinergic_burden"`
	Comorbidities         []string                `json:"comorbidities"`
}

// Result is the full analysis of one patient.
type Result struct {
	PatientSummary          PatientSummary                `json:"patient_summary"`
	MedicationAnalyses      []MedicationAnalysis          `json:"medication_analyses"`
	PrioritySummary         PrioritySummary               `json:"priority_summary"`
	StartRecommendations    []matcher.StartRecommendation `json:"start_recommendations"`
	HerbDrugInteractions    []interaction.Record          `json:"herb_drug_interactions"`
	MonitoringPlans         []MonitoringPlan              `json:"monitoring_plans"`
	ClinicalRecommendations []string                      `json:"clinical_recommendations"`
	SafetyAlerts            []string                      `json:"safety_alerts"`
	Notices                 []clinical.Notice             `json:"notices"`
}
