package taper

import (
	"errors"
	"fmt"

	"github.com/Skufu/deprescribe/internal/clinical"
)

// Provenance records how a plan was produced.
type Provenance string

const (
	ProvenanceRuleBased Provenance = "rule_based"
	ProvenanceAugmented Provenance = "augmented"
)

type Step struct {
	Week                 int      `json:"week"`
	Dose                 string   `json:"dose"`
	PercentageOfOriginal int      `json:"percentage_of_original"`
	Instructions         string   `json:"instructions"`
	Monitoring           string   `json:"monitoring"`
	WithdrawalSymptoms   []string `json:"withdrawal_symptoms_to_watch"`
}

type Plan struct {
	DrugName           string              `json:"drug_name"`
	DrugClass          string              `json:"drug_class"`
	RiskProfile        string              `json:"risk_profile"`
	TaperStrategy      string              `json:"taper_strategy"`
	TotalDurationWeeks int                 `json:"total_duration_weeks"`
	FloorPercent       int                 `json:"floor_percent"`
	Steps              []Step              `json:"steps"`
	SuccessIndicators  []string            `json:"success_indicators"`
	PauseCriteria      []string            `json:"pause_criteria"`
	ReversalCriteria   []string            `json:"reversal_criteria"`
	MonitoringSchedule map[string][]string `json:"monitoring_schedule"`
	PatientEducation   []string            `json:"patient_education"`
	Provenance         Provenance          `json:"provenance"`
	FallbackReason     string              `json:"fallback_reason,omitempty"`
}

// PatientContext is the part of the patient that shapes a taper.
type PatientContext struct {
	Age           int      `json:"age"`
	CFSScore      *int     `json:"cfs_score,omitempty"`
	IsFrail       bool     `json:"is_frail"`
	Comorbidities []string `json:"comorbidities"`
}

// EffectiveCFS mirrors clinical.PatientProfile.EffectiveCFS.
func (c PatientContext) EffectiveCFS() int {
	return clinical.PatientProfile{CFSScore: c.CFSScore, IsFrail: c.IsFrail}.EffectiveCFS()
}

// Request is everything the generator needs for one plan.
type Request struct {
	DrugName    string
	Classes     []string
	CurrentDose string
	Duration    clinical.Duration
	Patient     PatientContext
}

var errNoSteps = errors.New("plan has no steps")

// percentAt is the share of the original dose the plan prescribes during
// week w.
func (p Plan) percentAt(week int) int {
	pct := 100
	for _, s := range p.Steps {
		if s.Week > week {
			break
		}
		pct = s.PercentageOfOriginal
	}
	return pct
}

// Validate checks the structural invariants every plan must satisfy, whether
// generated locally or returned by a refiner.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return errNoSteps
	}
	prevWeek, prevPct := 0, 100
	for i, s := range p.Steps {
		if s.Week <= prevWeek {
			return fmt.Errorf("step %d: week %d does not follow week %d", i+1, s.Week, prevWeek)
		}
		if s.PercentageOfOriginal < 0 || s.PercentageOfOriginal > 100 {
			return fmt.Errorf("step %d: percentage %d outside 0-100", i+1, s.PercentageOfOriginal)
		}
		if s.PercentageOfOriginal > prevPct {
			return fmt.Errorf("step %d: percentage rises from %d to %d", i+1, prevPct, s.PercentageOfOriginal)
		}
		prevWeek, prevPct = s.Week, s.PercentageOfOriginal
	}
	if p.Steps[0].Week != 1 {
		return fmt.Errorf("first step is at week %d, want 1", p.Steps[0].Week)
	}
	last := p.Steps[len(p.Steps)-1]
	if last.PercentageOfOriginal > 10 && last.PercentageOfOriginal != p.FloorPercent {
		return fmt.Errorf("final step at %d%% is neither discontinuation nor the %d%% maintenance floor",
			last.PercentageOfOriginal, p.FloorPercent)
	}
	if p.TotalDurationWeeks != last.Week {
		return fmt.Errorf("total duration %d weeks does not match final step week %d", p.TotalDurationWeeks, last.Week)
	}
	return nil
}
