package refine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Skufu/deprescribe/internal/taper"
)

type taperStep struct {
	Week                 flexInt    `json:"week"`
	Dose                 string     `json:"dose"`
	PercentageOfOriginal flexInt    `json:"percentage_of_original"`
	Instructions         string     `json:"instructions"`
	Monitoring           string     `json:"monitoring"`
	WithdrawalSymptoms   stringList `json:"withdrawal_symptoms_to_watch"`
}

type taperResponse struct {
	Steps             []taperStep         `json:"taper_steps"`
	PatientEducation  stringList          `json:"patient_education"`
	PauseCriteria     stringList          `json:"pause_criteria"`
	ReversalCriteria  stringList          `json:"reversal_criteria"`
	SuccessIndicators stringList          `json:"success_indicators"`
	Monitoring        map[string][]string `json:"monitoring_schedule"`
}

// RefineTaperPlan asks the model to personalise the rule-based baseline. The
// result is not validated here; the generator does that.
func (c *Client) RefineTaperPlan(ctx context.Context, req taper.RefineRequest) (*taper.Plan, error) {
	text, err := c.generate(ctx, taperPrompt(req))
	if err != nil {
		return nil, err
	}
	var out taperResponse
	if err := decode(text, &out); err != nil {
		return nil, err
	}
	if len(out.Steps) == 0 {
		return nil, fmt.Errorf("model returned no taper steps")
	}

	plan := &taper.Plan{
		Steps:              make([]taper.Step, 0, len(out.Steps)),
		PatientEducation:   out.PatientEducation,
		PauseCriteria:      out.PauseCriteria,
		ReversalCriteria:   out.ReversalCriteria,
		SuccessIndicators:  out.SuccessIndicators,
		MonitoringSchedule: out.Monitoring,
	}
	for _, s := range out.Steps {
		plan.Steps = append(plan.Steps, taper.Step{
			Week:                 int(s.Week),
			Dose:                 s.Dose,
			PercentageOfOriginal: int(s.PercentageOfOriginal),
			Instructions:         s.Instructions,
			Monitoring:           s.Monitoring,
			WithdrawalSymptoms:   s.WithdrawalSymptoms,
		})
	}
	return plan, nil
}

func taperPrompt(req taper.RefineRequest) string {
	r := req.Request
	base := req.Baseline

	cfs := "not recorded"
	if r.Patient.CFSScore != nil {
		cfs = fmt.Sprintf("%d/9", *r.Patient.CFSScore)
	}
	comorbidities := "none recorded"
	if len(r.Patient.Comorbidities) > 0 {
		comorbidities = strings.Join(r.Patient.Comorbidities, ", ")
	}
	dose := r.CurrentDose
	if dose == "" {
		dose = "not specified"
	}

	var steps strings.Builder
	for _, s := range base.Steps {
		fmt.Fprintf(&steps, "- week %d: %d%% (%s)\n", s.Week, s.PercentageOfOriginal, s.Dose)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a clinical pharmacist specialising in deprescribing in older adults.\n")
	fmt.Fprintf(&b, "Personalise the following tapering schedule for this patient.\n\n")
	fmt.Fprintf(&b, "Patient: age %d, Clinical Frailty Scale %s, frail: %t\n", r.Patient.Age, cfs, r.Patient.IsFrail)
	fmt.Fprintf(&b, "Comorbidities: %s\n", comorbidities)
	fmt.Fprintf(&b, "Medication: %s (%s), current dose %s, duration %s\n", r.DrugName, base.DrugClass, dose, r.Duration)
	fmt.Fprintf(&b, "Strategy: %s\n", base.TaperStrategy)
	fmt.Fprintf(&b, "Known withdrawal risk: %s\n\n", base.RiskProfile)
	fmt.Fprintf(&b, "Rule-based schedule (%d weeks):\n%s\n", base.TotalDurationWeeks, steps.String())
	fmt.Fprintf(&b, "Rules:\n")
	fmt.Fprintf(&b, "1. \"week\" is a single integer, never a range; the first step is week 1 and weeks strictly increase.\n")
	fmt.Fprintf(&b, "2. percentage_of_original never increases from one step to the next.\n")
	if base.FloorPercent > 0 {
		fmt.Fprintf(&b, "3. The final step holds at the %d%% maintenance dose.\n", base.FloorPercent)
	} else {
		fmt.Fprintf(&b, "3. The final step is complete discontinuation (percentage 0, dose \"STOP\").\n")
	}
	fmt.Fprintf(&b, "4. Do not taper faster than the rule-based schedule.\n")
	fmt.Fprintf(&b, "5. Instructions use plain, non-medical language.\n\n")
	fmt.Fprintf(&b, "Return ONLY JSON of the form:\n")
	fmt.Fprintf(&b, `{"taper_steps":[{"week":1,"dose":"...","percentage_of_original":75,"instructions":"...","monitoring":"...","withdrawal_symptoms_to_watch":["..."]}],`+
		`"patient_education":["..."],"pause_criteria":["..."],"reversal_criteria":["..."],"success_indicators":["..."],`+
		`"monitoring_schedule":{"Week 1-2":["..."]}}`)
	return b.String()
}
