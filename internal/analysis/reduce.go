package analysis

import (
	"fmt"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/matcher"
)

const (
	highACBTotal      = 3
	polypharmacyRed   = 3
	severeCFS         = 6
	vigilanceAge      = 80
	reviewPlanWeeks   = 12
	reviewPlanCadence = "Monthly"
)

// orderedSet keeps first-seen order and drops repeats and blanks.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}, items: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if v == "" || s.seen[v] {
			continue
		}
		s.seen[v] = true
		s.items = append(s.items, v)
	}
}

func recommendationsFor(flags []matcher.Flag, category clinical.RiskCategory, taperRequired bool) []string {
	recs := newOrderedSet()
	for _, f := range flags {
		recs.add(f.Action)
	}
	switch category {
	case clinical.RiskRed:
		recs.add("High priority: review for deprescribing at the next opportunity")
	case clinical.RiskYellow:
		recs.add("Clinical review recommended")
	default:
		recs.add("Continue with routine monitoring")
	}
	if taperRequired {
		recs.add("Taper gradually; do not stop abruptly")
	}
	return recs.items
}

func monitoringFor(flags []matcher.Flag) []string {
	m := newOrderedSet()
	for _, f := range flags {
		m.add(f.Monitoring...)
	}
	if len(m.items) == 0 {
		m.add("Routine clinical assessment")
	}
	return m.items
}

func summarizePatient(in clinical.PatientInput, acb int) PatientSummary {
	status := "Not frail"
	if in.IsFrail {
		status = "Frail"
	}
	comorbidities := in.Comorbidities
	if comorbidities == nil {
		comorbidities = []string{}
	}
	return PatientSummary{
		Age:                   in.Age,
		Gender:                in.Gender,
		CFSScore:              in.CFSScore,
		FrailtyStatus:         status,
		LifeExpectancy:        in.LifeExpectancy,
		FallHistory:           in.HasFallHistory(),
		TotalMedications:      len(in.Medications),
		TotalHerbs:            len(in.Herbs),
		AnticholinergicBurden: acb,
		Comorbidities:         comorbidities,
	}
}

// monitoringPlans covers every tapered substance with its taper cadence and
// every other RED or YELLOW substance with a monthly review.
func monitoringPlans(outcomes []substanceOutcome) []MonitoringPlan {
	plans := []MonitoringPlan{}
	for _, o := range outcomes {
		a := o.analysis
		switch {
		case a.TaperRequired:
			freq := o.frequency
			if freq == "" {
				freq = "Every 2 weeks"
			}
			alerts := newOrderedSet()
			alerts.add(o.pause...)
			alerts.add(a.Flags...)
			plans = append(plans, MonitoringPlan{
				MedicationName: a.Name,
				Frequency:      freq,
				Parameters:     a.MonitoringRequired,
				DurationWeeks:  a.TaperDurationWeeks,
				AlertCriteria:  alerts.items,
			})
		case a.RiskCategory == clinical.RiskRed || a.RiskCategory == clinical.RiskYellow:
			plans = append(plans, MonitoringPlan{
				MedicationName: a.Name,
				Frequency:      reviewPlanCadence,
				Parameters:     a.MonitoringRequired,
				DurationWeeks:  reviewPlanWeeks,
				AlertCriteria:  a.Flags,
			})
		}
	}
	return plans
}

func safetyAlerts(outcomes []substanceOutcome, records []interaction.Record, acb int) []string {
	alerts := newOrderedSet()
	red := 0
	for _, o := range outcomes {
		if o.analysis.RiskCategory != clinical.RiskRed {
			continue
		}
		red++
		if o.fallRisk {
			alerts.add(fmt.Sprintf("FALL RISK: %s is high priority and linked to falls in this patient", o.analysis.Name))
		}
	}
	for _, r := range records {
		if r.Severity == clinical.InteractionMajor {
			alerts.add(fmt.Sprintf("MAJOR INTERACTION: %s + %s - %s (%s)", r.Herb, r.Drug, r.Effect, r.Evidence))
		}
	}
	if acb >= highACBTotal {
		alerts.add(fmt.Sprintf("ANTICHOLINERGIC BURDEN: total ACB score %d - risk of confusion and falls", acb))
	}
	if red >= polypharmacyRed {
		alerts.add(fmt.Sprintf("POLYPHARMACY RISK: %d high-risk medications - comprehensive medication review recommended", red))
	}
	return alerts.items
}

func clinicalRecommendations(outcomes []substanceOutcome, records []interaction.Record, patient clinical.PatientProfile, ps PrioritySummary) []string {
	recs := newOrderedSet()
	if ps.Red > 0 {
		recs.add(fmt.Sprintf("URGENT: %d medication(s) flagged as high priority for deprescribing review", ps.Red))
	}
	if ps.Yellow > 0 {
		recs.add(fmt.Sprintf("%d medication(s) require clinical review and monitoring", ps.Yellow))
	}
	if patient.EffectiveCFS() >= severeCFS {
		recs.add("Patient is severely frail (CFS 6 or above): make one medication change at a time")
	}
	major := 0
	for _, r := range records {
		if r.Severity == clinical.InteractionMajor {
			major++
		}
	}
	if major > 0 {
		recs.add(fmt.Sprintf("ALERT: %d major herb-drug interaction(s) identified - immediate review required", major))
	}
	if patient.Age >= vigilanceAge {
		recs.add("Patient is 80 or older: enhanced pharmacovigilance recommended")
	}
	for _, o := range outcomes {
		if o.analysis.RiskCategory == clinical.RiskGreen {
			continue
		}
		for _, r := range o.analysis.Recommendations {
			recs.add(o.analysis.Name + ": " + r)
		}
	}
	return recs.items
}
