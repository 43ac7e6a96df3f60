package matcher

import (
	"fmt"
	"sort"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

// Flag sources.
const (
	SourceStop        = "STOP"
	SourceACB         = "ACB"
	SourceTTB         = "TTB"
	SourceInteraction = "INTERACTION"
	SourceSex         = "SEX"
)

// Flag is one risk finding against a medication or herb.
type Flag struct {
	CriterionID string            `json:"criterion_id"`
	System      string            `json:"system,omitempty"`
	Severity    clinical.Severity `json:"severity"`
	Rationale   string            `json:"rationale"`
	Action      string            `json:"action,omitempty"`
	Source      string            `json:"source"`
	FallRisk    bool              `json:"fall_risk,omitempty"`
	Monitoring  []string          `json:"monitoring,omitempty"`
}

type StartRecommendation struct {
	CriterionID    string            `json:"criterion_id"`
	System         string            `json:"system"`
	DrugClasses    []string          `json:"drug_classes"`
	Criterion      string            `json:"criterion"`
	Indication     string            `json:"indication"`
	Recommendation string            `json:"recommendation"`
	Evidence       clinical.Evidence `json:"evidence"`
}

// Evaluation is the matcher's view of one substance.
type Evaluation struct {
	Resolution criteria.Resolution
	Flags      []Flag
}

type Matcher struct {
	repo *criteria.Repository
}

func New(repo *criteria.Repository) *Matcher {
	return &Matcher{repo: repo}
}

// Resolve maps a substance onto its classes. Herbs resolve through the herb
// table and carry no anticholinergic score.
func (m *Matcher) Resolve(s clinical.Substance) criteria.Resolution {
	if s.Type != clinical.SubstanceHerb {
		return m.repo.ResolveDrug(s.Name, s.Brand)
	}
	res := criteria.Resolution{Input: s.Name, Classes: []string{}}
	if h, ok := m.repo.ResolveHerb(s.Name); ok {
		res.Canonical = h.Name
		res.Classes = append(res.Classes, h.Classes...)
		res.Classified = true
		res.Match = criteria.MatchExact
	}
	return res
}

// MatchStop returns the STOP, anticholinergic and time-to-benefit flags for
// one substance, in table order. coClasses holds the classes of the other
// medications on the list.
func (m *Matcher) MatchStop(s clinical.Substance, patient clinical.PatientProfile, coClasses criteria.ClassSet) []Flag {
	return m.Evaluate(s, patient, coClasses).Flags
}

// Evaluate resolves s and matches it in one pass.
func (m *Matcher) Evaluate(s clinical.Substance, patient clinical.PatientProfile, coClasses criteria.ClassSet) Evaluation {
	res := m.Resolve(s)
	ctx := criteria.Context{
		Patient:   patient,
		Duration:  s.Duration,
		Frequency: s.Frequency,
		CoClasses: coClasses,
	}

	flags := []Flag{}
	for _, c := range m.repo.Stop() {
		if !appliesTo(c.DrugClasses, res.Classes) {
			continue
		}
		if !c.Condition.Eval(ctx) {
			continue
		}
		flags = append(flags, Flag{
			CriterionID: c.ID,
			System:      c.System,
			Severity:    c.Severity,
			Rationale:   c.Rationale,
			Action:      c.Action,
			Source:      SourceStop,
			FallRisk:    c.Condition.ReferencesFalls(),
			Monitoring:  c.Monitoring,
		})
	}

	if f, ok := anticholinergicFlag(res, patient); ok {
		flags = append(flags, f)
	}
	flags = append(flags, m.timeToBenefitFlags(res, patient)...)
	flags = append(flags, m.sexRiskFlags(res, patient)...)

	return Evaluation{Resolution: res, Flags: flags}
}

const acbAgeThreshold = 65

func anticholinergicFlag(res criteria.Resolution, patient clinical.PatientProfile) (Flag, bool) {
	switch {
	case res.ACB >= 3:
		return Flag{
			CriterionID: "ACB-3",
			System:      "Anticholinergic",
			Severity:    clinical.SeverityHigh,
			Rationale:   fmt.Sprintf("Strong anticholinergic activity (ACB score %d): risk of confusion, falls and constipation", res.ACB),
			Action:      "Consider a non-anticholinergic alternative",
			Source:      SourceACB,
			Monitoring:  []string{"Cognitive function", "Bowel habit"},
		}, true
	case res.ACB > 0 && patient.Age >= acbAgeThreshold:
		return Flag{
			CriterionID: fmt.Sprintf("ACB-%d", res.ACB),
			System:      "Anticholinergic",
			Severity:    clinical.SeverityModerate,
			Rationale:   fmt.Sprintf("Adds to anticholinergic burden (ACB score %d) in an older adult", res.ACB),
			Action:      "Review total anticholinergic burden",
			Source:      SourceACB,
			Monitoring:  []string{"Cognitive function"},
		}, true
	}
	return Flag{}, false
}

func (m *Matcher) timeToBenefitFlags(res criteria.Resolution, patient clinical.PatientProfile) []Flag {
	if !patient.LifeExpectancy.Valid() {
		return nil
	}
	months := patient.LifeExpectancy.Months()

	var flags []Flag
	for _, t := range m.repo.TimeToBenefitFor(res.Canonical, res.Classes) {
		if excluded(patient, t.ExcludeComorbidities) {
			continue
		}
		switch {
		case t.MonthsMin >= criteria.NoBenefit:
			flags = append(flags, Flag{
				CriterionID: "TTB-" + subject(t),
				System:      "Time to benefit",
				Severity:    clinical.SeverityHigh,
				Rationale:   fmt.Sprintf("No proven benefit for %s: %s", t.Indication, t.Guidance),
				Action:      "Consider discontinuing",
				Source:      SourceTTB,
			})
		case t.MonthsMin > months:
			flags = append(flags, Flag{
				CriterionID: "TTB-" + subject(t),
				System:      "Time to benefit",
				Severity:    clinical.SeverityModerate,
				Rationale: fmt.Sprintf("Time to benefit for %s (%d-%d months) exceeds life expectancy (%s)",
					t.Indication, t.MonthsMin, t.MonthsMax, patient.LifeExpectancy),
				Action: "Review against goals of care",
				Source: SourceTTB,
			})
		}
	}
	return flags
}

// sexRiskFlags reports drugs with a higher adverse-event risk in the
// patient's sex. Severity follows the record's level; under the default
// policy a High record lifts a flagless medication to YELLOW and a YELLOW one
// to RED.
func (m *Matcher) sexRiskFlags(res criteria.Resolution, patient clinical.PatientProfile) []Flag {
	if !res.Classified || patient.Gender == "" {
		return nil
	}
	var flags []Flag
	for _, x := range m.repo.SexRisksFor(res.Canonical, res.Classes, patient.Gender) {
		subject := x.Drug
		if subject == "" {
			subject = x.Class
		}
		flags = append(flags, Flag{
			CriterionID: "SEX-" + subject,
			System:      "Sex-specific risk",
			Severity:    x.Level,
			Rationale:   fmt.Sprintf("%s risk is higher in %s patients: %s", x.Category, x.Gender, x.Mechanism),
			Action:      "Use the lowest effective dose or an alternative",
			Source:      SourceSex,
			Monitoring:  x.Monitoring,
		})
	}
	return flags
}

// MatchStart returns omitted-therapy recommendations for the whole patient:
// a criterion fires when its predicate holds and none of its classes is
// already prescribed. Strong evidence sorts first; table order is kept
// within each evidence level.
func (m *Matcher) MatchStart(present criteria.ClassSet, patient clinical.PatientProfile) []StartRecommendation {
	ctx := criteria.Context{Patient: patient, CoClasses: present}

	recs := []StartRecommendation{}
	for _, c := range m.repo.Start() {
		if present.HasAny(c.DrugClasses) {
			continue
		}
		if !c.Condition.Eval(ctx) {
			continue
		}
		recs = append(recs, StartRecommendation{
			CriterionID:    c.ID,
			System:         c.System,
			DrugClasses:    c.DrugClasses,
			Criterion:      c.Criterion,
			Indication:     c.Indication,
			Recommendation: c.Recommendation,
			Evidence:       c.Evidence,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Evidence == clinical.EvidenceStrong && recs[j].Evidence != clinical.EvidenceStrong
	})
	return recs
}

// ClassesOf builds the class set of a medication list.
func (m *Matcher) ClassesOf(meds []clinical.MedicationEntry) criteria.ClassSet {
	set := criteria.ClassSet{}
	for _, med := range meds {
		for _, c := range m.Resolve(med.Substance()).Classes {
			set[c] = true
		}
	}
	return set
}

func appliesTo(criterionClasses, drugClasses []string) bool {
	for _, c := range criterionClasses {
		if c == criteria.AnyClass {
			return true
		}
		for _, d := range drugClasses {
			if c == d {
				return true
			}
		}
	}
	return false
}

func excluded(p clinical.PatientProfile, conds []string) bool {
	for _, c := range conds {
		if p.HasCondition(c) {
			return true
		}
	}
	return false
}

func subject(t criteria.TimeToBenefit) string {
	if t.Drug != "" {
		return t.Drug
	}
	return t.Class
}
