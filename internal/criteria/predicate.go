package criteria

import (
	"strings"

	"github.com/Skufu/deprescribe/internal/clinical"
)

// Predicate is a conjunction of optional checks. Zero-valued fields are
// skipped, so the empty predicate always holds.
type Predicate struct {
	ComorbiditiesAny  []string                `yaml:"comorbidities_any" json:"comorbidities_any,omitempty"`
	ComorbiditiesAll  []string                `yaml:"comorbidities_all" json:"comorbidities_all,omitempty"`
	MinAge            int                     `yaml:"min_age" json:"min_age,omitempty"`
	MaxAge            int                     `yaml:"max_age" json:"max_age,omitempty"`
	RequiresFrailty   bool                    `yaml:"requires_frailty" json:"requires_frailty,omitempty"`
	MinCFS            int                     `yaml:"min_cfs" json:"min_cfs,omitempty"`
	MinDuration       clinical.Duration       `yaml:"min_duration" json:"min_duration,omitempty"`
	FallHistory       bool                    `yaml:"fall_history" json:"fall_history,omitempty"`
	Gender            clinical.Gender         `yaml:"gender" json:"gender,omitempty"`
	FrequencyAny      []string                `yaml:"frequency_any" json:"frequency_any,omitempty"`
	MaxLifeExpectancy clinical.LifeExpectancy `yaml:"max_life_expectancy" json:"max_life_expectancy,omitempty"`
	WithClassesAny    []string                `yaml:"with_classes_any" json:"with_classes_any,omitempty"`
	WithoutClasses    []string                `yaml:"without_classes" json:"without_classes,omitempty"`
}

// ClassSet holds the drug classes present among co-prescribed medications.
type ClassSet map[string]bool

func (s ClassSet) HasAny(classes []string) bool {
	for _, c := range classes {
		if s[c] {
			return true
		}
	}
	return false
}

// Context is what a predicate is evaluated against: the patient plus, for
// STOP criteria, the medication under review.
type Context struct {
	Patient   clinical.PatientProfile
	Duration  clinical.Duration
	Frequency string
	// CoClasses are the classes of the other medications on the list.
	CoClasses ClassSet
}

// Eval reports whether every set sub-check holds.
func (p Predicate) Eval(c Context) bool {
	pt := c.Patient

	if len(p.ComorbiditiesAny) > 0 && !anyCondition(pt, p.ComorbiditiesAny) {
		return false
	}
	for _, cond := range p.ComorbiditiesAll {
		if !pt.HasCondition(cond) {
			return false
		}
	}
	if p.MinAge > 0 && pt.Age < p.MinAge {
		return false
	}
	if p.MaxAge > 0 && pt.Age > p.MaxAge {
		return false
	}
	if p.RequiresFrailty && !pt.IsFrail {
		return false
	}
	if p.MinCFS > 0 && (pt.CFSScore == nil || *pt.CFSScore < p.MinCFS) {
		return false
	}
	if p.MinDuration != "" && !c.Duration.AtLeast(p.MinDuration) {
		return false
	}
	if p.FallHistory && !pt.HasFallHistory() {
		return false
	}
	if p.Gender != "" && pt.Gender != p.Gender {
		return false
	}
	if len(p.FrequencyAny) > 0 && !frequencyMatches(c.Frequency, p.FrequencyAny) {
		return false
	}
	if p.MaxLifeExpectancy != "" {
		rank := pt.LifeExpectancy.Rank()
		if rank == 0 || rank > p.MaxLifeExpectancy.Rank() {
			return false
		}
	}
	if len(p.WithClassesAny) > 0 && !c.CoClasses.HasAny(p.WithClassesAny) {
		return false
	}
	if len(p.WithoutClasses) > 0 && c.CoClasses.HasAny(p.WithoutClasses) {
		return false
	}
	return true
}

// ReferencesFalls reports whether the predicate is about fall risk, either
// directly or through a falls comorbidity.
func (p Predicate) ReferencesFalls() bool {
	if p.FallHistory {
		return true
	}
	for _, c := range append(append([]string{}, p.ComorbiditiesAny...), p.ComorbiditiesAll...) {
		if clinical.ConditionMatches(c, "fall") {
			return true
		}
	}
	return false
}

func anyCondition(p clinical.PatientProfile, conds []string) bool {
	for _, c := range conds {
		if p.HasCondition(c) {
			return true
		}
	}
	return false
}

func frequencyMatches(freq string, tokens []string) bool {
	freq = clinical.NormalizeTerm(freq)
	if freq == "" {
		return false
	}
	words := strings.FieldsFunc(freq, func(r rune) bool {
		return r == ' ' || r == '-' || r == ',' || r == '/'
	})
	for _, t := range tokens {
		t = clinical.NormalizeTerm(t)
		if strings.Contains(t, " ") {
			if strings.Contains(freq, t) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == t {
				return true
			}
		}
	}
	return false
}
