package risk

import (
	"errors"
	"fmt"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/matcher"
)

const (
	minScore = 0
	maxScore = 10
)

// WithdrawalRule marks a class whose YELLOW medications still need a taper.
// LongTermOnly limits the rule to long-term use.
type WithdrawalRule struct {
	Class        string `mapstructure:"class" json:"class"`
	LongTermOnly bool   `mapstructure:"long_term_only" json:"long_term_only"`
}

// Policy holds every scoring constant. Thresholds are read only through
// CategoryFor.
type Policy struct {
	HighWeight      int
	ModerateWeight  int
	FrailtyBonus    int
	SevereCFSBonus  int
	SevereCFS       int
	AgeBonus        int
	AgeThreshold    int
	RedThreshold    int
	YellowThreshold int
	HighWithdrawal  []WithdrawalRule
}

func DefaultPolicy() Policy {
	return Policy{
		HighWeight:      4,
		ModerateWeight:  2,
		FrailtyBonus:    1,
		SevereCFSBonus:  1,
		SevereCFS:       6,
		AgeBonus:        1,
		AgeThreshold:    85,
		RedThreshold:    7,
		YellowThreshold: 4,
		HighWithdrawal: []WithdrawalRule{
			{Class: "benzodiazepine"},
			{Class: "z-drug"},
			{Class: "opioid"},
			{Class: "anticholinergic"},
			{Class: "antipsychotic"},
			{Class: "tricyclic antidepressant"},
			{Class: "ppi", LongTermOnly: true},
		},
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.ModerateWeight <= 0 {
		errs = append(errs, errors.New("moderate weight must be positive"))
	}
	if p.HighWeight <= p.ModerateWeight {
		errs = append(errs, fmt.Errorf("high weight %d must exceed moderate weight %d", p.HighWeight, p.ModerateWeight))
	}
	if p.FrailtyBonus < 0 || p.SevereCFSBonus < 0 || p.AgeBonus < 0 {
		errs = append(errs, errors.New("modifier bonuses must not be negative"))
	}
	if p.YellowThreshold <= minScore || p.RedThreshold <= p.YellowThreshold || p.RedThreshold > maxScore {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < yellow (%d) < red (%d) <= %d", p.YellowThreshold, p.RedThreshold, maxScore))
	}
	return errors.Join(errs...)
}

type Scorer struct {
	policy Policy
}

func NewScorer(p Policy) *Scorer {
	return &Scorer{policy: p}
}

func (s *Scorer) Policy() Policy { return s.policy }

// Score sums flag weights and, when at least one flag exists, adds the
// frailty, CFS and age modifiers once. A substance with no flags scores 0.
func (s *Scorer) Score(flags []matcher.Flag, patient clinical.PatientProfile) (int, clinical.RiskCategory) {
	if len(flags) == 0 {
		return 0, clinical.RiskGreen
	}

	score := 0
	for _, f := range flags {
		score += s.weight(f.Severity)
	}
	if patient.IsFrail {
		score += s.policy.FrailtyBonus
	}
	if patient.CFSScore != nil && *patient.CFSScore >= s.policy.SevereCFS {
		score += s.policy.SevereCFSBonus
	}
	if patient.Age >= s.policy.AgeThreshold {
		score += s.policy.AgeBonus
	}

	score = clamp(score)
	return score, s.CategoryFor(score)
}

func (s *Scorer) CategoryFor(score int) clinical.RiskCategory {
	switch {
	case score >= s.policy.RedThreshold:
		return clinical.RiskRed
	case score >= s.policy.YellowThreshold:
		return clinical.RiskYellow
	default:
		return clinical.RiskGreen
	}
}

// TaperRequired is true for RED, and for YELLOW when any class is in the
// high-withdrawal set.
func (s *Scorer) TaperRequired(category clinical.RiskCategory, classes []string, duration clinical.Duration) bool {
	switch category {
	case clinical.RiskRed:
		return true
	case clinical.RiskYellow:
		for _, rule := range s.policy.HighWithdrawal {
			if rule.LongTermOnly && duration != clinical.DurationLongTerm {
				continue
			}
			for _, c := range classes {
				if c == rule.Class {
					return true
				}
			}
		}
	}
	return false
}

func (s *Scorer) weight(sev clinical.Severity) int {
	switch sev {
	case clinical.SeverityHigh:
		return s.policy.HighWeight
	case clinical.SeverityModerate:
		return s.policy.ModerateWeight
	}
	return 0
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// InteractionFlag escalates a herb-drug interaction into a flag on both
// substances. Minor interactions do not escalate.
func InteractionFlag(sev clinical.InteractionSeverity, id, rationale string) (matcher.Flag, bool) {
	var s clinical.Severity
	switch sev {
	case clinical.InteractionMajor:
		s = clinical.SeverityHigh
	case clinical.InteractionModerate:
		s = clinical.SeverityModerate
	default:
		return matcher.Flag{}, false
	}
	return matcher.Flag{
		CriterionID: id,
		System:      "Herb-drug interaction",
		Severity:    s,
		Rationale:   rationale,
		Source:      matcher.SourceInteraction,
	}, true
}
