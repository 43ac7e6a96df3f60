package interaction

import (
	"context"
	"strings"

	"github.com/Skufu/deprescribe/internal/criteria"
)

// ProfileSynthesizer simulates interactions from pharmacological overlap:
// a herb effect above a rule threshold meeting a drug class the rule lists.
// It is deterministic and never fails.
type ProfileSynthesizer struct {
	rules []criteria.SimulationRule
	hints []criteria.EffectHint
}

func NewProfileSynthesizer(repo *criteria.Repository) *ProfileSynthesizer {
	return &ProfileSynthesizer{rules: repo.SimulationRules(), hints: repo.EffectHints()}
}

func (s *ProfileSynthesizer) SynthesizeInteraction(_ context.Context, p Pair) (*Record, error) {
	profile := p.HerbProfile
	if len(profile) == 0 {
		profile = s.InferProfile(p.IntendedEffect)
	}
	if len(profile) == 0 {
		return nil, nil
	}

	for _, rule := range s.rules {
		if profile[rule.Effect] < rule.Threshold {
			continue
		}
		if !intersects(rule.DrugClasses, p.DrugClasses) {
			continue
		}
		return &Record{
			Herb:           p.Herb,
			Drug:           p.Drug,
			Severity:       rule.Severity,
			Evidence:       EvidenceSimulated,
			Type:           rule.Type,
			Mechanism:      rule.Mechanism,
			Effect:         rule.ClinicalEffect,
			Recommendation: rule.Recommendation,
		}, nil
	}
	return nil, nil
}

// InferProfile derives effect weights from the words of an intended effect,
// keeping the highest weight per effect.
func (s *ProfileSynthesizer) InferProfile(intended string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(intended), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	if len(words) == 0 {
		return nil
	}
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	profile := map[string]float64{}
	for _, h := range s.hints {
		for _, k := range h.Keywords {
			if present[k] {
				if h.Weight > profile[h.Effect] {
					profile[h.Effect] = h.Weight
				}
				break
			}
		}
	}
	return profile
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
