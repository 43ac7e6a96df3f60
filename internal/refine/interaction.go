package refine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/interaction"
)

type interactionResponse struct {
	HasInteraction bool       `json:"has_interaction"`
	Severity       string     `json:"severity"`
	Type           string     `json:"interaction_type"`
	Mechanism      string     `json:"mechanism"`
	Effect         string     `json:"clinical_effect"`
	Recommendation string     `json:"recommendation"`
	Monitoring     stringList `json:"monitoring"`
}

// SynthesizeInteraction asks the model whether an unlisted herb-drug pair
// interacts. A nil record means the model reported no interaction.
func (c *Client) SynthesizeInteraction(ctx context.Context, p interaction.Pair) (*interaction.Record, error) {
	text, err := c.generate(ctx, interactionPrompt(p))
	if err != nil {
		return nil, err
	}
	var out interactionResponse
	if err := decode(text, &out); err != nil {
		return nil, err
	}
	if !out.HasInteraction {
		return nil, nil
	}

	sev := clinical.InteractionSeverity(titleCase(out.Severity))
	if !sev.Valid() {
		return nil, fmt.Errorf("model returned unknown severity %q", out.Severity)
	}
	return &interaction.Record{
		Herb:           p.Herb,
		Drug:           p.Drug,
		Severity:       sev,
		Type:           out.Type,
		Mechanism:      out.Mechanism,
		Effect:         out.Effect,
		Recommendation: out.Recommendation,
		Monitoring:     out.Monitoring,
	}, nil
}

func interactionPrompt(p interaction.Pair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a clinical pharmacologist reviewing herb-drug interactions in older adults.\n\n")
	fmt.Fprintf(&b, "Herbal product: %s\n", p.Herb)
	if p.IntendedEffect != "" {
		fmt.Fprintf(&b, "Taken for: %s\n", p.IntendedEffect)
	}
	if len(p.HerbProfile) > 0 {
		effects := make([]string, 0, len(p.HerbProfile))
		for e, w := range p.HerbProfile {
			effects = append(effects, fmt.Sprintf("%s %.1f", e, w))
		}
		sort.Strings(effects)
		fmt.Fprintf(&b, "Known pharmacological profile: %s\n", strings.Join(effects, ", "))
	}
	fmt.Fprintf(&b, "Medication: %s", p.Drug)
	if len(p.DrugClasses) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(p.DrugClasses, ", "))
	}
	fmt.Fprintf(&b, "\n\nOnly report an interaction with a plausible pharmacological mechanism.\n")
	fmt.Fprintf(&b, "Return ONLY JSON of the form:\n")
	fmt.Fprintf(&b, `{"has_interaction":true,"severity":"Major|Moderate|Minor","interaction_type":"Pharmacodynamic|Pharmacokinetic",`+
		`"mechanism":"...","clinical_effect":"...","recommendation":"...","monitoring":["..."]}`)
	return b.String()
}

func titleCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
