package analysis

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/taper"
)

// TaperPlanRequest is the body of /get-taper-plan.
type TaperPlanRequest struct {
	DrugName      string   `json:"drug_name"`
	CurrentDose   string   `json:"current_dose"`
	Duration      string   `json:"duration_on_medication"`
	CFSScore      *int     `json:"patient_cfs_score,omitempty"`
	Age           int      `json:"patient_age"`
	IsFrail       bool     `json:"is_frail"`
	Comorbidities []string `json:"comorbidities"`
}

func (r TaperPlanRequest) Validate() error {
	v := &clinical.ValidationError{}
	if strings.TrimSpace(r.DrugName) == "" {
		v.Add("drug_name", "is required")
	}
	clinical.ValidateAge(v, "patient_age", r.Age)
	clinical.ValidateCFS(v, "patient_cfs_score", r.CFSScore)
	return v.Err()
}

// GetTaperPlan resolves the drug to its classes and generates a plan, with
// refinement when one is configured. Unknown drugs get the conservative
// unclassified profile.
func (s *Service) GetTaperPlan(ctx context.Context, req TaperPlanRequest) (taper.Plan, error) {
	if err := req.Validate(); err != nil {
		return taper.Plan{}, err
	}
	res := s.repo.ResolveDrug(req.DrugName, "")
	classes := res.Classes
	if !res.Classified {
		if h, ok := s.repo.ResolveHerb(req.DrugName); ok {
			classes = withHerbClass(h.Classes)
		}
	}

	plan := s.tapers.Generate(ctx, taper.Request{
		DrugName:    req.DrugName,
		Classes:     classes,
		CurrentDose: req.CurrentDose,
		Duration:    ParseDuration(req.Duration),
		Patient: taper.PatientContext{
			Age:           req.Age,
			CFSScore:      req.CFSScore,
			IsFrail:       req.IsFrail,
			Comorbidities: req.Comorbidities,
		},
	})
	s.logger.Info().
		Str("drug", req.DrugName).
		Str("class", plan.DrugClass).
		Str("provenance", string(plan.Provenance)).
		Int("weeks", plan.TotalDurationWeeks).
		Msg("taper plan generated")
	return plan, nil
}

var durationAmount = regexp.MustCompile(`(\d+)\s*(day|week|month|year)`)

// ParseDuration accepts the enum values and free text such as "2 weeks" or
// "3 years". Anything else is unknown.
func ParseDuration(s string) clinical.Duration {
	s = strings.ToLower(strings.TrimSpace(s))
	if d := clinical.Duration(s); d.Valid() {
		return d
	}
	switch {
	case strings.Contains(s, "short"):
		return clinical.DurationShortTerm
	case strings.Contains(s, "long"):
		return clinical.DurationLongTerm
	}
	m := durationAmount.FindStringSubmatch(s)
	if m == nil {
		return clinical.DurationUnknown
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "day":
		if n >= 28 {
			return clinical.DurationLongTerm
		}
		return clinical.DurationShortTerm
	case "week":
		if n >= 4 {
			return clinical.DurationLongTerm
		}
		return clinical.DurationShortTerm
	}
	return clinical.DurationLongTerm
}

// InteractionRequest is the body of /interaction-checker.
type InteractionRequest struct {
	Herbs         []string `json:"herbs"`
	Medications   []string `json:"medications"`
	Comorbidities []string `json:"patient_comorbidities"`
}

func (r InteractionRequest) Validate() error {
	v := &clinical.ValidationError{}
	if len(r.Herbs) == 0 {
		v.Add("herbs", "must list at least one herb")
	}
	if len(r.Medications) == 0 {
		v.Add("medications", "must list at least one medication")
	}
	for i, h := range r.Herbs {
		if strings.TrimSpace(h) == "" {
			v.Add("herbs["+strconv.Itoa(i)+"]", "is blank")
		}
	}
	for i, m := range r.Medications {
		if strings.TrimSpace(m) == "" {
			v.Add("medications["+strconv.Itoa(i)+"]", "is blank")
		}
	}
	return v.Err()
}

type InteractionReport struct {
	interaction.Summary
	Interactions []interaction.Record `json:"interactions"`
	Notices      []clinical.Notice    `json:"notices"`
}

// CheckInteractions runs the checker over bare names. Comorbidities add a
// recommendation when an interaction's effect concerns one of them.
func (s *Service) CheckInteractions(ctx context.Context, req InteractionRequest) (InteractionReport, error) {
	if err := req.Validate(); err != nil {
		return InteractionReport{}, err
	}
	res := s.checker.CheckNames(ctx, req.Herbs, req.Medications)
	rep := InteractionReport{
		Summary:      interaction.Summarize(res.Interactions),
		Interactions: res.Interactions,
		Notices:      res.Notices,
	}

	for _, r := range res.Interactions {
		for _, c := range req.Comorbidities {
			if concerns(r, c) {
				rep.Recommendations = append(rep.Recommendations,
					r.Herb+" + "+r.Drug+": effect is relevant to existing "+strings.ToLower(c))
				break
			}
		}
	}
	return rep, nil
}

// concerns reports whether any word of the comorbidity longer than three
// letters appears in the interaction's effect or mechanism.
func concerns(r interaction.Record, comorbidity string) bool {
	text := strings.ToLower(r.Effect + " " + r.Mechanism)
	for _, w := range strings.Fields(strings.ToLower(comorbidity)) {
		if len(w) > 3 && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

type DrugInfo struct {
	Name    string   `json:"name"`
	Classes []string `json:"classes"`
	Brands  []string `json:"brands"`
}

type HerbInfo struct {
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases"`
	Concerns []string `json:"concerns"`
}

type Catalog struct {
	Drugs   []DrugInfo     `json:"drugs"`
	Herbs   []HerbInfo     `json:"herbs"`
	Classes []string       `json:"drug_classes"`
	Stats   criteria.Stats `json:"criteria"`
}

func (s *Service) SupportedDrugs() Catalog {
	c := Catalog{
		Drugs:   make([]DrugInfo, 0, len(s.repo.Drugs())),
		Herbs:   make([]HerbInfo, 0, len(s.repo.Herbs())),
		Classes: s.repo.Classes(),
		Stats:   s.repo.Stats(),
	}
	for _, d := range s.repo.Drugs() {
		c.Drugs = append(c.Drugs, DrugInfo{Name: d.Name, Classes: nonNil(d.Classes), Brands: nonNil(d.Brands)})
	}
	for _, h := range s.repo.Herbs() {
		c.Herbs = append(c.Herbs, HerbInfo{Name: h.Name, Aliases: nonNil(h.Aliases), Concerns: nonNil(h.Concerns)})
	}
	return c
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
