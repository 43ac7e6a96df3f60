package taper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

const maxSteps = 24

// ErrDependencyTimeout is returned by refinement when the refiner does not
// answer within the generator timeout.
var ErrDependencyTimeout = errors.New("dependency timeout")

// Refiner personalises a rule-based plan. Implementations may take as long as
// they like; the generator bounds every call.
type Refiner interface {
	RefineTaperPlan(ctx context.Context, req RefineRequest) (*Plan, error)
}

type RefineRequest struct {
	Request  Request
	Profile  criteria.TaperProfile
	Baseline Plan
}

// fallbackProfile is used when the dataset has no unclassified profile.
var fallbackProfile = criteria.TaperProfile{
	Class:               criteria.UnclassifiedProfile,
	Mode:                criteria.TaperLinear,
	StepPercent:         25,
	MinStepPercent:      10,
	CadenceWeeks:        2,
	RiskProfile:         "Unknown withdrawal risk",
	Strategy:            "Conservative stepwise reduction",
	Monitoring:          "Review for return of symptoms",
	MonitoringFrequency: "Every 2 weeks",
}

type Generator struct {
	repo    *criteria.Repository
	refiner Refiner
	timeout time.Duration
	logger  zerolog.Logger
}

type Option func(*Generator)

func WithRefiner(r Refiner) Option {
	return func(g *Generator) { g.refiner = r }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

func NewGenerator(repo *criteria.Repository, opts ...Option) *Generator {
	g := &Generator{
		repo:    repo,
		timeout: 10 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a refined plan when a refiner is configured and answers
// in time with a valid plan. Otherwise it returns the rule-based plan, with
// FallbackReason set if refinement was attempted.
func (g *Generator) Generate(ctx context.Context, req Request) Plan {
	baseline, profile := g.build(req)
	if g.refiner == nil {
		return baseline
	}

	refined, err := g.refine(ctx, RefineRequest{Request: req, Profile: profile, Baseline: baseline})
	if err != nil {
		g.logger.Warn().Err(err).
			Str("drug", req.DrugName).
			Str("class", baseline.DrugClass).
			Msg("taper refinement unavailable, using rule-based plan")
		baseline.FallbackReason = fallbackReason(err)
		return baseline
	}
	return refined
}

// Deterministic returns the rule-based plan only. Equal requests give equal
// plans.
func (g *Generator) Deterministic(req Request) Plan {
	p, _ := g.build(req)
	return p
}

func (g *Generator) profileFor(classes []string) criteria.TaperProfile {
	if g.repo != nil {
		if p, ok := g.repo.TaperProfileFor(classes); ok {
			return p
		}
	}
	return fallbackProfile
}

func (g *Generator) build(req Request) (Plan, criteria.TaperProfile) {
	profile := g.profileFor(req.Classes)
	slow := Pace(req.Patient)

	base := profile.CadenceWeeks
	if req.Duration == clinical.DurationShortTerm {
		base /= 2
	}
	if base < 1 {
		base = 1
	}
	cadence := int(math.Ceil(float64(base) * slow))

	step := int(math.Round(float64(profile.StepPercent) / slow))
	if step < profile.MinStepPercent {
		step = profile.MinStepPercent
	}
	if step > profile.StepPercent {
		step = profile.StepPercent
	}
	if step < 1 {
		step = 1
	}

	pcts := schedule(profile.Mode, step, profile.FloorPercent)
	d := parseDose(req.CurrentDose)
	drug := req.DrugName
	if drug == "" {
		drug = "the medication"
	}

	steps := make([]Step, 0, len(pcts))
	prev := 100
	for i, pct := range pcts {
		last := i == len(pcts)-1
		s := Step{
			Week:                 1 + i*cadence,
			Dose:                 d.at(pct),
			PercentageOfOriginal: pct,
			Monitoring:           stepMonitoring(profile, i, last),
			WithdrawalSymptoms:   watchFor(profile.Withdrawal, prev, pct),
		}
		switch {
		case last && pct == 0:
			s.Instructions = fmt.Sprintf("Stop %s. Continue to watch for withdrawal or return of symptoms for at least 2 weeks", drug)
		case last:
			s.Instructions = fmt.Sprintf("Hold %s at the maintenance dose (%d%% of original) and review whether further reduction is appropriate", drug, pct)
		default:
			s.Instructions = fmt.Sprintf("Reduce %s to %d%% of the original dose and hold for %d week(s) before the next reduction", drug, pct, cadence)
		}
		steps = append(steps, s)
		prev = pct
	}

	plan := Plan{
		DrugName:           req.DrugName,
		DrugClass:          profile.Class,
		RiskProfile:        profile.RiskProfile,
		TaperStrategy:      profile.Strategy,
		FloorPercent:       profile.FloorPercent,
		Steps:              steps,
		SuccessIndicators:  clone(profile.SuccessIndicators),
		PauseCriteria:      clone(profile.PauseCriteria),
		ReversalCriteria:   clone(profile.ReversalCriteria),
		MonitoringSchedule: monitoringSchedule(profile, slow),
		PatientEducation:   append(clone(profile.PatientEducation), "Keep every scheduled review appointment"),
		Provenance:         ProvenanceRuleBased,
	}
	plan.TotalDurationWeeks = steps[len(steps)-1].Week
	if slow > 1 {
		plan.TaperStrategy += fmt.Sprintf(" (paced %.2fx for frailty and age)", slow)
	}
	return plan, profile
}

// schedule lists the percentage of the original dose at each step, ending
// at floor. The first step is always a reduction.
func schedule(mode criteria.TaperMode, step, floor int) []int {
	var out []int
	pct := 100
	for len(out) < maxSteps-1 {
		var next int
		if mode == criteria.TaperProportional {
			if pct <= 10 {
				break
			}
			cut := int(math.Round(float64(pct*step) / 100))
			if cut < 2 {
				cut = 2
			}
			next = pct - cut
		} else {
			next = pct - step
		}
		if next <= floor {
			break
		}
		out = append(out, next)
		pct = next
	}
	return append(out, floor)
}

func watchFor(w criteria.WithdrawalSymptoms, prev, pct int) []string {
	if prev <= 0 {
		return clone(w.Mild)
	}
	rel := float64(prev-pct) / float64(prev)
	switch {
	case rel >= 0.5:
		return clone(w.Large)
	case rel >= 0.25:
		return clone(w.Moderate)
	default:
		return clone(w.Mild)
	}
}

func stepMonitoring(p criteria.TaperProfile, i int, last bool) string {
	switch {
	case i == 0:
		return "Baseline review: " + p.Monitoring
	case last:
		return "Final review: " + p.Monitoring
	case p.MonitoringFrequency != "":
		return p.MonitoringFrequency + ": " + p.Monitoring
	}
	return p.Monitoring
}

func monitoringSchedule(p criteria.TaperProfile, slow float64) map[string][]string {
	ongoing := []string{p.Monitoring}
	if p.MonitoringFrequency != "" {
		ongoing = []string{p.MonitoringFrequency + ": " + p.Monitoring}
	}
	if slow > 1 {
		ongoing = append(ongoing, "Falls and cognition check at each contact")
	}
	m := map[string][]string{
		"Week 1-2": {"Contact within one week of the first reduction", p.Monitoring},
		"Week 3-4": {"Review withdrawal symptoms and adherence to the schedule"},
		"Ongoing":  ongoing,
	}
	if p.FloorPercent > 0 {
		m["Maintenance"] = []string{"Review the maintenance dose every 3 months"}
	} else {
		m["Post-discontinuation"] = []string{"Review 4 weeks after stopping", "Watch for return of the original condition"}
	}
	return m
}

func (g *Generator) refine(ctx context.Context, req RefineRequest) (Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type out struct {
		plan *Plan
		err  error
	}
	ch := make(chan out, 1)
	go func() {
		p, err := g.refiner.RefineTaperPlan(ctx, req)
		ch <- out{p, err}
	}()

	var o out
	select {
	case o = <-ch:
	case <-ctx.Done():
		return Plan{}, fmt.Errorf("%w: %v", ErrDependencyTimeout, ctx.Err())
	}
	if o.err != nil {
		if errors.Is(o.err, context.DeadlineExceeded) {
			return Plan{}, fmt.Errorf("%w: %v", ErrDependencyTimeout, o.err)
		}
		return Plan{}, o.err
	}
	if o.plan == nil {
		return Plan{}, errors.New("refiner returned no plan")
	}

	p := merge(*o.plan, req.Baseline)
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("refined plan rejected: %w", err)
	}
	if err := notFasterThan(p, req.Baseline); err != nil {
		return Plan{}, fmt.Errorf("refined plan rejected: %w", err)
	}
	return p, nil
}

// notFasterThan rejects a plan that finishes sooner than base or sits below
// the baseline dose at any of its steps.
func notFasterThan(p, base Plan) error {
	if p.TotalDurationWeeks < base.TotalDurationWeeks {
		return fmt.Errorf("finishes in %d weeks, baseline needs %d", p.TotalDurationWeeks, base.TotalDurationWeeks)
	}
	for i, s := range p.Steps {
		if want := base.percentAt(s.Week); s.PercentageOfOriginal < want {
			return fmt.Errorf("step %d: %d%% at week %d is below the baseline %d%%", i+1, s.PercentageOfOriginal, s.Week, want)
		}
	}
	return nil
}

// merge fills anything the refiner left out from the baseline. Identity
// fields always come from the baseline.
func merge(p, base Plan) Plan {
	p.DrugName = base.DrugName
	p.DrugClass = base.DrugClass
	p.FloorPercent = base.FloorPercent
	if p.RiskProfile == "" {
		p.RiskProfile = base.RiskProfile
	}
	if p.TaperStrategy == "" {
		p.TaperStrategy = base.TaperStrategy
	}
	if len(p.SuccessIndicators) == 0 {
		p.SuccessIndicators = base.SuccessIndicators
	}
	if len(p.PauseCriteria) == 0 {
		p.PauseCriteria = base.PauseCriteria
	}
	if len(p.ReversalCriteria) == 0 {
		p.ReversalCriteria = base.ReversalCriteria
	}
	if len(p.MonitoringSchedule) == 0 {
		p.MonitoringSchedule = base.MonitoringSchedule
	}
	if len(p.PatientEducation) == 0 {
		p.PatientEducation = base.PatientEducation
	}
	for i := range p.Steps {
		if p.Steps[i].WithdrawalSymptoms == nil {
			p.Steps[i].WithdrawalSymptoms = []string{}
		}
	}
	if len(p.Steps) > 0 {
		p.TotalDurationWeeks = p.Steps[len(p.Steps)-1].Week
	}
	p.Provenance = ProvenanceAugmented
	p.FallbackReason = ""
	return p
}

func fallbackReason(err error) string {
	if errors.Is(err, ErrDependencyTimeout) {
		return "refinement timed out"
	}
	return "refinement failed: " + err.Error()
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
