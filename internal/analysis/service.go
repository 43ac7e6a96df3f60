package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/matcher"
	"github.com/Skufu/deprescribe/internal/risk"
	"github.com/Skufu/deprescribe/internal/taper"
)

// Service ties the engine together. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	repo        *criteria.Repository
	matcher     *matcher.Matcher
	scorer      *risk.Scorer
	checker     *interaction.Checker
	tapers      *taper.Generator
	logger      zerolog.Logger
	concurrency int
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithConcurrency bounds how many substances are evaluated at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewService(repo *criteria.Repository, scorer *risk.Scorer, checker *interaction.Checker, tapers *taper.Generator, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		matcher:     matcher.New(repo),
		scorer:      scorer,
		checker:     checker,
		tapers:      tapers,
		logger:      zerolog.Nop(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository exposes the loaded tables for listing endpoints.
func (s *Service) Repository() *criteria.Repository { return s.repo }

type substanceOutcome struct {
	analysis  MedicationAnalysis
	acb       int
	fallRisk  bool
	frequency string
	pause     []string
	notice    *clinical.Notice
}

// Analyze validates in and runs the full pipeline. A validation failure is
// returned as *clinical.ValidationError; nothing else fails the request.
func (s *Service) Analyze(ctx context.Context, in clinical.PatientInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	patient := in.PatientProfile

	interactions := s.checker.Check(ctx, in.Herbs, in.Medications)

	subs := make([]clinical.Substance, 0, len(in.Medications)+len(in.Herbs))
	for _, m := range in.Medications {
		subs = append(subs, m.Substance())
	}
	for _, h := range in.Herbs {
		subs = append(subs, h.Substance())
	}

	medClasses := make([][]string, len(in.Medications))
	for i, m := range in.Medications {
		medClasses[i] = s.matcher.Resolve(m.Substance()).Classes
	}
	extra := interactionFlags(interactions.Interactions, len(in.Medications), len(subs))

	outcomes := make([]substanceOutcome, len(subs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, sub := range subs {
		co := coClasses(medClasses, i)
		g.Go(func() error {
			outcomes[i] = s.evaluate(sub, patient, co, extra[i])
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		MedicationAnalyses:   make([]MedicationAnalysis, 0, len(outcomes)),
		StartRecommendations: s.matcher.MatchStart(s.matcher.ClassesOf(in.Medications), patient),
		HerbDrugInteractions: interactions.Interactions,
		Notices:              []clinical.Notice{},
	}
	acb := 0
	for _, o := range outcomes {
		res.MedicationAnalyses = append(res.MedicationAnalyses, o.analysis)
		acb += o.acb
		if o.notice != nil {
			res.Notices = append(res.Notices, *o.notice)
		}
		switch o.analysis.RiskCategory {
		case clinical.RiskRed:
			res.PrioritySummary.Red++
		case clinical.RiskYellow:
			res.PrioritySummary.Yellow++
		default:
			res.PrioritySummary.Green++
		}
	}
	res.Notices = append(res.Notices, interactions.Notices...)

	res.PatientSummary = summarizePatient(in, acb)
	res.MonitoringPlans = monitoringPlans(outcomes)
	res.SafetyAlerts = safetyAlerts(outcomes, interactions.Interactions, acb)
	res.ClinicalRecommendations = clinicalRecommendations(outcomes, interactions.Interactions, patient, res.PrioritySummary)

	s.logger.Info().
		Int("medications", len(in.Medications)).
		Int("herbs", len(in.Herbs)).
		Int("red", res.PrioritySummary.Red).
		Int("yellow", res.PrioritySummary.Yellow).
		Int("interactions", len(res.HerbDrugInteractions)).
		Int("notices", len(res.Notices)).
		Dur("elapsed", time.Since(start)).
		Msg("patient analyzed")
	return res, nil
}

func (s *Service) evaluate(sub clinical.Substance, patient clinical.PatientProfile, co criteria.ClassSet, extra []matcher.Flag) substanceOutcome {
	ev := s.matcher.Evaluate(sub, patient, co)
	flags := append(ev.Flags, extra...)

	score, category := s.scorer.Score(flags, patient)
	a := MedicationAnalysis{
		Name:               sub.Name,
		Type:               sub.Type,
		CanonicalName:      ev.Resolution.Canonical,
		DrugClasses:        ev.Resolution.Classes,
		RiskScore:          score,
		RiskCategory:       category,
		Flags:              make([]string, 0, len(flags)),
		FlagDetails:        flags,
		Recommendations:    []string{},
		MonitoringRequired: []string{},
	}
	if a.DrugClasses == nil {
		a.DrugClasses = []string{}
	}

	out := substanceOutcome{acb: ev.Resolution.ACB}
	for _, f := range flags {
		a.Flags = append(a.Flags, fmt.Sprintf("%s [%s]: %s", f.CriterionID, f.Severity, f.Rationale))
		if f.FallRisk {
			out.fallRisk = true
		}
	}

	classes := ev.Resolution.Classes
	if sub.Type == clinical.SubstanceHerb {
		classes = withHerbClass(classes)
	}
	a.TaperRequired = s.scorer.TaperRequired(category, classes, sub.Duration)

	if len(flags) > 0 {
		a.Recommendations = recommendationsFor(flags, category, a.TaperRequired)
		a.MonitoringRequired = monitoringFor(flags)
	}

	if a.TaperRequired {
		plan := s.tapers.Deterministic(taper.Request{
			DrugName:    sub.Name,
			Classes:     classes,
			CurrentDose: sub.Dose,
			Duration:    sub.Duration,
			Patient:     patientContext(patient),
		})
		a.TaperDurationWeeks = plan.TotalDurationWeeks
		out.pause = plan.PauseCriteria
		if p, ok := s.repo.TaperProfileFor(classes); ok {
			out.frequency = p.MonitoringFrequency
		}
	}

	if !ev.Resolution.Classified {
		out.notice = &clinical.Notice{
			Kind:    clinical.NoticeUnclassified,
			Subject: sub.Name,
			Message: fmt.Sprintf("%q is not in the %s reference; only class-independent criteria were applied", sub.Name, sub.Type),
		}
	}
	out.analysis = a
	return out
}

const herbClass = "herbal product"

// withHerbClass puts the generic herb class first without repeating it.
func withHerbClass(classes []string) []string {
	out := make([]string, 0, len(classes)+1)
	out = append(out, herbClass)
	for _, c := range classes {
		if c != herbClass {
			out = append(out, c)
		}
	}
	return out
}

func patientContext(p clinical.PatientProfile) taper.PatientContext {
	return taper.PatientContext{
		Age:           p.Age,
		CFSScore:      p.CFSScore,
		IsFrail:       p.IsFrail,
		Comorbidities: p.Comorbidities,
	}
}

// coClasses is the class set of every medication except the i-th. Herbs
// (i past the medication list) see every medication.
func coClasses(medClasses [][]string, i int) criteria.ClassSet {
	set := criteria.ClassSet{}
	for j, cs := range medClasses {
		if j == i {
			continue
		}
		for _, c := range cs {
			set[c] = true
		}
	}
	return set
}

// interactionFlags escalates each interaction onto both of its substances.
// The result is indexed like the substance list: medications first, then
// herbs offset by medCount. Entries with the same name stay independent.
func interactionFlags(records []interaction.Record, medCount, total int) [][]matcher.Flag {
	out := make([][]matcher.Flag, total)
	for _, r := range records {
		id := "HDI-" + r.Herb + "+" + r.Drug
		detail := r.Effect
		if detail == "" {
			detail = r.Mechanism
		}
		label := fmt.Sprintf("%s, %s", r.Severity, r.Evidence)

		herbAt := medCount + r.HerbIndex
		if f, ok := risk.InteractionFlag(r.Severity, id,
			fmt.Sprintf("Interaction with %s (%s): %s", r.Drug, label, detail)); ok && herbAt < total {
			f.Action = r.Recommendation
			f.Monitoring = r.Monitoring
			out[herbAt] = append(out[herbAt], f)
		}
		if f, ok := risk.InteractionFlag(r.Severity, id,
			fmt.Sprintf("Interaction with %s (%s): %s", r.Herb, label, detail)); ok && r.DrugIndex < medCount {
			f.Action = r.Recommendation
			f.Monitoring = r.Monitoring
			out[r.DrugIndex] = append(out[r.DrugIndex], f)
		}
	}
	return out
}
