package taper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

type refineFunc func(ctx context.Context, req RefineRequest) (*Plan, error)

func (f refineFunc) RefineTaperPlan(ctx context.Context, req RefineRequest) (*Plan, error) {
	return f(ctx, req)
}

func newGenerator(t *testing.T, opts ...Option) *Generator {
	t.Helper()
	repo, err := criteria.LoadEmbedded()
	require.NoError(t, err)
	return NewGenerator(repo, opts...)
}

func frailFaller() PatientContext {
	return PatientContext{
		Age:           82,
		IsFrail:       true,
		CFSScore:      clinical.IntPtr(6),
		Comorbidities: []string{"History of falls"},
	}
}

func alprazolam() Request {
	return Request{
		DrugName:    "Alprazolam",
		Classes:     []string{"benzodiazepine", "sedative hypnotic"},
		CurrentDose: "0.5mg",
		Duration:    clinical.DurationLongTerm,
		Patient:     frailFaller(),
	}
}

func TestDeterministicBenzodiazepineForFrailPatient(t *testing.T) {
	g := newGenerator(t)
	p := g.Deterministic(alprazolam())

	require.NoError(t, p.Validate())
	assert.Equal(t, ProvenanceRuleBased, p.Provenance)
	assert.Equal(t, "benzodiazepine", p.DrugClass)
	assert.Empty(t, p.FallbackReason)

	require.GreaterOrEqual(t, len(p.Steps), 3)
	assert.Equal(t, 1, p.Steps[0].Week)
	for i := 1; i < len(p.Steps); i++ {
		assert.Greater(t, p.Steps[i].Week, p.Steps[i-1].Week)
		assert.Less(t, p.Steps[i].PercentageOfOriginal, p.Steps[i-1].PercentageOfOriginal)
	}
	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, 0, last.PercentageOfOriginal)
	assert.Equal(t, "STOP", last.Dose)
	assert.Equal(t, last.Week, p.TotalDurationWeeks)

	assert.Contains(t, p.MonitoringSchedule, "Week 1-2")
	assert.Contains(t, p.MonitoringSchedule, "Post-discontinuation")
	assert.NotEmpty(t, p.PauseCriteria)
	assert.NotEmpty(t, p.ReversalCriteria)
}

func TestDeterministicIsRepeatable(t *testing.T) {
	g := newGenerator(t)
	assert.Equal(t, g.Deterministic(alprazolam()), g.Deterministic(alprazolam()))
}

func TestDoseScalesWithPercentage(t *testing.T) {
	g := newGenerator(t)
	req := alprazolam()
	req.Patient = PatientContext{Age: 70}
	p := g.Deterministic(req)

	require.NotEmpty(t, p.Steps)
	assert.Equal(t, 75, p.Steps[0].PercentageOfOriginal)
	assert.Equal(t, "0.375 mg", p.Steps[0].Dose)
}

func TestUnparsableDoseIsExpressedAsPercentage(t *testing.T) {
	g := newGenerator(t)
	req := alprazolam()
	req.Patient = PatientContext{Age: 70}
	req.CurrentDose = "one tablet"
	p := g.Deterministic(req)
	assert.Equal(t, "75% of one tablet", p.Steps[0].Dose)

	req.CurrentDose = ""
	p = g.Deterministic(req)
	assert.Equal(t, "75% of current dose", p.Steps[0].Dose)
}

func TestProtonPumpInhibitorIsShortCourse(t *testing.T) {
	g := newGenerator(t)
	p := g.Deterministic(Request{
		DrugName: "Omeprazole",
		Classes:  []string{"ppi"},
		Duration: clinical.DurationLongTerm,
		Patient:  PatientContext{Age: 70},
	})

	require.NoError(t, p.Validate())
	assert.LessOrEqual(t, p.TotalDurationWeeks, 4)
	assert.Equal(t, []int{50, 0}, percentages(p))
}

func TestCorticosteroidStopsAtMaintenanceFloor(t *testing.T) {
	g := newGenerator(t)
	p := g.Deterministic(Request{
		DrugName:    "Prednisolone",
		Classes:     []string{"corticosteroid"},
		CurrentDose: "10 mg",
		Patient:     PatientContext{Age: 70},
	})

	require.NoError(t, p.Validate())
	assert.Equal(t, 10, p.FloorPercent)
	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, 10, last.PercentageOfOriginal)
	assert.Equal(t, "1 mg", last.Dose)
	assert.Contains(t, last.Instructions, "maintenance")
	assert.Contains(t, p.MonitoringSchedule, "Maintenance")
}

func TestUnknownClassUsesUnclassifiedProfile(t *testing.T) {
	g := newGenerator(t)
	p := g.Deterministic(Request{DrugName: "Mysteryzole", Patient: PatientContext{Age: 70}})
	require.NoError(t, p.Validate())
	assert.Equal(t, criteria.UnclassifiedProfile, p.DrugClass)
}

func TestNilRepositoryStillPlans(t *testing.T) {
	p := NewGenerator(nil).Deterministic(Request{DrugName: "X"})
	require.NoError(t, p.Validate())
	assert.Equal(t, criteria.UnclassifiedProfile, p.DrugClass)
}

func TestPaceIsMonotonic(t *testing.T) {
	prev := 0.0
	for cfs := 1; cfs <= 9; cfs++ {
		got := Pace(PatientContext{Age: 70, CFSScore: clinical.IntPtr(cfs)})
		assert.GreaterOrEqual(t, got, prev, "cfs %d", cfs)
		prev = got
	}

	fit := Pace(PatientContext{Age: 70})
	frail := Pace(PatientContext{Age: 70, IsFrail: true})
	assert.Equal(t, 1.0, fit)
	assert.GreaterOrEqual(t, frail, fit)

	prev = 0
	for _, age := range []int{65, 79, 80, 84, 85, 95} {
		got := Pace(PatientContext{Age: age, CFSScore: clinical.IntPtr(5)})
		assert.GreaterOrEqual(t, got, prev, "age %d", age)
		prev = got
	}
}

func TestFrailPatientNeverTapersFaster(t *testing.T) {
	g := newGenerator(t)
	for _, classes := range [][]string{{"benzodiazepine"}, {"opioid"}, {"ppi"}, {"corticosteroid"}, {"antipsychotic"}} {
		fitReq := Request{DrugName: "x", Classes: classes, Patient: PatientContext{Age: 70}}
		frailReq := fitReq
		frailReq.Patient = frailFaller()

		fit := g.Deterministic(fitReq)
		frail := g.Deterministic(frailReq)
		assert.GreaterOrEqual(t, frail.TotalDurationWeeks, fit.TotalDurationWeeks, classes[0])
		assert.GreaterOrEqual(t, len(frail.Steps), len(fit.Steps), classes[0])
		assert.GreaterOrEqual(t, frail.Steps[0].PercentageOfOriginal, fit.Steps[0].PercentageOfOriginal, classes[0])
	}
}

func TestShortTermHalvesCadence(t *testing.T) {
	g := newGenerator(t)
	long := alprazolam()
	long.Patient = PatientContext{Age: 70}
	short := long
	short.Duration = clinical.DurationShortTerm

	assert.Less(t, g.Deterministic(short).TotalDurationWeeks, g.Deterministic(long).TotalDurationWeeks)
}

// slower stretches the baseline so every reduction lands later.
func slower(base Plan) *Plan {
	steps := make([]Step, len(base.Steps))
	for i, s := range base.Steps {
		steps[i] = Step{Week: 2*s.Week - 1, PercentageOfOriginal: s.PercentageOfOriginal, Dose: s.Dose}
	}
	return &Plan{DrugName: "ignored", DrugClass: "ignored", Steps: steps}
}

func TestGenerateUsesRefinedPlan(t *testing.T) {
	refiner := refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
		assert.Equal(t, "benzodiazepine", req.Profile.Class)
		assert.NotEmpty(t, req.Baseline.Steps)
		return slower(req.Baseline), nil
	})
	g := newGenerator(t, WithRefiner(refiner))
	base := g.Deterministic(alprazolam())

	p := g.Generate(context.Background(), alprazolam())
	assert.Equal(t, ProvenanceAugmented, p.Provenance)
	assert.Empty(t, p.FallbackReason)
	assert.Equal(t, "Alprazolam", p.DrugName)
	assert.Equal(t, "benzodiazepine", p.DrugClass)
	assert.Equal(t, 2*base.TotalDurationWeeks-1, p.TotalDurationWeeks)
	assert.NotEmpty(t, p.PauseCriteria)
	require.NoError(t, p.Validate())
}

func TestGenerateRejectsRefinementFasterThanBaseline(t *testing.T) {
	cases := []struct {
		name   string
		steps  func(base Plan) []Step
		reason string
	}{
		{
			name: "stops in one week",
			steps: func(Plan) []Step {
				return []Step{{Week: 1, PercentageOfOriginal: 0}}
			},
			reason: "baseline needs",
		},
		{
			name: "same length but drops early",
			steps: func(base Plan) []Step {
				return []Step{
					{Week: 1, PercentageOfOriginal: 10},
					{Week: base.TotalDurationWeeks, PercentageOfOriginal: 0},
				}
			},
			reason: "below the baseline",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refiner := refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				return &Plan{Steps: tc.steps(req.Baseline)}, nil
			})
			g := newGenerator(t, WithRefiner(refiner))
			base := g.Deterministic(alprazolam())

			p := g.Generate(context.Background(), alprazolam())
			assert.Equal(t, ProvenanceRuleBased, p.Provenance)
			assert.Contains(t, p.FallbackReason, "refined plan rejected")
			assert.Contains(t, p.FallbackReason, tc.reason)
			assert.Equal(t, base.Steps, p.Steps)
			assert.Equal(t, base.TotalDurationWeeks, p.TotalDurationWeeks)
		})
	}
}

func TestPercentAt(t *testing.T) {
	p := Plan{Steps: []Step{{Week: 1, PercentageOfOriginal: 75}, {Week: 5, PercentageOfOriginal: 50}, {Week: 9, PercentageOfOriginal: 0}}}
	assert.Equal(t, 100, p.percentAt(0))
	assert.Equal(t, 75, p.percentAt(1))
	assert.Equal(t, 75, p.percentAt(4))
	assert.Equal(t, 50, p.percentAt(5))
	assert.Equal(t, 0, p.percentAt(12))
}

func TestGenerateFallsBack(t *testing.T) {
	cases := []struct {
		name    string
		refiner Refiner
		reason  string
	}{
		{
			name: "timeout",
			refiner: refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				time.Sleep(time.Second)
				return &req.Baseline, nil
			}),
			reason: "refinement timed out",
		},
		{
			name: "error",
			refiner: refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				return nil, errors.New("quota exceeded")
			}),
			reason: "refinement failed: quota exceeded",
		},
		{
			name: "no plan",
			refiner: refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				return nil, nil
			}),
			reason: "refinement failed",
		},
		{
			name: "rising percentage",
			refiner: refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				return &Plan{Steps: []Step{
					{Week: 1, PercentageOfOriginal: 50},
					{Week: 2, PercentageOfOriginal: 75},
					{Week: 3, PercentageOfOriginal: 0},
				}}, nil
			}),
			reason: "refined plan rejected",
		},
		{
			name: "ends above floor",
			refiner: refineFunc(func(ctx context.Context, req RefineRequest) (*Plan, error) {
				return &Plan{Steps: []Step{
					{Week: 1, PercentageOfOriginal: 75},
					{Week: 3, PercentageOfOriginal: 50},
				}}, nil
			}),
			reason: "refined plan rejected",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGenerator(t, WithRefiner(tc.refiner), WithTimeout(20*time.Millisecond))

			start := time.Now()
			p := g.Generate(context.Background(), alprazolam())
			assert.Less(t, time.Since(start), 900*time.Millisecond)

			assert.Equal(t, ProvenanceRuleBased, p.Provenance)
			assert.Contains(t, p.FallbackReason, tc.reason)
			assert.Equal(t, g.Deterministic(alprazolam()).Steps, p.Steps)
		})
	}
}

func TestPlanValidate(t *testing.T) {
	ok := Plan{TotalDurationWeeks: 3, Steps: []Step{{Week: 1, PercentageOfOriginal: 50}, {Week: 3, PercentageOfOriginal: 0}}}
	require.NoError(t, ok.Validate())

	assert.Error(t, Plan{}.Validate())

	late := ok
	late.Steps = []Step{{Week: 2, PercentageOfOriginal: 50}, {Week: 3, PercentageOfOriginal: 0}}
	assert.ErrorContains(t, late.Validate(), "first step")

	same := ok
	same.Steps = []Step{{Week: 1, PercentageOfOriginal: 50}, {Week: 1, PercentageOfOriginal: 0}}
	assert.ErrorContains(t, same.Validate(), "does not follow")

	total := ok
	total.TotalDurationWeeks = 9
	assert.ErrorContains(t, total.Validate(), "total duration")

	floor := Plan{FloorPercent: 25, TotalDurationWeeks: 3, Steps: []Step{{Week: 1, PercentageOfOriginal: 50}, {Week: 3, PercentageOfOriginal: 25}}}
	assert.NoError(t, floor.Validate())
}

func percentages(p Plan) []int {
	out := make([]int, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.PercentageOfOriginal)
	}
	return out
}
