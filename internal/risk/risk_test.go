package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/matcher"
)

func flags(sevs ...clinical.Severity) []matcher.Flag {
	out := make([]matcher.Flag, 0, len(sevs))
	for _, s := range sevs {
		out = append(out, matcher.Flag{Severity: s})
	}
	return out
}

func TestScoreNoFlagsIsGreen(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	frail := clinical.PatientProfile{Age: 95, IsFrail: true, CFSScore: clinical.IntPtr(9)}

	score, cat := s.Score(nil, frail)
	assert.Equal(t, 0, score)
	assert.Equal(t, clinical.RiskGreen, cat)
}

func TestScoreWeightsAndModifiers(t *testing.T) {
	s := NewScorer(DefaultPolicy())

	tests := []struct {
		name    string
		flags   []matcher.Flag
		patient clinical.PatientProfile
		score   int
		cat     clinical.RiskCategory
	}{
		{"single moderate", flags(clinical.SeverityModerate), clinical.PatientProfile{Age: 70}, 2, clinical.RiskGreen},
		{"single high", flags(clinical.SeverityHigh), clinical.PatientProfile{Age: 70}, 4, clinical.RiskYellow},
		{"high and moderate", flags(clinical.SeverityHigh, clinical.SeverityModerate), clinical.PatientProfile{Age: 70}, 6, clinical.RiskYellow},
		{"frail faller on benzodiazepine", flags(clinical.SeverityHigh, clinical.SeverityModerate),
			clinical.PatientProfile{Age: 82, IsFrail: true, CFSScore: clinical.IntPtr(6)}, 8, clinical.RiskRed},
		{"age bonus", flags(clinical.SeverityModerate), clinical.PatientProfile{Age: 85}, 3, clinical.RiskGreen},
		{"cfs below threshold", flags(clinical.SeverityHigh), clinical.PatientProfile{Age: 70, CFSScore: clinical.IntPtr(5)}, 4, clinical.RiskYellow},
		{"clamped", flags(clinical.SeverityHigh, clinical.SeverityHigh, clinical.SeverityHigh), clinical.PatientProfile{Age: 90, IsFrail: true}, 10, clinical.RiskRed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, cat := s.Score(tc.flags, tc.patient)
			assert.Equal(t, tc.score, score)
			assert.Equal(t, tc.cat, cat)
		})
	}
}

func TestScoreIsMonotonicInFlags(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	p := clinical.PatientProfile{Age: 80, IsFrail: true}

	var fs []matcher.Flag
	prev := -1
	for i := 0; i < 6; i++ {
		fs = append(fs, matcher.Flag{Severity: clinical.SeverityModerate})
		score, _ := s.Score(fs, p)
		assert.GreaterOrEqual(t, score, prev)
		assert.LessOrEqual(t, score, 10)
		prev = score
	}
}

func TestCategoryBoundaries(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	assert.Equal(t, clinical.RiskGreen, s.CategoryFor(3))
	assert.Equal(t, clinical.RiskYellow, s.CategoryFor(4))
	assert.Equal(t, clinical.RiskYellow, s.CategoryFor(6))
	assert.Equal(t, clinical.RiskRed, s.CategoryFor(7))
}

func TestTaperRequired(t *testing.T) {
	s := NewScorer(DefaultPolicy())

	assert.True(t, s.TaperRequired(clinical.RiskRed, nil, clinical.DurationShortTerm))
	assert.True(t, s.TaperRequired(clinical.RiskYellow, []string{"benzodiazepine"}, clinical.DurationShortTerm))
	assert.False(t, s.TaperRequired(clinical.RiskYellow, []string{"statin"}, clinical.DurationLongTerm))
	assert.True(t, s.TaperRequired(clinical.RiskYellow, []string{"ppi"}, clinical.DurationLongTerm))
	assert.False(t, s.TaperRequired(clinical.RiskYellow, []string{"ppi"}, clinical.DurationShortTerm))
	assert.False(t, s.TaperRequired(clinical.RiskGreen, []string{"benzodiazepine"}, clinical.DurationLongTerm))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.HighWeight = 1
	p.RedThreshold = 3
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high weight")
	assert.Contains(t, err.Error(), "thresholds")
}

func TestInteractionFlag(t *testing.T) {
	f, ok := InteractionFlag(clinical.InteractionMajor, "HDI-1", "bleeding")
	require.True(t, ok)
	assert.Equal(t, clinical.SeverityHigh, f.Severity)
	assert.Equal(t, matcher.SourceInteraction, f.Source)

	f, ok = InteractionFlag(clinical.InteractionModerate, "HDI-2", "sedation")
	require.True(t, ok)
	assert.Equal(t, clinical.SeverityModerate, f.Severity)

	_, ok = InteractionFlag(clinical.InteractionMinor, "HDI-3", "absorption")
	assert.False(t, ok)
}
