package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

func loadRepo(t *testing.T) *criteria.Repository {
	t.Helper()
	repo, err := criteria.LoadEmbedded()
	require.NoError(t, err)
	return repo
}

type synthFunc func(ctx context.Context, p Pair) (*Record, error)

func (f synthFunc) SynthesizeInteraction(ctx context.Context, p Pair) (*Record, error) {
	return f(ctx, p)
}

func herbs(names ...string) []clinical.HerbEntry {
	out := make([]clinical.HerbEntry, 0, len(names))
	for _, n := range names {
		out = append(out, clinical.HerbEntry{GenericName: n, Duration: clinical.DurationLongTerm})
	}
	return out
}

func meds(names ...string) []clinical.MedicationEntry {
	out := make([]clinical.MedicationEntry, 0, len(names))
	for _, n := range names {
		out = append(out, clinical.MedicationEntry{GenericName: n, Duration: clinical.DurationLongTerm})
	}
	return out
}

func TestLookupIsSymmetric(t *testing.T) {
	c := NewChecker(loadRepo(t), nil)

	ab, ok := c.Lookup("Ginkgo", "Warfarin")
	require.True(t, ok)
	ba, ok := c.Lookup("Warfarin", "Ginkgo")
	require.True(t, ok)

	assert.Equal(t, ab, ba)
	assert.Equal(t, clinical.InteractionMajor, ab.Severity)
	assert.Equal(t, EvidenceClinical, ab.Evidence)

	_, ok = c.Lookup("Ginger", "Metformin")
	assert.False(t, ok)
}

func TestCheckCuratedAndSimulated(t *testing.T) {
	c := NewChecker(loadRepo(t), nil)

	res := c.Check(context.Background(), herbs("Ginger"), meds("Warfarin", "Apixaban", "Metformin"))
	require.Empty(t, res.Notices)
	require.Len(t, res.Interactions, 2)

	curated := res.Interactions[0]
	assert.Equal(t, "Warfarin", curated.Drug)
	assert.Equal(t, clinical.InteractionModerate, curated.Severity)
	assert.Equal(t, EvidenceClinical, curated.Evidence)

	sim := res.Interactions[1]
	assert.Equal(t, "Ginger", sim.Herb)
	assert.Equal(t, "Apixaban", sim.Drug)
	assert.Equal(t, clinical.InteractionMajor, sim.Severity)
	assert.Equal(t, EvidenceSimulated, sim.Evidence)
	assert.Contains(t, sim.Type, "(simulated)")
	assert.Contains(t, sim.Recommendation, "AVOID")
}

func TestCheckInfersProfileForUnknownHerb(t *testing.T) {
	c := NewChecker(loadRepo(t), nil)

	in := []clinical.HerbEntry{{GenericName: "Moonflower root", IntendedEffect: "Helps with sleep", Duration: clinical.DurationShortTerm}}
	res := c.Check(context.Background(), in, meds("Alprazolam"))

	require.Len(t, res.Interactions, 1)
	assert.Equal(t, clinical.InteractionModerate, res.Interactions[0].Severity)
	assert.Equal(t, EvidenceSimulated, res.Interactions[0].Evidence)
}

func TestCheckTimeoutOmitsPairWithNotice(t *testing.T) {
	slow := synthFunc(func(ctx context.Context, p Pair) (*Record, error) {
		time.Sleep(time.Second)
		return &Record{Severity: clinical.InteractionMajor}, nil
	})
	c := NewChecker(loadRepo(t), slow, WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := c.Check(context.Background(), herbs("Ginkgo", "Ginger"), meds("Warfarin", "Metformin"))
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	require.Len(t, res.Interactions, 2)
	assert.Equal(t, "Ginkgo", res.Interactions[0].Herb)
	assert.Equal(t, "Ginger", res.Interactions[1].Herb)

	require.Len(t, res.Notices, 2)
	for _, n := range res.Notices {
		assert.Equal(t, clinical.NoticeInteractionIncomplete, n.Kind)
	}
	assert.Equal(t, "Ginkgo + Metformin", res.Notices[0].Subject)
	assert.Equal(t, "Ginger + Metformin", res.Notices[1].Subject)
}

func TestCheckSynthErrorBecomesNotice(t *testing.T) {
	failing := synthFunc(func(ctx context.Context, p Pair) (*Record, error) {
		return nil, errors.New("upstream unavailable")
	})
	c := NewChecker(loadRepo(t), failing)

	res := c.Check(context.Background(), herbs("Ginger"), meds("Metformin"))
	assert.Empty(t, res.Interactions)
	require.Len(t, res.Notices, 1)
}

func TestCheckPreservesOrderUnderConcurrency(t *testing.T) {
	jitter := synthFunc(func(ctx context.Context, p Pair) (*Record, error) {
		time.Sleep(time.Duration(len(p.Herb)%3) * 5 * time.Millisecond)
		return &Record{Severity: clinical.InteractionMinor, Type: "test"}, nil
	})
	c := NewChecker(loadRepo(t), jitter, WithConcurrency(4))

	hs := herbs("herb-a", "herb-bb", "herb-ccc")
	ms := meds("Metformin", "Atorvastatin")
	res := c.Check(context.Background(), hs, ms)

	require.Len(t, res.Interactions, 6)
	i := 0
	for _, h := range hs {
		for _, m := range ms {
			assert.Equal(t, h.GenericName, res.Interactions[i].Herb)
			assert.Equal(t, m.GenericName, res.Interactions[i].Drug)
			i++
		}
	}
}

func TestCheckRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	counting := synthFunc(func(ctx context.Context, p Pair) (*Record, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	c := NewChecker(loadRepo(t), counting, WithConcurrency(2))

	var names []string
	for i := 0; i < 8; i++ {
		names = append(names, fmt.Sprintf("unlisted-%d", i))
	}
	c.Check(context.Background(), herbs(names...), meds("Metformin"))

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(2))
}

func TestRedisCacheSkipsRepeatCalls(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls int32
	synth := synthFunc(func(ctx context.Context, p Pair) (*Record, error) {
		atomic.AddInt32(&calls, 1)
		if p.DrugCanonical == "metformin" {
			return nil, nil
		}
		return &Record{Severity: clinical.InteractionModerate, Type: "Pharmacodynamic"}, nil
	})
	c := NewChecker(loadRepo(t), synth, WithCache(NewRedisCache(client, time.Hour)))

	first := c.Check(context.Background(), herbs("Ginger"), meds("Metformin", "Atorvastatin"))
	second := c.Check(context.Background(), herbs("Ginger"), meds("Metformin", "Atorvastatin"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
	require.Len(t, second.Interactions, 1)
	assert.Equal(t, EvidenceSimulated, second.Interactions[0].Evidence)
	assert.Equal(t, "Pharmacodynamic (simulated)", second.Interactions[0].Type)
}

func TestRedisCacheErrorsAreIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := NewChecker(loadRepo(t), nil, WithCache(NewRedisCache(client, time.Hour)))
	res := c.Check(context.Background(), herbs("Ginger"), meds("Apixaban"))

	require.Len(t, res.Interactions, 1)
	assert.Empty(t, res.Notices)
}

func TestInferProfile(t *testing.T) {
	s := NewProfileSynthesizer(loadRepo(t))

	p := s.InferProfile("For stress and better sleep")
	assert.InDelta(t, 0.6, p["sedative"], 1e-9)

	p = s.InferProfile("Blood sugar control")
	assert.InDelta(t, 0.7, p["hypoglycemic"], 1e-9)
	assert.InDelta(t, 0.4, p["antiplatelet"], 1e-9)

	assert.Nil(t, s.InferProfile(""))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Record{
		{Severity: clinical.InteractionMajor, Evidence: EvidenceClinical},
		{Severity: clinical.InteractionModerate, Evidence: EvidenceSimulated},
		{Severity: clinical.InteractionMinor, Evidence: EvidenceClinical},
	})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Major)
	assert.Equal(t, 1, s.Moderate)
	assert.Equal(t, 1, s.Minor)
	assert.Equal(t, 1, s.Simulated)
	assert.Contains(t, s.OverallRisk, "HIGH RISK")

	empty := Summarize(nil)
	assert.Equal(t, "No known interactions detected", empty.OverallRisk)
	assert.Empty(t, empty.Recommendations)
}

func TestCheckRecordsEntryPositions(t *testing.T) {
	c := NewChecker(loadRepo(t), nil)
	res := c.Check(context.Background(), herbs("Ginkgo"), meds("Warfarin", "Metformin", "Warfarin"))

	require.Len(t, res.Interactions, 2)
	for i, want := range []int{0, 2} {
		rec := res.Interactions[i]
		assert.Equal(t, "Warfarin", rec.Drug)
		assert.Equal(t, 0, rec.HerbIndex)
		assert.Equal(t, want, rec.DrugIndex)
	}
}
