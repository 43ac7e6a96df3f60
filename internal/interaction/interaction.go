package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Skufu/deprescribe/internal/clinical"
	"github.com/Skufu/deprescribe/internal/criteria"
)

const (
	EvidenceClinical  = "clinical"
	EvidenceSimulated = "simulated"

	simulatedSuffix = " (simulated)"
)

// ErrIncomplete marks a pair whose fallback look-up failed or timed out.
var ErrIncomplete = errors.New("interaction check incomplete")

// Record is one herb-drug interaction as reported to callers.
type Record struct {
	Herb           string                       `json:"herb"`
	Drug           string                       `json:"drug"`
	Severity       clinical.InteractionSeverity `json:"severity"`
	Evidence       string                       `json:"evidence"`
	Type           string                       `json:"interaction_type"`
	Mechanism      string                       `json:"mechanism"`
	Effect         string                       `json:"effect"`
	Recommendation string                       `json:"recommendation"`
	Monitoring     []string                     `json:"monitoring,omitempty"`

	// Positions of the herb and medication in the checked lists, so callers
	// can attach the record to one entry when names repeat.
	HerbIndex int `json:"-"`
	DrugIndex int `json:"-"`
}

// Pair is a herb and drug with whatever the tables know about them.
type Pair struct {
	Herb           string
	HerbProfile    map[string]float64
	HerbKnown      bool
	IntendedEffect string
	Drug           string
	DrugCanonical  string
	DrugClasses    []string
}

// Key is the cache key of the pair, independent of argument order.
func (p Pair) Key() string {
	drug := p.DrugCanonical
	if drug == "" {
		drug = p.Drug
	}
	return criteria.PairKey(p.Herb, drug)
}

// Synthesizer produces a plausible interaction for pairs the curated table
// does not list. A nil record with a nil error means no interaction.
type Synthesizer interface {
	SynthesizeInteraction(ctx context.Context, pair Pair) (*Record, error)
}

// Cache stores synthesized results. A cached nil record is a cached "none".
type Cache interface {
	Get(ctx context.Context, key string) (rec *Record, found bool, err error)
	Set(ctx context.Context, key string, rec *Record) error
}

// Result is the outcome of checking every herb against every medication.
type Result struct {
	Interactions []Record         `json:"interactions"`
	Notices      []clinical.Notice `json:"notices"`
}

type Checker struct {
	repo        *criteria.Repository
	synth       Synthesizer
	cache       Cache
	timeout     time.Duration
	concurrency int
	logger      zerolog.Logger
}

type Option func(*Checker)

func WithCache(c Cache) Option {
	return func(ch *Checker) { ch.cache = c }
}

func WithTimeout(d time.Duration) Option {
	return func(ch *Checker) {
		if d > 0 {
			ch.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(ch *Checker) {
		if n > 0 {
			ch.concurrency = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(ch *Checker) { ch.logger = l }
}

// NewChecker builds a checker. A nil synth uses the local profile synthesizer.
func NewChecker(repo *criteria.Repository, synth Synthesizer, opts ...Option) *Checker {
	if synth == nil {
		synth = NewProfileSynthesizer(repo)
	}
	c := &Checker{
		repo:        repo,
		synth:       synth,
		timeout:     5 * time.Second,
		concurrency: 8,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the curated record for two names in either order.
func (c *Checker) Lookup(a, b string) (Record, bool) {
	herbName, drugName := a, b
	if _, ok := c.repo.ResolveHerb(a); !ok {
		herbName, drugName = b, a
	}
	pair, ok := c.pair(herbName, "", drugName, "")
	if !ok {
		return Record{}, false
	}
	return c.curated(pair, herbName, drugName)
}

// Check evaluates every herb against every medication. Curated pairs resolve
// locally; the rest go to the synthesizer, bounded by the checker's timeout
// and concurrency. A failed pair is omitted and reported as a notice.
// Output order is herb order, then medication order.
func (c *Checker) Check(ctx context.Context, herbs []clinical.HerbEntry, meds []clinical.MedicationEntry) Result {
	type slot struct {
		rec    *Record
		notice *clinical.Notice
	}
	slots := make([]slot, len(herbs)*len(meds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, h := range herbs {
		for j, m := range meds {
			idx := i*len(meds) + j
			g.Go(func() error {
				rec, err := c.checkPair(gctx, h, m)
				if err != nil {
					slots[idx].notice = &clinical.Notice{
						Kind:    clinical.NoticeInteractionIncomplete,
						Subject: h.GenericName + " + " + m.GenericName,
						Message: "Interaction check could not be completed; review this combination manually",
					}
					return nil
				}
				if rec != nil {
					rec.HerbIndex, rec.DrugIndex = i, j
				}
				slots[idx].rec = rec
				return nil
			})
		}
	}
	_ = g.Wait()

	res := Result{Interactions: []Record{}, Notices: []clinical.Notice{}}
	for _, s := range slots {
		if s.rec != nil {
			res.Interactions = append(res.Interactions, *s.rec)
		}
		if s.notice != nil {
			res.Notices = append(res.Notices, *s.notice)
		}
	}
	return res
}

// CheckNames is Check for bare names, as posted to the interaction checker.
func (c *Checker) CheckNames(ctx context.Context, herbs, meds []string) Result {
	hs := make([]clinical.HerbEntry, 0, len(herbs))
	for _, h := range herbs {
		hs = append(hs, clinical.HerbEntry{GenericName: h})
	}
	ms := make([]clinical.MedicationEntry, 0, len(meds))
	for _, m := range meds {
		ms = append(ms, clinical.MedicationEntry{GenericName: m})
	}
	return c.Check(ctx, hs, ms)
}

func (c *Checker) checkPair(ctx context.Context, h clinical.HerbEntry, m clinical.MedicationEntry) (*Record, error) {
	pair, ok := c.pair(h.GenericName, h.IntendedEffect, m.GenericName, m.BrandName)
	if !ok {
		return nil, nil
	}
	if rec, ok := c.curated(pair, h.GenericName, m.GenericName); ok {
		return &rec, nil
	}
	return c.simulate(ctx, pair, h.GenericName, m.GenericName)
}

func (c *Checker) pair(herbName, intended, drugName, brand string) (Pair, bool) {
	if strings.TrimSpace(herbName) == "" || strings.TrimSpace(drugName) == "" {
		return Pair{}, false
	}
	p := Pair{Herb: herbName, IntendedEffect: intended, Drug: drugName}
	if herb, ok := c.repo.ResolveHerb(herbName); ok {
		p.Herb = herb.Name
		p.HerbProfile = herb.Profile
		p.HerbKnown = true
	}
	res := c.repo.ResolveDrug(drugName, brand)
	p.DrugCanonical = res.Canonical
	p.DrugClasses = res.Classes
	return p, true
}

func (c *Checker) curated(p Pair, herbLabel, drugLabel string) (Record, bool) {
	if !p.HerbKnown {
		return Record{}, false
	}
	in, ok := c.repo.Curated(p.Herb, p.DrugCanonical, p.DrugClasses)
	if !ok {
		return Record{}, false
	}
	return Record{
		Herb:           herbLabel,
		Drug:           drugLabel,
		Severity:       in.Severity,
		Evidence:       EvidenceClinical,
		Type:           in.Type,
		Mechanism:      in.Mechanism,
		Effect:         in.Effect,
		Recommendation: recommendationFor(in.Severity, in.Recommendation),
		Monitoring:     in.Monitoring,
	}, true
}

func (c *Checker) simulate(ctx context.Context, p Pair, herbLabel, drugLabel string) (*Record, error) {
	key := "interaction:sim:" + p.Key() + "|" + strings.ToLower(strings.TrimSpace(p.IntendedEffect))

	if c.cache != nil {
		rec, found, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("interaction cache read failed")
		} else if found {
			return relabel(rec, herbLabel, drugLabel), nil
		}
	}

	rec, err := c.callSynth(ctx, p)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("herb", p.Herb).
			Str("drug", p.Drug).
			Dur("timeout", c.timeout).
			Msg("simulated interaction unavailable")
		return nil, fmt.Errorf("%w: %s + %s: %v", ErrIncomplete, p.Herb, p.Drug, err)
	}
	if rec != nil {
		rec.Evidence = EvidenceSimulated
		if !strings.HasSuffix(rec.Type, simulatedSuffix) {
			rec.Type += simulatedSuffix
		}
		if !rec.Severity.Valid() {
			rec.Severity = clinical.InteractionModerate
		}
		rec.Recommendation = recommendationFor(rec.Severity, rec.Recommendation)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, rec); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("interaction cache write failed")
		}
	}
	return relabel(rec, herbLabel, drugLabel), nil
}

// callSynth bounds the synthesizer by the checker timeout even when the
// implementation ignores its context.
func (c *Checker) callSynth(ctx context.Context, p Pair) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type out struct {
		rec *Record
		err error
	}
	ch := make(chan out, 1)
	go func() {
		rec, err := c.synth.SynthesizeInteraction(ctx, p)
		ch <- out{rec, err}
	}()

	select {
	case o := <-ch:
		return o.rec, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func relabel(rec *Record, herb, drug string) *Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.Herb = herb
	cp.Drug = drug
	return &cp
}

func recommendationFor(sev clinical.InteractionSeverity, detail string) string {
	var prefix string
	switch sev {
	case clinical.InteractionMajor:
		prefix = "AVOID"
	case clinical.InteractionModerate:
		prefix = "CAUTION"
	default:
		prefix = "Monitor"
	}
	switch {
	case detail == "":
		return prefix
	case strings.HasPrefix(detail, prefix+":"):
		return detail
	}
	return prefix + ": " + detail
}
