package criteria

import (
	"sort"
	"strings"

	"github.com/Skufu/deprescribe/internal/clinical"
)

// Repository holds the read-only rule tables. It is built once at startup
// and shared by all requests without locking.
type Repository struct {
	stop  []StopCriterion
	start []StartCriterion

	drugs     []Drug
	drugIndex map[string]int
	drugKeys  []string

	herbs     []Herb
	herbIndex map[string]int
	herbKeys  []string

	classes map[string]bool

	interactions []Interaction
	curated      map[string]int
	rules        []SimulationRule
	hints        []EffectHint

	taper map[string]TaperProfile
	ttb   []TimeToBenefit
	sex   []SexRisk
}

// New validates ds and indexes it. Every problem found is reported in a
// single *DataIntegrityError.
func New(ds Dataset) (*Repository, error) {
	r := &Repository{
		stop:         ds.Stop,
		start:        ds.Start,
		drugs:        ds.Drugs,
		drugIndex:    map[string]int{},
		herbs:        ds.Herbs,
		herbIndex:    map[string]int{},
		classes:      map[string]bool{},
		interactions: ds.Interactions,
		curated:      map[string]int{},
		rules:        ds.SimulationRules,
		hints:        ds.EffectHints,
		taper:        map[string]TaperProfile{},
		ttb:          ds.TimeToBenefit,
		sex:          ds.SexRisks,
	}
	die := &DataIntegrityError{}

	r.indexDrugs(die)
	r.indexHerbs(die)
	r.checkStop(die)
	r.checkStart(die)
	r.indexInteractions(die)
	r.checkRules(die)
	r.indexTaper(ds.TaperProfiles, die)
	r.checkTTB(die)
	r.checkSexRisks(die)

	if len(die.Problems) > 0 {
		return nil, die
	}
	return r, nil
}

func (r *Repository) indexDrugs(die *DataIntegrityError) {
	for i, d := range r.drugs {
		name := NormalizeName(d.Name)
		if name == "" {
			die.addf("drug #%d has no name", i)
			continue
		}
		if len(d.Classes) == 0 {
			die.addf("drug %q has no classes", d.Name)
		}
		if d.ACB < 0 || d.ACB > 3 {
			die.addf("drug %q has anticholinergic burden %d outside 0-3", d.Name, d.ACB)
		}
		for j := range d.Classes {
			d.Classes[j] = clinical.NormalizeTerm(d.Classes[j])
			r.classes[d.Classes[j]] = true
		}
		keys := append([]string{d.Name}, d.Brands...)
		keys = append(keys, d.Aliases...)
		for _, k := range keys {
			k = NormalizeName(k)
			if k == "" {
				continue
			}
			if prev, ok := r.drugIndex[k]; ok && prev != i {
				die.addf("alias %q maps to both %q and %q", k, r.drugs[prev].Name, d.Name)
				continue
			}
			r.drugIndex[k] = i
		}
	}
	r.drugKeys = sortedKeys(r.drugIndex)
}

func (r *Repository) indexHerbs(die *DataIntegrityError) {
	for i, h := range r.herbs {
		if NormalizeName(h.Name) == "" {
			die.addf("herb #%d has no name", i)
			continue
		}
		for effect, w := range h.Profile {
			if w < 0 || w > 1 {
				die.addf("herb %q has %s weight %.2f outside [0,1]", h.Name, effect, w)
			}
		}
		for j := range h.Classes {
			h.Classes[j] = clinical.NormalizeTerm(h.Classes[j])
			r.classes[h.Classes[j]] = true
		}
		for _, k := range append([]string{h.Name}, h.Aliases...) {
			k = NormalizeName(k)
			if k == "" {
				continue
			}
			if prev, ok := r.herbIndex[k]; ok && prev != i {
				die.addf("herb alias %q maps to both %q and %q", k, r.herbs[prev].Name, h.Name)
				continue
			}
			r.herbIndex[k] = i
		}
	}
	r.herbKeys = sortedKeys(r.herbIndex)
}

func (r *Repository) checkStop(die *DataIntegrityError) {
	seen := map[string]bool{}
	for i := range r.stop {
		c := &r.stop[i]
		r.checkCommon(die, "STOP", c.ID, c.DrugClasses, c.Condition, seen)
		if !c.Severity.Valid() {
			die.addf("STOP %s has unknown severity %q", c.ID, c.Severity)
		}
		if strings.TrimSpace(c.Rationale) == "" {
			die.addf("STOP %s has no rationale", c.ID)
		}
	}
}

func (r *Repository) checkStart(die *DataIntegrityError) {
	seen := map[string]bool{}
	for i := range r.start {
		c := &r.start[i]
		r.checkCommon(die, "START", c.ID, c.DrugClasses, c.Condition, seen)
		if !c.Evidence.Valid() {
			die.addf("START %s has unknown evidence %q", c.ID, c.Evidence)
		}
	}
}

func (r *Repository) checkCommon(die *DataIntegrityError, table, id string, classes []string, p Predicate, seen map[string]bool) {
	if id == "" {
		die.addf("%s criterion without id", table)
	} else if seen[id] {
		die.addf("duplicate %s id %s", table, id)
	}
	seen[id] = true

	if len(classes) == 0 {
		die.addf("%s %s has empty drug_class", table, id)
	}
	for j := range classes {
		classes[j] = clinical.NormalizeTerm(classes[j])
		if classes[j] != AnyClass && !r.classes[classes[j]] {
			die.addf("%s %s references class %q that no drug maps to", table, id, classes[j])
		}
	}
	for _, c := range append(append([]string{}, p.WithClassesAny...), p.WithoutClasses...) {
		if !r.classes[clinical.NormalizeTerm(c)] {
			die.addf("%s %s co-prescription check references unknown class %q", table, id, c)
		}
	}
	if p.MinDuration != "" && !p.MinDuration.Valid() {
		die.addf("%s %s has unknown min_duration %q", table, id, p.MinDuration)
	}
	if p.Gender != "" && !p.Gender.Valid() {
		die.addf("%s %s has unknown gender %q", table, id, p.Gender)
	}
	if p.MaxLifeExpectancy != "" && !p.MaxLifeExpectancy.Valid() {
		die.addf("%s %s has unknown max_life_expectancy %q", table, id, p.MaxLifeExpectancy)
	}
	if p.MinCFS < 0 || p.MinCFS > 9 {
		die.addf("%s %s has min_cfs %d outside 1-9", table, id, p.MinCFS)
	}
	if p.MinAge > 0 && p.MaxAge > 0 && p.MinAge > p.MaxAge {
		die.addf("%s %s has min_age above max_age", table, id)
	}
}

func (r *Repository) indexInteractions(die *DataIntegrityError) {
	for i, in := range r.interactions {
		herb, ok := r.ResolveHerb(in.Herb)
		if !ok {
			die.addf("interaction #%d names unknown herb %q", i, in.Herb)
			continue
		}
		if !in.Severity.Valid() {
			die.addf("interaction %s has unknown severity %q", in.Herb, in.Severity)
		}

		var key string
		switch {
		case in.Drug != "" && in.DrugClass != "":
			die.addf("interaction %s names both drug and drug_class", in.Herb)
			continue
		case in.Drug != "":
			idx, ok := r.drugIndex[NormalizeName(in.Drug)]
			if !ok {
				die.addf("interaction %s names unknown drug %q", in.Herb, in.Drug)
				continue
			}
			key = PairKey(herb.Name, r.drugs[idx].Name)
		case in.DrugClass != "":
			class := clinical.NormalizeTerm(in.DrugClass)
			if !r.classes[class] {
				die.addf("interaction %s names unknown class %q", in.Herb, in.DrugClass)
				continue
			}
			key = PairKey(herb.Name, classKey(class))
		default:
			die.addf("interaction %s names neither drug nor drug_class", in.Herb)
			continue
		}
		if _, dup := r.curated[key]; dup {
			die.addf("duplicate interaction %s", key)
			continue
		}
		r.curated[key] = i
	}
}

func (r *Repository) checkRules(die *DataIntegrityError) {
	for i, rule := range r.rules {
		if rule.Effect == "" {
			die.addf("simulation rule #%d has no effect", i)
		}
		if !rule.Severity.Valid() {
			die.addf("simulation rule #%d has unknown severity %q", i, rule.Severity)
		}
		for j, c := range rule.DrugClasses {
			rule.DrugClasses[j] = clinical.NormalizeTerm(c)
			if !r.classes[rule.DrugClasses[j]] {
				die.addf("simulation rule #%d references unknown class %q", i, c)
			}
		}
	}
}

func (r *Repository) indexTaper(profiles []TaperProfile, die *DataIntegrityError) {
	for _, p := range profiles {
		p.Class = clinical.NormalizeTerm(p.Class)
		if p.Class == "" {
			die.addf("taper profile without class")
			continue
		}
		if _, dup := r.taper[p.Class]; dup {
			die.addf("duplicate taper profile %s", p.Class)
			continue
		}
		if p.Mode != TaperLinear && p.Mode != TaperProportional {
			die.addf("taper profile %s has unknown mode %q", p.Class, p.Mode)
		}
		if p.StepPercent <= 0 || p.StepPercent > 100 {
			die.addf("taper profile %s has step_percent %d outside 1-100", p.Class, p.StepPercent)
		}
		if p.CadenceWeeks <= 0 {
			die.addf("taper profile %s has non-positive cadence", p.Class)
		}
		if p.FloorPercent < 0 || p.FloorPercent >= 100 {
			die.addf("taper profile %s has floor_percent %d outside 0-99", p.Class, p.FloorPercent)
		}
		if p.FloorPercent > 10 && !p.Maintenance {
			die.addf("taper profile %s floor %d%% above 10%% must be marked maintenance", p.Class, p.FloorPercent)
		}
		if p.MinStepPercent <= 0 {
			p.MinStepPercent = 5
		}
		r.taper[p.Class] = p
	}
}

func (r *Repository) checkTTB(die *DataIntegrityError) {
	for i, t := range r.ttb {
		if (t.Class == "") == (t.Drug == "") {
			die.addf("time-to-benefit #%d must name exactly one of class or drug", i)
		}
		if t.Class != "" && !r.classes[clinical.NormalizeTerm(t.Class)] {
			die.addf("time-to-benefit #%d references unknown class %q", i, t.Class)
		}
		if t.Drug != "" {
			if _, ok := r.drugIndex[NormalizeName(t.Drug)]; !ok {
				die.addf("time-to-benefit #%d references unknown drug %q", i, t.Drug)
			}
		}
		if t.MonthsMin <= 0 {
			die.addf("time-to-benefit #%d has non-positive months_min", i)
		}
	}
}

func (r *Repository) checkSexRisks(die *DataIntegrityError) {
	for i := range r.sex {
		x := &r.sex[i]
		if (x.Class == "") == (x.Drug == "") {
			die.addf("sex risk #%d must name exactly one of class or drug", i)
		}
		if x.Class != "" {
			x.Class = clinical.NormalizeTerm(x.Class)
			if !r.classes[x.Class] {
				die.addf("sex risk #%d references unknown class %q", i, x.Class)
			}
		}
		if x.Drug != "" {
			if _, ok := r.drugIndex[NormalizeName(x.Drug)]; !ok {
				die.addf("sex risk #%d references unknown drug %q", i, x.Drug)
			}
		}
		if !x.Gender.Valid() {
			die.addf("sex risk #%d has unknown gender %q", i, x.Gender)
		}
		if !x.Level.Valid() {
			die.addf("sex risk #%d has unknown level %q", i, x.Level)
		}
	}
}

// Stop returns the STOP table in order. Callers must not modify it.
func (r *Repository) Stop() []StopCriterion { return r.stop }

// Start returns the START table in order. Callers must not modify it.
func (r *Repository) Start() []StartCriterion { return r.start }

func (r *Repository) SimulationRules() []SimulationRule { return r.rules }

func (r *Repository) EffectHints() []EffectHint { return r.hints }

// Curated finds the curated record for a herb and drug, preferring a
// drug-specific entry over one keyed by any of the drug's classes.
func (r *Repository) Curated(herb, drug string, classes []string) (Interaction, bool) {
	if idx, ok := r.curated[PairKey(herb, drug)]; ok && drug != "" {
		return r.interactions[idx], true
	}
	for _, c := range classes {
		if idx, ok := r.curated[PairKey(herb, classKey(c))]; ok {
			return r.interactions[idx], true
		}
	}
	return Interaction{}, false
}

// TaperProfileFor picks the profile of the first class that has one, falling
// back to the unclassified profile.
func (r *Repository) TaperProfileFor(classes []string) (TaperProfile, bool) {
	for _, c := range classes {
		if p, ok := r.taper[c]; ok {
			return p, true
		}
	}
	p, ok := r.taper[UnclassifiedProfile]
	return p, ok
}

// TimeToBenefitFor returns drug-specific records first, then class records.
func (r *Repository) TimeToBenefitFor(drug string, classes []string) []TimeToBenefit {
	var out []TimeToBenefit
	drug = NormalizeName(drug)
	for _, t := range r.ttb {
		if t.Drug != "" && drug != "" && NormalizeName(t.Drug) == drug {
			out = append(out, t)
		}
	}
	for _, t := range r.ttb {
		if t.Class == "" {
			continue
		}
		for _, c := range classes {
			if clinical.NormalizeTerm(t.Class) == c {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// SexRisksFor returns the records that apply to a patient of gender g on the
// drug, drug-specific ones first.
func (r *Repository) SexRisksFor(drug string, classes []string, g clinical.Gender) []SexRisk {
	var out []SexRisk
	drug = NormalizeName(drug)
	for _, x := range r.sex {
		if x.Gender == g && x.Drug != "" && drug != "" && NormalizeName(x.Drug) == drug {
			out = append(out, x)
		}
	}
	for _, x := range r.sex {
		if x.Gender != g || x.Class == "" {
			continue
		}
		for _, c := range classes {
			if x.Class == c {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

func (r *Repository) IsClass(name string) bool {
	return r.classes[clinical.NormalizeTerm(name)]
}

// Drugs returns the alias table in order.
func (r *Repository) Drugs() []Drug { return r.drugs }

// Herbs returns the herb table in order.
func (r *Repository) Herbs() []Herb { return r.herbs }

// Classes returns every known class name, sorted.
func (r *Repository) Classes() []string {
	out := make([]string, 0, len(r.classes))
	for c := range r.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// PairKey is the unordered key for a pair of names.
func PairKey(a, b string) string {
	a, b = NormalizeName(a), NormalizeName(b)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func classKey(class string) string {
	return "class " + class
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
