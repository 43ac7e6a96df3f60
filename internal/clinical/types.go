package clinical

import (
	"strings"
	"unicode"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// LifeExpectancy is an ordered bucket; Months gives the midpoint used when
// comparing against time-to-benefit windows.
type LifeExpectancy string

const (
	LifeExpectancyUnderOneYear LifeExpectancy = "<1_year"
	LifeExpectancyOneToTwo     LifeExpectancy = "1-2_years"
	LifeExpectancyTwoToFive    LifeExpectancy = "2-5_years"
	LifeExpectancyFiveToTen    LifeExpectancy = "5-10_years"
	LifeExpectancyOverTen      LifeExpectancy = ">10_years"
)

var lifeExpectancyRank = map[LifeExpectancy]int{
	LifeExpectancyUnderOneYear: 1,
	LifeExpectancyOneToTwo:     2,
	LifeExpectancyTwoToFive:    3,
	LifeExpectancyFiveToTen:    4,
	LifeExpectancyOverTen:      5,
}

var lifeExpectancyMonths = map[LifeExpectancy]int{
	LifeExpectancyUnderOneYear: 6,
	LifeExpectancyOneToTwo:     18,
	LifeExpectancyTwoToFive:    36,
	LifeExpectancyFiveToTen:    90,
	LifeExpectancyOverTen:      120,
}

func (l LifeExpectancy) Valid() bool {
	_, ok := lifeExpectancyRank[l]
	return ok
}

// Rank orders buckets from shortest (1) to longest (5); unknown values rank 0.
func (l LifeExpectancy) Rank() int {
	return lifeExpectancyRank[l]
}

func (l LifeExpectancy) Months() int {
	if m, ok := lifeExpectancyMonths[l]; ok {
		return m
	}
	return 120
}

// Duration is how long a substance has been taken: short_term is under four
// weeks, long_term four weeks or more.
type Duration string

const (
	DurationShortTerm Duration = "short_term"
	DurationLongTerm  Duration = "long_term"
	DurationUnknown   Duration = "unknown"
)

func (d Duration) Valid() bool {
	switch d {
	case DurationShortTerm, DurationLongTerm, DurationUnknown:
		return true
	}
	return false
}

// AtLeast reports whether d is known to meet min. Unknown never satisfies a
// duration threshold.
func (d Duration) AtLeast(min Duration) bool {
	if min == "" {
		return true
	}
	rank := map[Duration]int{DurationShortTerm: 1, DurationLongTerm: 2}
	return rank[d] > 0 && rank[d] >= rank[min]
}

type Severity string

const (
	SeverityHigh     Severity = "High"
	SeverityModerate Severity = "Moderate"
)

func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityModerate
}

type Evidence string

const (
	EvidenceStrong   Evidence = "Strong"
	EvidenceModerate Evidence = "Moderate"
)

func (e Evidence) Valid() bool {
	return e == EvidenceStrong || e == EvidenceModerate
}

type RiskCategory string

const (
	RiskRed    RiskCategory = "RED"
	RiskYellow RiskCategory = "YELLOW"
	RiskGreen  RiskCategory = "GREEN"
)

type InteractionSeverity string

const (
	InteractionMajor    InteractionSeverity = "Major"
	InteractionModerate InteractionSeverity = "Moderate"
	InteractionMinor    InteractionSeverity = "Minor"
)

func (s InteractionSeverity) Valid() bool {
	switch s {
	case InteractionMajor, InteractionModerate, InteractionMinor:
		return true
	}
	return false
}

type SubstanceType string

const (
	SubstanceMedication SubstanceType = "medication"
	SubstanceHerb       SubstanceType = "herb"
)

// PatientProfile is immutable once submitted and owned by a single request.
type PatientProfile struct {
	Age            int            `json:"age"`
	Gender         Gender         `json:"gender"`
	IsFrail        bool           `json:"is_frail"`
	CFSScore       *int           `json:"cfs_score,omitempty"`
	LifeExpectancy LifeExpectancy `json:"life_expectancy"`
	Comorbidities  []string       `json:"comorbidities"`
}

type MedicationEntry struct {
	GenericName string   `json:"generic_name"`
	BrandName   string   `json:"brand_name,omitempty"`
	Dose        string   `json:"dose"`
	Frequency   string   `json:"frequency"`
	Duration    Duration `json:"duration"`
	Indication  string   `json:"indication,omitempty"`
}

type HerbEntry struct {
	GenericName    string   `json:"generic_name"`
	BrandName      string   `json:"brand_name,omitempty"`
	Dose           string   `json:"dose"`
	Frequency      string   `json:"frequency"`
	Duration       Duration `json:"duration"`
	IntendedEffect string   `json:"intended_effect,omitempty"`
}

// PatientInput is the analysis request body: the profile plus its ordered
// medication and herb lists. Duplicates are allowed and analyzed separately.
type PatientInput struct {
	PatientProfile
	Medications []MedicationEntry `json:"medications"`
	Herbs       []HerbEntry       `json:"herbs"`
}

// Substance is the common view of a medication or herb used by the engine.
type Substance struct {
	Name      string
	Brand     string
	Dose      string
	Frequency string
	Duration  Duration
	Purpose   string
	Type      SubstanceType
}

func (m MedicationEntry) Substance() Substance {
	return Substance{
		Name:      m.GenericName,
		Brand:     m.BrandName,
		Dose:      m.Dose,
		Frequency: m.Frequency,
		Duration:  m.Duration,
		Purpose:   m.Indication,
		Type:      SubstanceMedication,
	}
}

func (h HerbEntry) Substance() Substance {
	return Substance{
		Name:      h.GenericName,
		Brand:     h.BrandName,
		Dose:      h.Dose,
		Frequency: h.Frequency,
		Duration:  h.Duration,
		Purpose:   h.IntendedEffect,
		Type:      SubstanceHerb,
	}
}

// HasCondition reports whether any comorbidity names term as whole words,
// ignoring case and a plural "s". "History of falls" has "fall";
// "Tetralogy of Fallot" and "Prediabetes" do not.
func (p PatientProfile) HasCondition(term string) bool {
	for _, c := range p.Comorbidities {
		if ConditionMatches(c, term) {
			return true
		}
	}
	return false
}

// ConditionMatches reports whether one free-text condition names term.
func ConditionMatches(condition, term string) bool {
	want := conditionTokens(term)
	if len(want) == 0 {
		return false
	}
	return containsWords(maskDistinct(conditionTokens(condition), want), want)
}

// distinctConditions are diseases whose names contain another condition
// without being it.
var distinctConditions = [][]string{
	{"pulmonary", "arterial", "hypertension"},
	{"pulmonary", "hypertension"},
	{"portal", "hypertension"},
	{"intracranial", "hypertension"},
	{"ocular", "hypertension"},
	{"diabetes", "insipidus"},
}

func conditionTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// maskDistinct blanks every distinct-condition phrase so its words cannot
// match on their own, unless want itself names that condition.
func maskDistinct(tokens, want []string) []string {
	for _, phrase := range distinctConditions {
		if containsWords(want, phrase) {
			continue
		}
		for i := 0; i+len(phrase) <= len(tokens); i++ {
			if equalWords(tokens[i:i+len(phrase)], phrase) {
				for j := range phrase {
					tokens[i+j] = ""
				}
			}
		}
	}
	return tokens
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsWords(tokens, want []string) bool {
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if !sameWord(tokens[i+j], w) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func sameWord(got, want string) bool {
	if got == "" {
		return false
	}
	return got == want || got == want+"s" || got == want+"es"
}

// HasFallHistory is derived from the comorbidity list ("History of falls",
// "recurrent falls", ...).
func (p PatientProfile) HasFallHistory() bool {
	return p.HasCondition("fall")
}

// EffectiveCFS returns the recorded CFS score, 5 for a frail patient without
// one, and 0 when frailty is unknown.
func (p PatientProfile) EffectiveCFS() int {
	if p.CFSScore != nil {
		return *p.CFSScore
	}
	if p.IsFrail {
		return 5
	}
	return 0
}

func NormalizeTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IntPtr is a convenience for optional integer fields such as CFSScore.
func IntPtr(v int) *int {
	return &v
}
