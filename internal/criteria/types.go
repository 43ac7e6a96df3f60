package criteria

import "github.com/Skufu/deprescribe/internal/clinical"

// AnyClass in a criterion's drug_class list applies the criterion to every
// medication, classified or not.
const AnyClass = "*"

// UnclassifiedProfile is the taper profile used when a drug resolves to no
// class with its own profile.
const UnclassifiedProfile = "unclassified"

type StopCriterion struct {
	ID          string            `yaml:"id" json:"id"`
	System      string            `yaml:"system" json:"system"`
	DrugClasses []string          `yaml:"drug_class" json:"drug_class"`
	Condition   Predicate         `yaml:"condition" json:"condition"`
	Criterion   string            `yaml:"criterion" json:"criterion"`
	Rationale   string            `yaml:"rationale" json:"rationale"`
	Severity    clinical.Severity `yaml:"severity" json:"severity"`
	Action      string            `yaml:"action" json:"action"`
	Monitoring  []string          `yaml:"monitoring" json:"monitoring,omitempty"`
}

type StartCriterion struct {
	ID             string            `yaml:"id" json:"id"`
	System         string            `yaml:"system" json:"system"`
	DrugClasses    []string          `yaml:"drug_class" json:"drug_class"`
	Condition      Predicate         `yaml:"condition" json:"condition"`
	Criterion      string            `yaml:"criterion" json:"criterion"`
	Indication     string            `yaml:"indication" json:"indication"`
	Recommendation string            `yaml:"recommendation" json:"recommendation"`
	Evidence       clinical.Evidence `yaml:"evidence" json:"evidence"`
}

// Drug is one row of the alias table.
type Drug struct {
	Name    string   `yaml:"name" json:"name"`
	Classes []string `yaml:"classes" json:"classes"`
	Brands  []string `yaml:"brands" json:"brands,omitempty"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
	ACB     int      `yaml:"acb" json:"acb,omitempty"`
}

// Herb carries pharmacological profile weights in [0,1] keyed by effect
// (sedative, antiplatelet, ...).
type Herb struct {
	Name     string             `yaml:"name" json:"name"`
	Aliases  []string           `yaml:"aliases" json:"aliases,omitempty"`
	Classes  []string           `yaml:"classes" json:"classes,omitempty"`
	Profile  map[string]float64 `yaml:"profile" json:"profile,omitempty"`
	Concerns []string           `yaml:"concerns" json:"concerns,omitempty"`
}

// Interaction is a curated herb-drug record. Exactly one of Drug or
// DrugClass is set.
type Interaction struct {
	Herb           string                       `yaml:"herb"`
	Drug           string                       `yaml:"drug"`
	DrugClass      string                       `yaml:"drug_class"`
	Severity       clinical.InteractionSeverity `yaml:"severity"`
	Type           string                       `yaml:"type"`
	Mechanism      string                       `yaml:"mechanism"`
	Effect         string                       `yaml:"effect"`
	Recommendation string                       `yaml:"recommendation"`
	Monitoring     []string                     `yaml:"monitoring"`
}

// SimulationRule maps a herb effect above Threshold onto drug classes it
// plausibly interacts with. Rules are evaluated in table order.
type SimulationRule struct {
	Effect         string                       `yaml:"effect"`
	Threshold      float64                      `yaml:"threshold"`
	DrugClasses    []string                     `yaml:"drug_classes"`
	Severity       clinical.InteractionSeverity `yaml:"severity"`
	Type           string                       `yaml:"type"`
	Mechanism      string                       `yaml:"mechanism"`
	ClinicalEffect string                       `yaml:"clinical_effect"`
	Recommendation string                       `yaml:"recommendation"`
}

// EffectHint infers profile weights for an unknown herb from words in its
// intended effect.
type EffectHint struct {
	Keywords []string `yaml:"keywords"`
	Effect   string   `yaml:"effect"`
	Weight   float64  `yaml:"weight"`
}

type WithdrawalSymptoms struct {
	Mild     []string `yaml:"mild" json:"mild"`
	Moderate []string `yaml:"moderate" json:"moderate"`
	Large    []string `yaml:"large" json:"large"`
}

type TaperMode string

const (
	TaperLinear       TaperMode = "linear"
	TaperProportional TaperMode = "proportional"
)

type TaperProfile struct {
	Class               string             `yaml:"class"`
	Mode                TaperMode          `yaml:"mode"`
	StepPercent         int                `yaml:"step_percent"`
	MinStepPercent      int                `yaml:"min_step_percent"`
	CadenceWeeks        int                `yaml:"cadence_weeks"`
	FloorPercent        int                `yaml:"floor_percent"`
	Maintenance         bool               `yaml:"maintenance"`
	RiskProfile         string             `yaml:"risk_profile"`
	Strategy            string             `yaml:"strategy"`
	Withdrawal          WithdrawalSymptoms `yaml:"withdrawal_symptoms"`
	Monitoring          string             `yaml:"monitoring"`
	MonitoringFrequency string             `yaml:"monitoring_frequency"`
	SuccessIndicators   []string           `yaml:"success_indicators"`
	PauseCriteria       []string           `yaml:"pause_criteria"`
	ReversalCriteria    []string           `yaml:"reversal_criteria"`
	PatientEducation    []string           `yaml:"patient_education"`
}

// TimeToBenefit is keyed by class or by a specific drug. A MonthsMin of
// NoBenefit marks therapy with no proven net benefit for the indication.
type TimeToBenefit struct {
	Class                string   `yaml:"class"`
	Drug                 string   `yaml:"drug"`
	Indication           string   `yaml:"indication"`
	MonthsMin            int      `yaml:"months_min"`
	MonthsMax            int      `yaml:"months_max"`
	Guidance             string   `yaml:"guidance"`
	ExcludeComorbidities []string `yaml:"exclude_comorbidities"`
}

const NoBenefit = 999

// SexRisk marks a drug or class whose adverse effects are more frequent or
// severe in one sex. Exactly one of Drug or Class is set.
type SexRisk struct {
	Drug       string            `yaml:"drug" json:"drug,omitempty"`
	Class      string            `yaml:"class" json:"class,omitempty"`
	Gender     clinical.Gender   `yaml:"gender" json:"gender"`
	Level      clinical.Severity `yaml:"level" json:"level"`
	Category   string            `yaml:"category" json:"category"`
	Mechanism  string            `yaml:"mechanism" json:"mechanism"`
	Monitoring []string          `yaml:"monitoring" json:"monitoring,omitempty"`
}

// Dataset is everything the repository is built from.
type Dataset struct {
	Stop            []StopCriterion
	Start           []StartCriterion
	Drugs           []Drug
	Herbs           []Herb
	Interactions    []Interaction
	SimulationRules []SimulationRule
	EffectHints     []EffectHint
	TaperProfiles   []TaperProfile
	TimeToBenefit   []TimeToBenefit
	SexRisks        []SexRisk
}
