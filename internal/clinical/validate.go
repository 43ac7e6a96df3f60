package clinical

import (
	"fmt"
	"strings"
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every invalid field of a request so the caller
// can report them all at once.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no problems were recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

const maxAge = 130

// Validate checks the profile and every entry. Nothing is defaulted: missing
// gender or life expectancy is rejected rather than assumed.
func (p PatientInput) Validate() error {
	v := &ValidationError{}
	p.PatientProfile.validate(v, "patient")

	if len(p.Medications) == 0 {
		v.Add("patient.medications", "at least one medication is required")
	}
	for i, m := range p.Medications {
		validateEntry(v, fmt.Sprintf("patient.medications[%d]", i), m.GenericName, m.Duration)
	}
	for i, h := range p.Herbs {
		validateEntry(v, fmt.Sprintf("patient.herbs[%d]", i), h.GenericName, h.Duration)
	}
	return v.Err()
}

// Validate checks the profile fields alone.
func (p PatientProfile) Validate() error {
	v := &ValidationError{}
	p.validate(v, "patient")
	return v.Err()
}

func (p PatientProfile) validate(v *ValidationError, prefix string) {
	ValidateAge(v, prefix+".age", p.Age)
	if !p.Gender.Valid() {
		v.Add(prefix+".gender", "must be one of male, female, other")
	}
	ValidateCFS(v, prefix+".cfs_score", p.CFSScore)
	if !p.LifeExpectancy.Valid() {
		v.Add(prefix+".life_expectancy", "must be one of <1_year, 1-2_years, 2-5_years, 5-10_years, >10_years")
	}
	for i, c := range p.Comorbidities {
		if strings.TrimSpace(c) == "" {
			v.Add(fmt.Sprintf("%s.comorbidities[%d]", prefix, i), "must not be blank")
		}
	}
}

// ValidateAge rejects a missing (zero), negative or implausible age.
func ValidateAge(v *ValidationError, field string, age int) {
	switch {
	case age == 0:
		v.Add(field, "is required")
	case age < 0 || age > maxAge:
		v.Add(field, "must be between 1 and %d", maxAge)
	}
}

// ValidateCFS accepts an absent score or one in 1..9.
func ValidateCFS(v *ValidationError, field string, cfs *int) {
	if cfs != nil && (*cfs < 1 || *cfs > 9) {
		v.Add(field, "must be between 1 and 9")
	}
}

func validateEntry(v *ValidationError, prefix, name string, d Duration) {
	if strings.TrimSpace(name) == "" {
		v.Add(prefix+".generic_name", "is required")
	}
	if !d.Valid() {
		v.Add(prefix+".duration", "must be one of short_term, long_term, unknown")
	}
}
