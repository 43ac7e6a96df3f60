package criteria

// Stats summarizes the loaded tables for /supported-drugs and the CLI.
type Stats struct {
	StopCriteria    int            `json:"stop_criteria"`
	StartCriteria   int            `json:"start_criteria"`
	BySeverity      map[string]int `json:"stop_by_severity"`
	ByEvidence      map[string]int `json:"start_by_evidence"`
	BySystem        map[string]int `json:"by_system"`
	Drugs           int            `json:"drugs"`
	Herbs           int            `json:"herbs"`
	Classes         int            `json:"classes"`
	Interactions    int            `json:"curated_interactions"`
	TaperProfiles   int            `json:"taper_profiles"`
	TimeToBenefit   int            `json:"time_to_benefit"`
	SimulationRules int            `json:"simulation_rules"`
	SexRisks        int            `json:"sex_specific_risks"`
}

func (r *Repository) Stats() Stats {
	s := Stats{
		StopCriteria:    len(r.stop),
		StartCriteria:   len(r.start),
		BySeverity:      map[string]int{},
		ByEvidence:      map[string]int{},
		BySystem:        map[string]int{},
		Drugs:           len(r.drugs),
		Herbs:           len(r.herbs),
		Classes:         len(r.classes),
		Interactions:    len(r.interactions),
		TaperProfiles:   len(r.taper),
		TimeToBenefit:   len(r.ttb),
		SimulationRules: len(r.rules),
		SexRisks:        len(r.sex),
	}
	for _, c := range r.stop {
		s.BySeverity[string(c.Severity)]++
		s.BySystem[c.System]++
	}
	for _, c := range r.start {
		s.ByEvidence[string(c.Evidence)]++
		s.BySystem[c.System]++
	}
	return s
}
