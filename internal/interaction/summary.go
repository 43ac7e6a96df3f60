package interaction

import (
	"fmt"

	"github.com/Skufu/deprescribe/internal/clinical"
)

type Summary struct {
	Total           int      `json:"total_interactions"`
	Major           int      `json:"major_interactions"`
	Moderate        int      `json:"moderate_interactions"`
	Minor           int      `json:"minor_interactions"`
	Simulated       int      `json:"simulated_interactions"`
	OverallRisk     string   `json:"overall_risk_assessment"`
	Recommendations []string `json:"recommendations"`
}

func Summarize(records []Record) Summary {
	s := Summary{Total: len(records), Recommendations: []string{}}
	for _, r := range records {
		switch r.Severity {
		case clinical.InteractionMajor:
			s.Major++
		case clinical.InteractionModerate:
			s.Moderate++
		case clinical.InteractionMinor:
			s.Minor++
		}
		if r.Evidence == EvidenceSimulated {
			s.Simulated++
		}
	}

	switch {
	case s.Major > 0:
		s.OverallRisk = fmt.Sprintf("HIGH RISK: %d major interaction(s) detected", s.Major)
		s.Recommendations = append(s.Recommendations,
			"Review major interactions immediately and consider discontinuing the herbal product")
	case s.Moderate > 0:
		s.OverallRisk = fmt.Sprintf("MODERATE RISK: %d moderate interaction(s) detected", s.Moderate)
		s.Recommendations = append(s.Recommendations,
			"Monitor closely for the listed effects and review at the next visit")
	case s.Minor > 0:
		s.OverallRisk = "LOW RISK: only minor interactions detected"
	default:
		s.OverallRisk = "No known interactions detected"
	}
	if s.Simulated > 0 {
		s.Recommendations = append(s.Recommendations,
			fmt.Sprintf("%d interaction(s) are simulated from pharmacological profiles and need clinical verification", s.Simulated))
	}
	if s.Total > 0 {
		s.Recommendations = append(s.Recommendations,
			"Ask the patient to disclose all herbal and supplement use at every visit")
	}
	return s
}
