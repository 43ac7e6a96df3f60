package taper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var doseRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|mcg|µg|g|ml|iu|units?)?`)

type dose struct {
	amount float64
	unit   string
	raw    string
	ok     bool
}

func parseDose(s string) dose {
	s = strings.TrimSpace(s)
	m := doseRe.FindStringSubmatch(s)
	if m == nil {
		return dose{raw: s}
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil || amount <= 0 {
		return dose{raw: s}
	}
	return dose{amount: amount, unit: strings.ToLower(m[2]), raw: s, ok: true}
}

// at renders the dose at pct of the original. An unparsable dose is
// expressed as a percentage of whatever was given.
func (d dose) at(pct int) string {
	if pct == 0 {
		return "STOP"
	}
	if !d.ok {
		if d.raw == "" {
			return fmt.Sprintf("%d%% of current dose", pct)
		}
		return fmt.Sprintf("%d%% of %s", pct, d.raw)
	}
	v := math.Round(d.amount*float64(pct)/100*1000) / 1000
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if d.unit != "" {
		out += " " + d.unit
	}
	return out
}
