package taper

// cfsSlowdown is indexed by effective CFS (0 = unknown). Values never
// decrease as frailty worsens.
var cfsSlowdown = [10]float64{1.0, 1.0, 1.0, 1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 2.5}

const (
	frailFloor   = 1.5
	maxSlowdown  = 3.0
	olderAge     = 80
	oldestAge    = 85
	olderFactor  = 1.1
	oldestFactor = 1.25
)

// Pace returns the slowdown factor (>= 1) applied to a class profile: step
// sizes are divided by it and cadence multiplied. It is non-decreasing in
// CFS, the frailty flag and age.
func Pace(c PatientContext) float64 {
	cfs := c.EffectiveCFS()
	if cfs < 0 {
		cfs = 0
	}
	if cfs > 9 {
		cfs = 9
	}
	slow := cfsSlowdown[cfs]
	if c.IsFrail && slow < frailFloor {
		slow = frailFloor
	}
	switch {
	case c.Age >= oldestAge:
		slow *= oldestFactor
	case c.Age >= olderAge:
		slow *= olderFactor
	}
	if slow > maxSlowdown {
		slow = maxSlowdown
	}
	return slow
}
