package criteria

import (
	"regexp"
	"strings"
	"unicode"
)

// Resolution is the outcome of mapping a free-text drug name onto the alias
// table. An unknown name yields Classified=false, never an error.
type Resolution struct {
	Input      string   `json:"input"`
	Canonical  string   `json:"canonical,omitempty"`
	Classes    []string `json:"classes"`
	ACB        int      `json:"acb"`
	Classified bool     `json:"classified"`
	Match      string   `json:"match,omitempty"`
}

const (
	MatchExact = "exact"
	MatchClass = "class"
	MatchToken = "token"
	MatchFuzzy = "fuzzy"
)

var (
	doseToken = regexp.MustCompile(`^\d+(\.\d+)?(mg|mcg|g|ml|iu|units?|%)?$`)
	noise     = map[string]bool{
		"mg": true, "mcg": true, "g": true, "ml": true, "iu": true, "unit": true, "units": true,
		"tab": true, "tabs": true, "tablet": true, "tablets": true, "cap": true, "caps": true,
		"capsule": true, "capsules": true, "sr": true, "er": true, "xr": true, "xl": true,
		"cr": true, "mr": true, "od": true, "inj": true, "injection": true, "syrup": true,
	}
)

// NormalizeName lowercases, drops punctuation and strips dose and
// formulation tokens: "Xanax 0.5mg SR" becomes "xanax".
func NormalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '%' {
			return r
		}
		return ' '
	}, s)
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" || noise[f] || doseToken.MatchString(f) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// ResolveDrug maps a generic name, falling back to the brand, onto the alias
// table. Lookup order: exact alias, class name, single token, then a bounded
// edit-distance match.
func (r *Repository) ResolveDrug(generic, brand string) Resolution {
	res := Resolution{Input: generic, Classes: []string{}}
	if strings.TrimSpace(generic) == "" {
		res.Input = brand
	}

	candidates := []string{NormalizeName(generic), NormalizeName(brand)}
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if idx, ok := r.drugIndex[key]; ok {
			return r.resolved(res, idx, MatchExact)
		}
		if r.classes[key] {
			res.Classes = []string{key}
			res.Classified = true
			res.Match = MatchClass
			return res
		}
	}
	for _, key := range candidates {
		if idx, ok := lookupTokens(r.drugIndex, key); ok {
			return r.resolved(res, idx, MatchToken)
		}
	}
	for _, key := range candidates {
		if idx, ok := lookupFuzzy(r.drugIndex, r.drugKeys, key); ok {
			return r.resolved(res, idx, MatchFuzzy)
		}
	}
	return res
}

func (r *Repository) resolved(res Resolution, idx int, match string) Resolution {
	d := r.drugs[idx]
	res.Canonical = d.Name
	res.Classes = append([]string{}, d.Classes...)
	res.ACB = d.ACB
	res.Classified = true
	res.Match = match
	return res
}

// ResolveHerb maps a herb name or alias onto the herb table.
func (r *Repository) ResolveHerb(name string) (Herb, bool) {
	key := NormalizeName(name)
	if key == "" {
		return Herb{}, false
	}
	if idx, ok := r.herbIndex[key]; ok {
		return r.herbs[idx], true
	}
	if idx, ok := lookupTokens(r.herbIndex, key); ok {
		return r.herbs[idx], true
	}
	if idx, ok := lookupFuzzy(r.herbIndex, r.herbKeys, key); ok {
		return r.herbs[idx], true
	}
	return Herb{}, false
}

// lookupTokens tries each word and each adjacent word pair of a multi-word
// name, so "metformin hydrochloride" resolves through "metformin".
func lookupTokens(index map[string]int, key string) (int, bool) {
	words := strings.Fields(key)
	if len(words) < 2 {
		return 0, false
	}
	for i := 0; i+1 < len(words); i++ {
		if idx, ok := index[words[i]+" "+words[i+1]]; ok {
			return idx, true
		}
	}
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if idx, ok := index[w]; ok {
			return idx, true
		}
	}
	return 0, false
}

// lookupFuzzy accepts one edit for names of six or more characters and two
// for nine or more. Ties go to the alphabetically first key.
func lookupFuzzy(index map[string]int, keys []string, key string) (int, bool) {
	budget := 0
	switch n := len([]rune(key)); {
	case n >= 9:
		budget = 2
	case n >= 6:
		budget = 1
	}
	if budget == 0 {
		return 0, false
	}

	best, bestDist := "", budget+1
	for _, k := range keys {
		if abs(len(k)-len(key)) > budget {
			continue
		}
		if d := editDistance(key, k, budget); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return 0, false
	}
	return index[best], true
}

// editDistance is the Levenshtein distance, abandoning early once every cell
// of a row exceeds limit.
func editDistance(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
