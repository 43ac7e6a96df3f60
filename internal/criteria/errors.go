package criteria

import (
	"fmt"
	"strings"
)

// DataIntegrityError reports malformed criteria tables. It is fatal at
// startup: an engine with broken rules must not serve requests.
type DataIntegrityError struct {
	Source   string
	Problems []string
}

func (e *DataIntegrityError) Error() string {
	src := e.Source
	if src == "" {
		src = "dataset"
	}
	return fmt.Sprintf("criteria data integrity (%s): %d problem(s): %s",
		src, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *DataIntegrityError) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}
