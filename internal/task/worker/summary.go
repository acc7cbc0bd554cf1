package worker

import (
	"fmt"
	"strconv"
)

// Summary counts the outcome of a worker's units of work. Counters are only
// mutated through the owning *Worker; a Summary value is a read-only copy.
type Summary struct {
	success int
	failed  int
	ignored int
}

func (s Summary) Success() int { return s.success }
func (s Summary) Failed() int  { return s.failed }
func (s Summary) Ignored() int { return s.ignored }
func (s Summary) Total() int   { return s.success + s.failed + s.ignored }

// Add returns the sum of s and o.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		success: s.success + o.success,
		failed:  s.failed + o.failed,
		ignored: s.ignored + o.ignored,
	}
}

// Strings returns [success, ignored, failed] for tabular reports.
func (s Summary) Strings() []string {
	return []string{strconv.Itoa(s.success), strconv.Itoa(s.ignored), strconv.Itoa(s.failed)}
}

func (s Summary) String() string {
	return fmt.Sprintf("success=%d ignored=%d failed=%d", s.success, s.ignored, s.failed)
}
