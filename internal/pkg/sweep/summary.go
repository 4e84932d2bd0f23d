// Package sweep holds the result type shared by the periodic passes.
package sweep

import "fmt"

// Summary counts what a pass did. Errors counts items that failed and will
// be picked up again by the next run.
type Summary struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// Merge adds the counters of other to s.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Sent += other.Sent
	s.Skipped += other.Skipped
	s.Errors += other.Errors
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: processed=%d sent=%d skipped=%d errors=%d", s.Job, s.Processed, s.Sent, s.Skipped, s.Errors)
}
