// Package refresh drives multi-period data refreshes: validated scope,
// audited mode decisions, archive acquisition, and ingestion per period.
package refresh

import (
	"strconv"

	"github.com/rotisserie/eris"
)

// Mode selects how much of a period's data a refresh rewrites.
type Mode string

const (
	// ModeFull re-ingests every record in scope.
	ModeFull Mode = "full"
	// ModeIncremental ingests only records newer than the last refresh.
	ModeIncremental Mode = "incremental"
)

// maxIncrementalSpan is the widest period range an incremental refresh may
// cover without an emergency override. Wide incremental runs silently miss
// late corrections, so they need an explicit operator decision.
const maxIncrementalSpan = 3

// Scope describes one refresh run's extent and the operator's reasoning.
type Scope struct {
	PeriodStart       int    `json:"period_start"`
	PeriodEnd         int    `json:"period_end"`
	Mode              Mode   `json:"mode"`
	Rationale         string `json:"rationale"`
	EmergencyOverride bool   `json:"emergency_override"`
}

// Validate checks the scope synchronously with no I/O, so a bad scope is
// rejected before any network or disk activity.
func (s Scope) Validate() error {
	if s.Rationale == "" {
		return eris.New("refresh: scope rationale must not be empty")
	}
	if s.PeriodStart > s.PeriodEnd {
		return eris.Errorf("refresh: period start %d after end %d", s.PeriodStart, s.PeriodEnd)
	}
	switch s.Mode {
	case ModeFull, ModeIncremental:
	default:
		return eris.Errorf("refresh: unknown mode %q", s.Mode)
	}
	if s.Mode == ModeIncremental && s.span() > maxIncrementalSpan && !s.EmergencyOverride {
		return eris.Errorf(
			"refresh: incremental refresh spanning %d periods exceeds the limit of %d; pass an emergency override to proceed",
			s.span(), maxIncrementalSpan)
	}
	return nil
}

// Periods enumerates the period ids covered by the scope, in order.
func (s Scope) Periods() []string {
	periods := make([]string, 0, s.span())
	for p := s.PeriodStart; p <= s.PeriodEnd; p++ {
		periods = append(periods, strconv.Itoa(p))
	}
	return periods
}

func (s Scope) span() int {
	return s.PeriodEnd - s.PeriodStart + 1
}
