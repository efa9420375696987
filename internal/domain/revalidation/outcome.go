package revalidation

// Outcome is the result of re-validating a single record.
type Outcome int

const (
	// OutcomeUnchanged means the record is still valid and nothing was done.
	OutcomeUnchanged Outcome = iota
	// OutcomeRevoked means the record was invalidated and removed.
	OutcomeRevoked
	// OutcomeError means decoding or validation failed for the record.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRevoked:
		return "revoked"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// ScanStats tallies record level work for one or more entity scans.
type ScanStats struct {
	// RecordsChecked counts records that decoded and reached the validator,
	// including those whose validation errored.
	RecordsChecked int
	Revoked        int
	Errored        int
	// Skipped counts keys that were filtered out or failed to decode.
	Skipped int
	// TimedOut is set when the per-entity time box cut the scan short.
	TimedOut bool
}

// Record tallies a single validation outcome.
func (s *ScanStats) Record(o Outcome) {
	s.RecordsChecked++
	switch o {
	case OutcomeRevoked:
		s.Revoked++
	case OutcomeError:
		s.Errored++
	}
}

// Add folds other into s.
func (s *ScanStats) Add(other ScanStats) {
	s.RecordsChecked += other.RecordsChecked
	s.Revoked += other.Revoked
	s.Errored += other.Errored
	s.Skipped += other.Skipped
	s.TimedOut = s.TimedOut || other.TimedOut
}
