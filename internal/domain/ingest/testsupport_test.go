package ingest

import "time"

// mustTime builds a deterministic, strictly increasing timestamp for
// ordering assertions without depending on wall-clock time.
func mustTime(offsetSeconds int64) time.Time {
	return time.Unix(1_700_000_000+offsetSeconds, 0).UTC()
}
