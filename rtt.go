package tftp

import "time"

// TIMEOUT_MIN and TIMEOUT_MAX clamp the EWMA round-trip estimate
// (spec §3, §4.C).
const (
	timeoutMin = 2 * time.Millisecond
	timeoutMax = 200 * time.Millisecond
)

// maxRetries bounds retransmission of any single datagram (spec §4.E,
// §8 invariant 7).
const maxRetries = 5

// statistics tracks the EWMA round-trip estimate for one transfer
// (spec §3's Statistics entity).
type statistics struct {
	startTime time.Time
	avgRTT    time.Duration
}

// newStatistics returns Statistics with avg_rtt initialized to
// TIMEOUT_MAX, per spec §3.
func newStatistics(now time.Time) statistics {
	return statistics{startTime: now, avgRTT: timeoutMax}
}

// update folds a new round-trip sample into the EWMA estimate and
// resets the measurement window, matching the original's
// update_statistics (original_source/tftp_session_impl.hpp):
//
//	avg' = clamp(avg*3/4 + rtt/4, MIN, MAX)
func (s *statistics) update(now time.Time) time.Duration {
	rtt := now.Sub(s.startTime)
	avg := s.avgRTT*3/4 + rtt/4
	if avg < timeoutMin {
		avg = timeoutMin
	}
	if avg > timeoutMax {
		avg = timeoutMax
	}
	s.avgRTT = avg
	s.startTime = now
	return avg
}
