// Package flowcontrol implements the ingest-side throttle: a rate limiter
// that imposes a per-event sleep once the local slave queue passes a soft
// limit and refuses ingestion above a hard limit. Implemented as a pure
// function of (queue_size, hard_limit, soft_limit, max_throttle,
// time_since_last_reset): no hidden state, no measured-rate estimation, a
// linear interpolation between soft and hard limit driven directly by the
// caller-supplied time_since_last_reset.
package flowcontrol

import (
	"time"
)

// Outcome is the result of Process.
type Outcome struct {
	// SleepNs is the duration to sleep before accepting the next event.
	// Zero when below the soft limit.
	SleepNs int64
	// Eternity reports whether ingestion should stop indefinitely
	// (hard limit hit, MaxThrottle == 0: total service outage accepted).
	Eternity bool
	// OutOfMemory reports whether the hard limit was hit with MaxThrottle
	// > 0: the caller must refuse ingestion and surface an error.
	OutOfMemory bool
}

// minRateFactor floors the computed throttle factor to avoid a divide by
// zero as queueSize approaches HardLimit with MaxThrottle == 0 handled
// separately above this point.
const minRateFactor = 1e-6

// Process computes the throttle decision for a newly queued event.
// hardLimit and softLimit are absolute
// byte thresholds (softLimit < hardLimit); maxThrottle is the minimum
// fraction of nominal throughput permitted at the hard limit, in [0, 1).
func Process(queueSize, hardLimit, softLimit int64, maxThrottle float64, timeSinceLastReset time.Duration) Outcome {
	switch {
	case queueSize <= softLimit:
		return Outcome{}
	case queueSize >= hardLimit:
		if maxThrottle == 0.0 {
			return Outcome{Eternity: true}
		}
		return Outcome{OutOfMemory: true}
	}

	span := hardLimit - softLimit
	if span <= 0 {
		// Degenerate configuration: treat as already at the hard limit.
		if maxThrottle == 0.0 {
			return Outcome{Eternity: true}
		}
		return Outcome{OutOfMemory: true}
	}

	fraction := float64(queueSize-softLimit) / float64(span)
	rateFactor := 1.0 - fraction*(1.0-maxThrottle)
	if rateFactor < minRateFactor {
		rateFactor = minRateFactor
	}

	sleep := float64(timeSinceLastReset.Nanoseconds()) * (1.0/rateFactor - 1.0)
	if sleep < 0 {
		sleep = 0
	}
	return Outcome{SleepNs: int64(sleep)}
}
