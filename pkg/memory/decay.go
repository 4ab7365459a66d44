package memory

import (
	"math"
	"time"
)

const (
	// DecayTau is the time constant of the forgetting curve, in hours.
	DecayTau = 24.0

	// DefaultPruneMaxAgeHours is the age beyond which unreviewed, faded
	// episodes are pruned.
	DefaultPruneMaxAgeHours = 168.0

	// pruneDecayThreshold is the decay factor below which an old episode
	// counts as forgotten.
	pruneDecayThreshold = 0.1
)

func defaultClock() time.Time {
	return time.Now().UTC()
}

// AgeHours returns the age of ep at now, in hours.
func AgeHours(ep *Episode, now time.Time) float64 {
	return now.Sub(ep.Timestamp).Hours()
}

// DecayFactor applies the forgetting curve: e^(-age/τ) * importance.
// It is always computed on demand.
func DecayFactor(ep *Episode, now time.Time) float64 {
	return math.Exp(-AgeHours(ep, now)/DecayTau) * ep.Importance
}

// ShouldConsolidate reports whether ep is eligible for a consolidation pass:
// important and already reviewed twice, a clear emotional success older than
// an hour, or reviewed at least three times.
func ShouldConsolidate(ep *Episode, now time.Time) bool {
	if ep.Importance > 0.7 && ep.ConsolidationCount >= 2 {
		return true
	}
	if ep.Success && math.Abs(ep.EmotionalValence) > 0.5 && AgeHours(ep, now) > 1 {
		return true
	}
	return ep.ConsolidationCount >= 3
}

// prunable reports whether ep is old, faded and never reviewed.
func prunable(ep *Episode, now time.Time, maxAgeHours float64) bool {
	if ep.ConsolidationCount != 0 {
		return false
	}
	return AgeHours(ep, now) > maxAgeHours && DecayFactor(ep, now) < pruneDecayThreshold
}
