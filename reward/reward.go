// Package reward holds the pure scoring rules: no I/O, no clocks, every
// function is a plain computation over its arguments.
package reward

import "math"

const (
	// FirstDeferPenalty and SecondDeferPenalty are the cumulative reward
	// cuts for the two allowed postpones (-20% / -40%).
	FirstDeferPenalty  = 0.20
	SecondDeferPenalty = 0.20

	// MissPenaltyMultiplier scales the penalty for blowing a reservation
	// deadline relative to the task's base points.
	MissPenaltyMultiplier = 1

	// FirstTakerBonus is the flat bonus for claiming a task that has never
	// been attempted before.
	FirstTakerBonus = 1

	// MaxSkipPenalty caps the escalating deferral penalty.
	MaxSkipPenalty = 5
)

// ForCompletion returns the points awarded for an approved task: the frozen
// effective points reduced by the deferral percentage, floored, never below
// zero. Monotonically non-increasing in deferralsUsed.
func ForCompletion(effectivePoints, deferralsUsed int) int {
	pct := 0.0
	if deferralsUsed >= 1 {
		pct += FirstDeferPenalty
	}
	if deferralsUsed >= 2 {
		pct += SecondDeferPenalty
	}
	v := int(math.Floor(float64(effectivePoints) * (1 - pct)))
	if v < 0 {
		return 0
	}
	return v
}

// MissedPenalty is the (negative) score delta for letting a reservation
// deadline pass.
func MissedPenalty(basePoints, multiplier int) int {
	v := basePoints * multiplier
	if v < 0 {
		v = -v
	}
	return -v
}

// PenaltyForSkip returns the escalating cost of deferring at the given
// level, capped at MaxSkipPenalty.
func PenaltyForSkip(level int) int {
	if level <= 0 {
		return 0
	}
	if level > MaxSkipPenalty {
		return MaxSkipPenalty
	}
	return level
}

// BonusForFirstTaker rewards claiming a task nobody has attempted yet.
func BonusForFirstTaker(isFirst bool) int {
	if isFirst {
		return FirstTakerBonus
	}
	return 0
}

// CalcEffectivePoints applies the adaptive coefficient, clamped to
// [minCoeff, maxCoeff], to a template's base points. Runs once per generated
// instance; the result is a frozen snapshot.
func CalcEffectivePoints(basePoints int, coeff, minCoeff, maxCoeff float64) int {
	if coeff < minCoeff {
		coeff = minCoeff
	}
	if coeff > maxCoeff {
		coeff = maxCoeff
	}
	v := int(math.Round(float64(basePoints) * coeff))
	if v < 1 {
		return 1
	}
	return v
}
