package trust

import (
	"math"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
)

// Tier band lower bounds. A score belongs to the highest band whose
// lower bound it reaches.
const (
	RestrictedMin = 20.0
	StandardMin   = 40.0
	TrustedMin    = 60.0
	PrivilegedMin = 80.0

	MaxScore = 100.0
)

// TierForScore maps a score to its tier band. Total and monotonic.
func TierForScore(score float64) model.TrustTier {
	switch {
	case score >= PrivilegedMin:
		return model.TierPrivileged
	case score >= TrustedMin:
		return model.TierTrusted
	case score >= StandardMin:
		return model.TierStandard
	case score >= RestrictedMin:
		return model.TierRestricted
	default:
		return model.TierUntrusted
	}
}

// Weights are the per-unit rates and caps of the scoring formula.
type Weights struct {
	AgePerDay        float64 `yaml:"age_per_day"`
	AgeMax           float64 `yaml:"age_max"`
	SuccessPerAction float64 `yaml:"success_per_action"`
	SuccessMax       float64 `yaml:"success_max"`
	ViolationPenalty float64 `yaml:"violation_penalty"`
	StreakPerSuccess float64 `yaml:"streak_per_success"`
	StreakMax        float64 `yaml:"streak_max"`
}

// DefaultWeights returns the built-in scoring weights.
func DefaultWeights() Weights {
	return Weights{
		AgePerDay:        0.5,
		AgeMax:           20,
		SuccessPerAction: 0.1,
		SuccessMax:       30,
		ViolationPenalty: -2,
		StreakPerSuccess: 0.3,
		StreakMax:        20,
	}
}

// Signals are the counters the score is derived from.
type Signals struct {
	SuccessCount     int     `json:"successCount"`
	ViolationCount   int     `json:"violationCount"`
	AgeDays          float64 `json:"ageDays"`
	CleanStreak      int     `json:"cleanStreak"`
	ManualAdjustment float64 `json:"manualAdjustment"`
}

// organic returns the formula total without the manual adjustment term.
func (w Weights) organic(s Signals) float64 {
	age := math.Min(s.AgeDays*w.AgePerDay, w.AgeMax)
	success := math.Min(float64(s.SuccessCount)*w.SuccessPerAction, w.SuccessMax)
	streak := math.Min(float64(s.CleanStreak)*w.StreakPerSuccess, w.StreakMax)
	violations := float64(s.ViolationCount) * w.ViolationPenalty
	return age + success + streak + violations
}

// Score evaluates the formula and clamps it to [floor, 100].
// The sum is rounded to six decimals so back-solved adjustments reproduce
// their target exactly.
func (w Weights) Score(s Signals, floor float64) float64 {
	return Clamp(round6(w.organic(s)+s.ManualAdjustment), floor)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// AdjustmentFor solves for the manual adjustment that makes Score return target.
func (w Weights) AdjustmentFor(s Signals, target float64) float64 {
	return target - w.organic(s)
}

// Clamp bounds a score to [floor, 100]. The floor itself is bounded to [0, 100].
func Clamp(score, floor float64) float64 {
	floor = math.Max(0, math.Min(floor, MaxScore))
	if math.IsNaN(score) {
		return floor
	}
	return math.Max(floor, math.Min(score, MaxScore))
}
