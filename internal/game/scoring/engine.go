package scoring

import "math"

// Config holds configurable scoring constants (defaults match requirements).
type Config struct {
	BasePoints    int                // default: 1000
	MaxSpeedBonus int                // default: 500 (full when instant, fades to 0 at the time limit)
	StreakStep    int                // default: 100 per consecutive correct answer held before this one
	Multipliers   map[string]float64 // difficulty -> multiplier, unknown difficulties use 1.0
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BasePoints:    1000,
		MaxSpeedBonus: 500,
		StreakStep:    100,
		Multipliers: map[string]float64{
			"easy":      0.8,
			"medium":    1.0,
			"hard":      1.3,
			"very_hard": 1.5,
			"fun":       0.5,
		},
	}
}

// Engine computes server-side points with configurable constants.
type Engine struct {
	config Config
}

// NewEngine creates a scoring engine with the provided config.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Points computes points for a single answer.
// Formula: floor((base + speed_bonus + streak_bonus) * multiplier)
// - speed_bonus: max when answered instantly, decays linearly to 0 at the time limit
// - streak_bonus: StreakStep per consecutive correct answer held before this one
// - multiplier: by difficulty, 1.0 when the difficulty is unknown
// Wrong answers always score zero. timeTaken may exceed the limit (late or
// capped clients); such answers keep the base points and lose the bonus.
func (e *Engine) Points(correct bool, timeTaken float64, timeLimit int, streakBefore int, difficulty string) int {
	if !correct {
		return 0
	}

	// The speed bonus is computed in integer milliseconds. Clients report
	// decimal seconds, and flooring the float ratio directly can land one
	// point short on exact boundaries (18s of a 20s limit is 50, not 49).
	speedBonus := 0
	if timeLimit > 0 && timeTaken < float64(timeLimit) {
		takenMs := int(math.Round(timeTaken * 1000))
		if takenMs < 0 {
			takenMs = 0
		}
		limitMs := timeLimit * 1000
		speedBonus = e.config.MaxSpeedBonus * (limitMs - takenMs) / limitMs
	}

	streakBonus := streakBefore * e.config.StreakStep

	multiplier, ok := e.config.Multipliers[difficulty]
	if !ok {
		multiplier = 1.0
	}

	return int(math.Floor(float64(e.config.BasePoints+speedBonus+streakBonus) * multiplier))
}
