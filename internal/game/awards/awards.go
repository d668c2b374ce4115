// Package awards computes the end-of-game award set from a session's
// players and their recorded answers. One player can take several awards;
// an award nobody qualifies for is simply absent from the result.
package awards

import (
	"fmt"
	"math"
	"time"
)

// Award keys as they appear in the game_over payload.
const (
	KeyFastest    = "fastest"
	KeyAccurate   = "accurate"
	KeyClutch     = "clutch"
	KeyStrategist = "strategist"
	KeyLucky      = "lucky"
)

// Qualification thresholds.
const (
	fastestMaxAvg       = 3.0  // mean correct-answer time, seconds
	accurateMinAccuracy = 0.85 // correct / answered
	clutchWindow        = 3.0  // seconds left on the timer
	clutchMinCount      = 2
	strategistMinStreak = 5
	luckyMinCount       = 2
	luckyMinTime        = 15.0 // seconds spent on a hard question
)

// Player is the award-relevant slice of a session participant.
type Player struct {
	ID        int64
	Name      string
	MaxStreak int
	JoinedAt  time.Time
}

// Answer is one recorded answer with its question's effective time limit.
type Answer struct {
	PlayerID   int64
	IsCorrect  bool
	TimeTaken  float64
	Difficulty string
	TimeLimit  int
}

// Award is a single granted award.
type Award struct {
	PlayerID    int64
	Name        string
	Emoji       string
	Value       float64
	Description string
}

type candidate struct {
	player Player
	metric float64
}

// pick returns the best candidate, smaller metrics winning when smallerWins
// is set. Ties go to the earliest joined player.
func pick(candidates []candidate, smallerWins bool) (candidate, bool) {
	if len(candidates) == 0 {
		return candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		better := c.metric > best.metric
		if smallerWins {
			better = c.metric < best.metric
		}
		if better || (c.metric == best.metric && c.player.JoinedAt.Before(best.player.JoinedAt)) {
			best = c
		}
	}
	return best, true
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Calculate evaluates every award over the session's players and answers.
func Calculate(players []Player, answers []Answer) map[string]Award {
	byPlayer := make(map[int64][]Answer, len(players))
	for _, a := range answers {
		byPlayer[a.PlayerID] = append(byPlayer[a.PlayerID], a)
	}

	results := make(map[string]Award)

	// ⚡ Fastest: lowest mean time across correct answers, under the threshold.
	var fastest []candidate
	for _, p := range players {
		var sum float64
		var n int
		for _, a := range byPlayer[p.ID] {
			if a.IsCorrect {
				sum += a.TimeTaken
				n++
			}
		}
		if n == 0 {
			continue
		}
		if avg := sum / float64(n); avg < fastestMaxAvg {
			fastest = append(fastest, candidate{player: p, metric: avg})
		}
	}
	if winner, ok := pick(fastest, true); ok {
		value := roundTo(winner.metric, 2)
		results[KeyFastest] = Award{
			PlayerID:    winner.player.ID,
			Name:        winner.player.Name,
			Emoji:       "⚡",
			Value:       value,
			Description: fmt.Sprintf("Average speed: %.2fs", value),
		}
	}

	// 🎯 Accurate: highest share of correct answers, at or above the threshold.
	var accurate []candidate
	for _, p := range players {
		answered := byPlayer[p.ID]
		if len(answered) == 0 {
			continue
		}
		correct := 0
		for _, a := range answered {
			if a.IsCorrect {
				correct++
			}
		}
		if acc := float64(correct) / float64(len(answered)); acc >= accurateMinAccuracy {
			accurate = append(accurate, candidate{player: p, metric: acc})
		}
	}
	if winner, ok := pick(accurate, false); ok {
		value := roundTo(winner.metric*100, 1)
		results[KeyAccurate] = Award{
			PlayerID:    winner.player.ID,
			Name:        winner.player.Name,
			Emoji:       "🎯",
			Value:       value,
			Description: fmt.Sprintf("Accuracy: %.1f%%", value),
		}
	}

	// 🔥 Clutch: most correct answers landed in the timer's final seconds.
	var clutch []candidate
	for _, p := range players {
		count := 0
		for _, a := range byPlayer[p.ID] {
			if a.IsCorrect && a.TimeTaken >= float64(a.TimeLimit)-clutchWindow {
				count++
			}
		}
		if count >= clutchMinCount {
			clutch = append(clutch, candidate{player: p, metric: float64(count)})
		}
	}
	if winner, ok := pick(clutch, false); ok {
		results[KeyClutch] = Award{
			PlayerID:    winner.player.ID,
			Name:        winner.player.Name,
			Emoji:       "🔥",
			Value:       winner.metric,
			Description: fmt.Sprintf("Clutch answers: %d", int(winner.metric)),
		}
	}

	// 🧠 Strategist: longest correct streak of the game.
	var strategist []candidate
	for _, p := range players {
		if p.MaxStreak >= strategistMinStreak {
			strategist = append(strategist, candidate{player: p, metric: float64(p.MaxStreak)})
		}
	}
	if winner, ok := pick(strategist, false); ok {
		results[KeyStrategist] = Award{
			PlayerID:    winner.player.ID,
			Name:        winner.player.Name,
			Emoji:       "🧠",
			Value:       winner.metric,
			Description: fmt.Sprintf("Max streak: %d", int(winner.metric)),
		}
	}

	// 🎲 Lucky: most slow-but-correct answers on hard questions.
	var lucky []candidate
	for _, p := range players {
		count := 0
		for _, a := range byPlayer[p.ID] {
			if a.IsCorrect && (a.Difficulty == "hard" || a.Difficulty == "very_hard") && a.TimeTaken > luckyMinTime {
				count++
			}
		}
		if count >= luckyMinCount {
			lucky = append(lucky, candidate{player: p, metric: float64(count)})
		}
	}
	if winner, ok := pick(lucky, false); ok {
		results[KeyLucky] = Award{
			PlayerID:    winner.player.ID,
			Name:        winner.player.Name,
			Emoji:       "🎲",
			Value:       winner.metric,
			Description: fmt.Sprintf("Lucky answers: %d", int(winner.metric)),
		}
	}

	return results
}
