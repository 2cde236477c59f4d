// Package elo implements the symmetric rating update applied once per ranked
// terminal game.
package elo

import "math"

// KFactor is the fixed adjustment weight.
const KFactor = 32.0

// ExpectedScore is the classic Elo expectation:
// 1 / (1 + 10^((opponent-rating)/400)).
func ExpectedScore(rating, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-rating)/400.0))
}

// NewRating rounds rating + K*(score-expected).
func NewRating(rating, opponent int, score float64) int {
	return int(math.Round(float64(rating) + KFactor*(score-ExpectedScore(rating, opponent))))
}

// Scores maps a game result to (whiteScore, blackScore). The second return
// is false for termination reasons that carry no rating change.
func Scores(result string) (float64, float64, bool) {
	switch result {
	case "white-wins":
		return 1, 0, true
	case "black-wins":
		return 0, 1, true
	case "draw":
		return 0.5, 0.5, true
	default:
		return 0, 0, false
	}
}
