package main

import "math"

// ReasoningView is what the reasoning panel renders.
type ReasoningView struct {
	Reasoning  string  `json:"currentReasoning"`
	Confidence float64 `json:"confidence"`
}

// Percent returns the confidence as an integer percentage.
func (v ReasoningView) Percent() int {
	return int(math.Round(v.Confidence * 100))
}

// clampConfidence keeps a score inside [0,1]. NaN reads as 0.
func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
