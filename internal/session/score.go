package session

import "math"

// Optimal speaking pace band in words per minute. The same band is applied
// to every language.
const (
	OptimalPaceMin = 150.0
	OptimalPaceMax = 180.0
)

// FillerPenaltyPerWord is subtracted from the overall score per filler word.
const FillerPenaltyPerWord = 2.0

// MaxFillerPenalty caps the filler penalty.
const MaxFillerPenalty = 50.0

// PaceScore maps words per minute to [0, 100]: 100 inside the optimal band,
// falling linearly to 0 at 0 wpm below it and decaying at half that rate
// above it.
func PaceScore(wpm float64) float64 {
	switch {
	case wpm <= 0 || math.IsNaN(wpm):
		return 0
	case wpm < OptimalPaceMin:
		return clampScore(wpm / OptimalPaceMin * 100)
	case wpm <= OptimalPaceMax:
		return 100
	default:
		over := (wpm - OptimalPaceMax) / OptimalPaceMin * 100
		return clampScore(100 - over/2)
	}
}

// PerformanceScore is the mean of pace score, confidence and clarity.
func PerformanceScore(m Metrics) float64 {
	return (PaceScore(m.PaceWPM) + m.Confidence + m.Clarity) / 3
}

// OverallScore is the performance score minus the capped filler penalty,
// clamped to [0, 100].
func OverallScore(m Metrics) float64 {
	penalty := min(float64(m.FillerCount)*FillerPenaltyPerWord, MaxFillerPenalty)
	return clampScore(PerformanceScore(m) - penalty)
}

var gradeBands = []struct {
	min   float64
	grade string
}{
	{97, "A+"},
	{93, "A"},
	{90, "A-"},
	{87, "B+"},
	{83, "B"},
	{80, "B-"},
	{77, "C+"},
	{73, "C"},
	{70, "C-"},
	{60, "D"},
}

// Grade maps a score in [0, 100] onto the eleven letter bands F through A+.
func Grade(score float64) string {
	for _, b := range gradeBands {
		if score >= b.min {
			return b.grade
		}
	}
	return "F"
}
