package session

import (
	"math"
	"testing"
)

func TestPaceScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wpm  float64
		want float64
	}{
		{0, 0},
		{-5, 0},
		{75, 50},
		{150, 100},
		{165, 100},
		{180, 100},
		{330, 50},
		{480, 0},
		{1000, 0},
	}
	for _, tt := range tests {
		if got := PaceScore(tt.wpm); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PaceScore(%v) = %v, want %v", tt.wpm, got, tt.want)
		}
	}
}

func TestPerformanceAndOverallScore(t *testing.T) {
	t.Parallel()
	m := Metrics{PaceWPM: 160, Confidence: 80, Clarity: 90}
	if got := PerformanceScore(m); math.Abs(got-90) > 1e-9 {
		t.Errorf("PerformanceScore = %v, want 90", got)
	}
	m.FillerCount = 5
	if got := OverallScore(m); math.Abs(got-80) > 1e-9 {
		t.Errorf("OverallScore with 5 fillers = %v, want 80", got)
	}
	m.FillerCount = 500
	if got := OverallScore(m); math.Abs(got-40) > 1e-9 {
		t.Errorf("OverallScore penalty not capped: %v, want 40", got)
	}
	if got := OverallScore(Metrics{FillerCount: 10}); got != 0 {
		t.Errorf("OverallScore not clamped at 0: %v", got)
	}
}

func TestGrade(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score float64
		want  string
	}{
		{100, "A+"}, {97, "A+"}, {96.9, "A"}, {93, "A"}, {91, "A-"},
		{88, "B+"}, {85, "B"}, {80, "B-"}, {78, "C+"}, {75, "C"},
		{70, "C-"}, {65, "D"}, {59.9, "F"}, {0, "F"},
	}
	seen := map[string]bool{}
	for _, tt := range tests {
		got := Grade(tt.score)
		if got != tt.want {
			t.Errorf("Grade(%v) = %q, want %q", tt.score, got, tt.want)
		}
		seen[got] = true
	}
	if len(seen) != 11 {
		t.Errorf("saw %d distinct grades, want 11", len(seen))
	}
}
