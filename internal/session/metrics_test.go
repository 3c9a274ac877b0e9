package session

import (
	"math"
	"testing"
	"time"
)

func TestTokenize(t *testing.T) {
	t.Parallel()
	got := Tokenize("Well, I don't know... Um, maybe?")
	want := []string{"well", "i", "don't", "know", "um", "maybe"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCountFillers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		lang string
		want int
	}{
		{"none", "The invoice was sent on Monday", "en", 0},
		{"plain", "um I uh need the report", "en", 2},
		{"elongated", "ummm uhhh hmmmm", "en", 3},
		{"phrase", "it was, you know, sort of late", "en-US", 2},
		{"misspelt", "basicly we are done", "en", 1},
		{"indonesian", "eh jadi gitu, apa namanya", "id", 4},
		{"indonesian region tag", "anu", "id-ID", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountFillers(Tokenize(tt.text), tt.lang); got != tt.want {
				t.Errorf("CountFillers(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTracker_PaceFromSpeechDuration(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTracker("en", start)

	// 20 words over 8 seconds of measured speech = 150 wpm.
	text := "we shipped the order on friday and it should arrive before the weekend so please keep an eye on tracking"
	m := tr.Observe(text, 8*time.Second, start.Add(time.Minute))
	if m.WordCount != 20 {
		t.Fatalf("WordCount = %d, want 20", m.WordCount)
	}
	if math.Abs(m.PaceWPM-150) > 1e-9 {
		t.Errorf("PaceWPM = %v, want 150", m.PaceWPM)
	}
	if m.DurationSeconds != 60 {
		t.Errorf("DurationSeconds = %v, want 60", m.DurationSeconds)
	}
}

func TestTracker_PaceFallsBackToWallClock(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	tr := NewTracker("en", start)
	m := tr.Observe("one two three four five six", 0, start.Add(3*time.Second))
	if math.Abs(m.PaceWPM-120) > 1e-9 {
		t.Errorf("PaceWPM = %v, want 120", m.PaceWPM)
	}
}

func TestTracker_ConfidenceAndClarity(t *testing.T) {
	t.Parallel()
	start := time.Now()
	clean := NewTracker("en", start).Observe("I will send the signed contract this afternoon.", time.Second, start)
	hedgy := NewTracker("en", start).Observe("um maybe I I think uh perhaps", time.Second, start)

	if clean.Confidence != 100 || clean.Clarity != 100 {
		t.Errorf("clean utterance scored confidence %v clarity %v", clean.Confidence, clean.Clarity)
	}
	if hedgy.Confidence >= clean.Confidence {
		t.Errorf("hedging did not lower confidence: %v", hedgy.Confidence)
	}
	if hedgy.Clarity >= clean.Clarity {
		t.Errorf("fillers and repetition did not lower clarity: %v", hedgy.Clarity)
	}
	for _, v := range []float64{hedgy.Confidence, hedgy.Clarity} {
		if v < 0 || v > 100 {
			t.Errorf("score %v outside [0, 100]", v)
		}
	}
}

func TestTracker_SnapshotEmpty(t *testing.T) {
	t.Parallel()
	start := time.Now()
	m := NewTracker("en", start).Snapshot(start)
	if m.PaceWPM != 0 || m.Confidence != 0 || m.WordCount != 0 {
		t.Errorf("empty snapshot = %+v", m)
	}
}
