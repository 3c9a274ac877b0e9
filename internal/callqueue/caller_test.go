package callqueue

import (
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 1))
}

func TestDifficulty(t *testing.T) {
	tests := []struct {
		name                     string
		i, length, curve, jitter int
		want                     int
	}{
		{"flat curve start", 0, 5, 0, 0, 1},
		{"flat curve end", 4, 5, 0, 0, 1},
		{"steep curve start", 0, 5, 100, 0, 1},
		{"steep curve middle", 2, 5, 100, 0, 3},
		{"steep curve end", 4, 5, 100, 0, 5},
		{"half curve end", 4, 5, 50, 0, 3},
		{"jitter clamps low", 0, 5, 100, -1, 1},
		{"jitter clamps high", 4, 5, 100, 1, 5},
		{"single caller", 0, 1, 100, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Difficulty(tt.i, tt.length, tt.curve, tt.jitter); got != tt.want {
				t.Errorf("Difficulty(%d, %d, %d, %d) = %d, want %d",
					tt.i, tt.length, tt.curve, tt.jitter, got, tt.want)
			}
		})
	}
}

func TestGenerateQueue_SteepCurveNoVoices(t *testing.T) {
	for seed := range uint64(50) {
		callers := GenerateQueue(5, 100, nil, "en", seeded(seed))
		if len(callers) != 5 {
			t.Fatalf("seed %d: got %d callers, want 5", seed, len(callers))
		}
		for i, c := range callers {
			if c.Difficulty < MinDifficulty || c.Difficulty > MaxDifficulty {
				t.Fatalf("seed %d: caller %d difficulty %d outside [1,5]", seed, i, c.Difficulty)
			}
			if i > 0 && c.Difficulty < callers[i-1].Difficulty {
				t.Fatalf("seed %d: difficulty decreased at %d: %v", seed, i, callers)
			}
			if c.Position != i || c.Name == "" || c.Mood == "" {
				t.Fatalf("seed %d: incomplete caller %+v", seed, c)
			}
		}
	}
}

func TestGenerateQueue_DifficultyGrowsWithCurve(t *testing.T) {
	const runs = 400
	mean := func(curve int) float64 {
		rng := seeded(7)
		var sum int
		for range runs {
			sum += GenerateQueue(5, curve, nil, "en", rng)[3].Difficulty
		}
		return float64(sum) / runs
	}
	prev := 0.0
	for _, curve := range []int{0, 25, 50, 75, 100} {
		m := mean(curve)
		if m < prev {
			t.Errorf("mean difficulty at curve %d = %.2f, below %.2f at the previous curve", curve, m, prev)
		}
		prev = m
	}
}

func TestGenerateQueue_VoicesRoundRobin(t *testing.T) {
	voices := []tts.VoiceProfile{
		{ID: "a", Name: "Rachel"},
		{ID: "b", Name: "Adam"},
	}
	callers := GenerateQueue(5, 50, voices, "en", seeded(3))

	counts := map[string]int{}
	for i, c := range callers {
		counts[c.Voice.ID]++
		if i >= 2 && c.Voice.ID != callers[i-2].Voice.ID {
			t.Errorf("caller %d voice %q, want repeat of caller %d (%q)", i, c.Voice.ID, i-2, callers[i-2].Voice.ID)
		}
		want := GenderFemale
		if c.Voice.ID == "b" {
			want = GenderMale
		}
		if c.Gender != want {
			t.Errorf("caller %d with voice %s has gender %q, want %q", i, c.Voice.Name, c.Gender, want)
		}
	}
	if counts["a"]+counts["b"] != 5 || counts["a"] < 2 || counts["b"] < 2 {
		t.Errorf("voice distribution = %v", counts)
	}
}

func TestGenerateQueue_VoiceCarriesMood(t *testing.T) {
	voices := []tts.VoiceProfile{{ID: "a", Name: "Rachel", Metadata: map[string]string{"accent": "british"}}}
	callers := GenerateQueue(3, 80, voices, "en", seeded(5))

	for i, c := range callers {
		if got := c.Voice.Metadata[tts.MetaMood]; got != string(c.Mood) {
			t.Errorf("caller %d voice mood = %q, want %q", i, got, c.Mood)
		}
		if c.Voice.Metadata["accent"] != "british" {
			t.Errorf("caller %d lost voice metadata: %v", i, c.Voice.Metadata)
		}
	}
	if _, ok := voices[0].Metadata[tts.MetaMood]; ok {
		t.Error("GenerateQueue must not modify the configured voices")
	}
}

func TestGenerateQueue_Deterministic(t *testing.T) {
	voices := []tts.VoiceProfile{{ID: "v1", Name: "Rachel"}, {ID: "v2", Name: "Narrator"}}
	want := GenerateQueue(6, 60, voices, "id", seeded(11))
	for run := range 200 {
		got := GenerateQueue(6, 60, voices, "id", seeded(11))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: same seed produced different callers:\n got %+v\nwant %+v", run, got, want)
		}
	}
}

func TestGenerateQueue_Empty(t *testing.T) {
	if got := GenerateQueue(0, 50, nil, "en", seeded(1)); got != nil {
		t.Errorf("GenerateQueue(0) = %v, want nil", got)
	}
}

func TestPickMood_LowDifficultyNeverAngry(t *testing.T) {
	rng := seeded(5)
	for range 1000 {
		if m := pickMood(1, rng); m == MoodAngry {
			t.Fatal("difficulty 1 has zero weight for angry")
		}
		if m := pickMood(5, rng); m == MoodFriendly {
			t.Fatal("difficulty 5 has zero weight for friendly")
		}
	}
}

func TestInferGender(t *testing.T) {
	tests := []struct {
		voice tts.VoiceProfile
		want  Gender
	}{
		{tts.VoiceProfile{Name: "Rachel"}, GenderFemale},
		{tts.VoiceProfile{Name: "Matthew (Neural)"}, GenderMale},
		{tts.VoiceProfile{Name: "Sara"}, GenderFemale},
		{tts.VoiceProfile{Name: "Putri - ID"}, GenderFemale},
		{tts.VoiceProfile{Name: "Budi"}, GenderMale},
		{tts.VoiceProfile{Name: "Zephyr", Gender: "Male"}, GenderMale},
		{tts.VoiceProfile{Name: "Adam", Gender: "female"}, GenderFemale},
		{tts.VoiceProfile{Name: "Xq"}, GenderUnknown},
		{tts.VoiceProfile{}, GenderUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.voice.Name, func(t *testing.T) {
			if got := InferGender(tt.voice); got != tt.want {
				t.Errorf("InferGender(%+v) = %q, want %q", tt.voice, got, tt.want)
			}
		})
	}
}

func TestCallerBrief(t *testing.T) {
	c := Caller{Mood: MoodAngry, Difficulty: 5}
	c.Brief("customer_service")
	if c.Scenario != "customer_service" {
		t.Errorf("Scenario = %q", c.Scenario)
	}
	if !strings.Contains(c.Objective, "complaint") || !strings.Contains(c.Objective, "de-escalate") {
		t.Errorf("Objective = %q", c.Objective)
	}
	if c.EstimatedDuration != 210*time.Second {
		t.Errorf("EstimatedDuration = %s, want 3m30s", c.EstimatedDuration)
	}

	c = Caller{Mood: MoodFriendly, Difficulty: 1}
	c.Brief("unknown")
	if !strings.HasPrefix(c.Objective, "keep the conversation on track") {
		t.Errorf("Objective = %q", c.Objective)
	}
}
