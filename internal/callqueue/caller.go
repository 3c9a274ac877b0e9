package callqueue

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

// Mood is the temperament of a synthetic caller.
type Mood string

const (
	MoodFriendly   Mood = "friendly"
	MoodNeutral    Mood = "neutral"
	MoodConfused   Mood = "confused"
	MoodImpatient  Mood = "impatient"
	MoodFrustrated Mood = "frustrated"
	MoodAngry      Mood = "angry"
)

// Moods lists every mood in the column order of the weight table.
var Moods = []Mood{MoodFriendly, MoodNeutral, MoodConfused, MoodImpatient, MoodFrustrated, MoodAngry}

// moodWeights holds one weight vector per difficulty 1..5. Higher
// difficulties shift weight toward confrontational moods.
var moodWeights = [5][6]int{
	{40, 35, 15, 7, 3, 0},
	{25, 35, 20, 12, 6, 2},
	{10, 25, 20, 20, 15, 10},
	{5, 10, 15, 25, 25, 20},
	{0, 5, 10, 20, 30, 35},
}

// Gender is the display gender of a caller.
type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderUnknown Gender = ""
)

// Caller is one synthetic conversation partner of a stress-mode queue.
type Caller struct {
	Position   int              `json:"position"`
	Name       string           `json:"name"`
	Gender     Gender           `json:"gender"`
	Mood       Mood             `json:"mood"`
	Difficulty int              `json:"difficulty"`
	Voice      tts.VoiceProfile `json:"voice"`

	Scenario          string        `json:"scenario,omitempty"`
	Objective         string        `json:"objective,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// MinDifficulty and MaxDifficulty bound caller difficulty.
const (
	MinDifficulty = 1
	MaxDifficulty = 5
)

// GenerateQueue produces length callers. Difficulty at position i is
//
//	1 + floor(i/(length-1) × 4 × curve/100) + jitter,  jitter ∈ {-1, 0, 1}
//
// clamped to [1, 5] and never lower than the previous caller's. curve is
// clamped to [0, 100]. Voices are dealt round-robin from a shuffled copy of
// voices; with no voices the callers carry a zero VoiceProfile. Display names
// come from the pool matching the voice's gender in the given language.
func GenerateQueue(length, curve int, voices []tts.VoiceProfile, language string, rng *rand.Rand) []Caller {
	if length <= 0 {
		return nil
	}
	curve = min(max(curve, 0), 100)

	pool := append([]tts.VoiceProfile(nil), voices...)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	names := newNamePicker(language, rng)
	callers := make([]Caller, length)
	prev := MinDifficulty
	for i := range callers {
		d := max(prev, Difficulty(i, length, curve, rng.IntN(3)-1))
		prev = d

		c := Caller{
			Position:   i,
			Difficulty: d,
			Mood:       pickMood(d, rng),
		}
		if len(pool) > 0 {
			c.Voice = pool[i%len(pool)].WithMetadata(tts.MetaMood, string(c.Mood))
		}
		c.Gender = InferGender(c.Voice)
		if c.Gender == GenderUnknown {
			c.Gender = []Gender{GenderFemale, GenderMale}[rng.IntN(2)]
		}
		c.Name = names.next(c.Gender)
		callers[i] = c
	}
	return callers
}

// Brief fills the scenario-dependent fields of c: the scenario tag, the
// objective the user has to reach with this caller and the expected call
// length, which grows with difficulty.
func (c *Caller) Brief(scenario string) {
	c.Scenario = scenario
	c.Objective = objective(scenario, c.Mood)
	c.EstimatedDuration = time.Duration(60+30*c.Difficulty) * time.Second
}

var scenarioGoals = map[string]string{
	"customer_service": "resolve the caller's complaint",
	"sales":            "close the sale",
	"job_interview":    "convince the interviewer you fit the role",
	"negotiation":      "reach an agreement both sides accept",
	"presentation":     "answer the caller's questions about your presentation",
}

var moodHints = map[Mood]string{
	MoodFriendly:   "keep the good mood going",
	MoodNeutral:    "stay clear and concise",
	MoodConfused:   "explain patiently and check understanding",
	MoodImpatient:  "get to the point quickly",
	MoodFrustrated: "acknowledge the frustration before solving",
	MoodAngry:      "de-escalate before anything else",
}

func objective(scenario string, mood Mood) string {
	goal, ok := scenarioGoals[scenario]
	if !ok {
		goal = "keep the conversation on track"
	}
	return goal + "; " + moodHints[mood]
}

// Difficulty is the difficulty of position i in a queue of length callers
// before the monotonic ratchet of [GenerateQueue].
func Difficulty(i, length, curve, jitter int) int {
	var progress float64
	if length > 1 {
		progress = float64(i) / float64(length-1)
	}
	d := 1 + int(math.Floor(progress*4*float64(curve)/100)) + jitter
	return min(max(d, MinDifficulty), MaxDifficulty)
}

func pickMood(difficulty int, rng *rand.Rand) Mood {
	w := moodWeights[difficulty-1]
	var total int
	for _, v := range w {
		total += v
	}
	r := rng.IntN(total)
	for i, v := range w {
		if r < v {
			return Moods[i]
		}
		r -= v
	}
	return MoodNeutral
}

// Name lists used to infer a voice's gender from its display name. They cover
// the stock voices of the supported synthesis providers.
var (
	femaleVoiceNames = []string{
		"sarah", "rachel", "emma", "olivia", "bella", "charlotte", "alice", "lily",
		"grace", "matilda", "joanna", "salli", "kimberly", "kendra", "ivy", "amy",
		"nicole", "ruth", "putri", "siti", "dewi", "ayu", "rina", "aria",
	}
	maleVoiceNames = []string{
		"james", "adam", "josh", "arnold", "sam", "daniel", "brian", "matthew",
		"joey", "justin", "russell", "george", "liam", "thomas", "callum", "stephen",
		"kevin", "budi", "agus", "andi", "rizky", "joko", "eko",
	}
)

// nameMatchThreshold is the Jaro-Winkler score at which two first names with
// the same phonetic key are treated as the same name.
const nameMatchThreshold = 0.85

// InferGender returns the voice's explicit gender, or guesses it from the
// first word of its name. Names that match no known voice name exactly or
// phonetically yield GenderUnknown.
func InferGender(v tts.VoiceProfile) Gender {
	switch strings.ToLower(v.Gender) {
	case "female", "f", "woman":
		return GenderFemale
	case "male", "m", "man":
		return GenderMale
	}
	first := firstName(v.Name)
	if first == "" {
		return GenderUnknown
	}
	best, gender := 0.0, GenderUnknown
	for _, set := range []struct {
		names []string
		g     Gender
	}{{femaleVoiceNames, GenderFemale}, {maleVoiceNames, GenderMale}} {
		for _, n := range set.names {
			if n == first {
				return set.g
			}
			if s := nameSimilarity(first, n); s > best {
				best, gender = s, set.g
			}
		}
	}
	if best >= nameMatchThreshold {
		return gender
	}
	return GenderUnknown
}

func firstName(name string) string {
	f := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// nameSimilarity is the Jaro-Winkler score of a and b when their Double
// Metaphone keys agree, 0 otherwise.
func nameSimilarity(a, b string) float64 {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if ap != bp && ap != bs && as != bp {
		return 0
	}
	return matchr.JaroWinkler(a, b, false)
}

var displayNames = map[string]map[Gender][]string{
	"en": {
		GenderFemale: {"Sarah", "Emily", "Jessica", "Laura", "Megan", "Hannah", "Olivia", "Rachel"},
		GenderMale:   {"James", "Michael", "David", "Robert", "Daniel", "Kevin", "Thomas", "Ryan"},
	},
	"id": {
		GenderFemale: {"Putri", "Siti", "Dewi", "Ayu", "Rina", "Fitri", "Indah", "Lestari"},
		GenderMale:   {"Budi", "Agus", "Andi", "Rizky", "Joko", "Eko", "Hendra", "Fajar"},
	},
}

// namePicker deals display names without repetition until a pool is
// exhausted, then starts over.
type namePicker struct {
	pools map[Gender][]string
	used  map[Gender]int
	rng   *rand.Rand
}

func newNamePicker(language string, rng *rand.Rand) *namePicker {
	src := displayNames["en"]
	if l := strings.ToLower(language); strings.HasPrefix(l, "id") || strings.HasPrefix(l, "in") {
		src = displayNames["id"]
	}
	p := &namePicker{pools: map[Gender][]string{}, used: map[Gender]int{}, rng: rng}
	// Fixed order: the pools draw from the shared seeded source.
	for _, g := range []Gender{GenderFemale, GenderMale} {
		shuffled := append([]string(nil), src[g]...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		p.pools[g] = shuffled
	}
	return p
}

func (p *namePicker) next(g Gender) string {
	pool := p.pools[g]
	n := pool[p.used[g]%len(pool)]
	p.used[g]++
	return n
}
