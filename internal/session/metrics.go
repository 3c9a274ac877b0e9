package session

import (
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Metrics are the cumulative speech metrics of a session.
type Metrics struct {
	// PaceWPM is the user's speaking pace in words per minute.
	PaceWPM float64 `json:"pace_wpm"`
	// Confidence and Clarity are scores in [0, 100].
	Confidence      float64 `json:"confidence"`
	Clarity         float64 `json:"clarity"`
	FillerCount     int     `json:"filler_count"`
	WordCount       int     `json:"word_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	EmotionalState  Emotion `json:"emotional_state"`
}

// fuzzyFillerThreshold is the Jaro-Winkler score above which a long token
// counts as a misspelt filler ("basicly", "literaly").
const fuzzyFillerThreshold = 0.93

// fuzzyMinLen is the shortest filler eligible for fuzzy matching. Shorter
// fillers only match exactly to avoid flagging ordinary words.
const fuzzyMinLen = 6

var fillerWords = map[string][]string{
	"en": {"um", "uh", "er", "ah", "hm", "hmm", "like", "basically", "actually", "literally", "so", "well"},
	"id": {"eh", "em", "hm", "hmm", "anu", "gitu", "kayak", "jadi", "sebenarnya", "pokoknya", "nah"},
}

var fillerPhrases = map[string][]string{
	"en": {"you know", "i mean", "sort of", "kind of"},
	"id": {"apa namanya", "gimana ya", "terus terang"},
}

var hedgeWords = map[string][]string{
	"en": {"maybe", "perhaps", "probably", "guess", "think", "hopefully", "sorry"},
	"id": {"mungkin", "sepertinya", "kayaknya", "kira", "maaf", "semoga"},
}

// languageKey reduces a BCP-47 tag to a supported word-list key, defaulting
// to English.
func languageKey(lang string) string {
	l := strings.ToLower(lang)
	if strings.HasPrefix(l, "id") || strings.HasPrefix(l, "in") {
		return "id"
	}
	return "en"
}

// Tracker accumulates speech metrics across the user's utterances. It is not
// safe for concurrent use.
type Tracker struct {
	lang      string
	start     time.Time
	speaking  time.Duration
	words     int
	fillers   int
	utterance int
	confSum   float64
	clarSum   float64
}

// NewTracker starts tracking at start for the given language.
func NewTracker(language string, start time.Time) *Tracker {
	return &Tracker{lang: languageKey(language), start: start}
}

// Observe folds one recognised utterance into the metrics. spoken is the
// measured speech duration of the utterance; when zero, pace falls back to
// words over wall-clock time since start.
func (t *Tracker) Observe(text string, spoken time.Duration, now time.Time) Metrics {
	tokens := Tokenize(text)
	fillers := CountFillers(tokens, t.lang)

	t.utterance++
	t.words += len(tokens)
	t.fillers += fillers
	t.speaking += spoken
	t.confSum += confidenceScore(tokens, fillers, t.lang)
	t.clarSum += clarityScore(text, tokens, fillers)
	return t.Snapshot(now)
}

// Snapshot returns the current metrics without observing anything.
func (t *Tracker) Snapshot(now time.Time) Metrics {
	m := Metrics{
		FillerCount:     t.fillers,
		WordCount:       t.words,
		DurationSeconds: now.Sub(t.start).Seconds(),
	}
	minutes := t.speaking.Minutes()
	if minutes <= 0 {
		minutes = now.Sub(t.start).Minutes()
	}
	if minutes > 0 {
		m.PaceWPM = float64(t.words) / minutes
	}
	if t.utterance > 0 {
		m.Confidence = t.confSum / float64(t.utterance)
		m.Clarity = t.clarSum / float64(t.utterance)
	}
	return m
}

// Tokenize lower-cases text and splits it into words, dropping punctuation.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// CountFillers counts filler words and phrases in tokens for a language.
// Elongated fillers ("ummm") are matched after collapsing repeated letters.
func CountFillers(tokens []string, language string) int {
	lang := languageKey(language)
	n := 0
	for _, tok := range tokens {
		if isFiller(tok, lang) {
			n++
		}
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range fillerPhrases[lang] {
		n += strings.Count(joined, " "+p+" ")
	}
	return n
}

func isFiller(tok, lang string) bool {
	squeezed := squeeze(tok)
	for _, f := range fillerWords[lang] {
		if tok == f || squeezed == f {
			return true
		}
		if len(f) >= fuzzyMinLen && len(tok) >= fuzzyMinLen &&
			matchr.JaroWinkler(tok, f, false) >= fuzzyFillerThreshold {
			return true
		}
	}
	return false
}

// squeeze collapses runs of the same letter: "ummm" → "um", "hmmm" → "hm".
func squeeze(s string) string {
	var b strings.Builder
	var last rune
	for i, r := range s {
		if i > 0 && r == last {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

// confidenceScore penalises hedging and filler density.
func confidenceScore(tokens []string, fillers int, lang string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hedges := 0
	for _, tok := range tokens {
		for _, h := range hedgeWords[lang] {
			if tok == h {
				hedges++
				break
			}
		}
	}
	n := float64(len(tokens))
	score := 100 - float64(hedges)/n*250 - float64(fillers)/n*150
	if len(tokens) < 3 {
		score -= 15
	}
	return clampScore(score)
}

// clarityScore penalises filler density, immediate word repetition
// ("I I think") and run-on sentences.
func clarityScore(text string, tokens []string, fillers int) float64 {
	if len(tokens) == 0 {
		return 0
	}
	repeats := 0
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			repeats++
		}
	}
	n := float64(len(tokens))
	score := 100 - float64(fillers)/n*200 - float64(repeats)/n*150

	sentences := max(strings.Count(text, ".")+strings.Count(text, "?")+strings.Count(text, "!"), 1)
	if avg := n / float64(sentences); avg > 30 {
		score -= avg - 30
	}
	return clampScore(score)
}

func clampScore(v float64) float64 {
	return min(max(v, 0), 100)
}
