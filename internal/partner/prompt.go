package partner

import (
	"fmt"
	"strings"

	"github.com/MrWong99/callcoach/internal/callqueue"
)

// scenarioRoles maps a scenario tag to the role the partner plays.
var scenarioRoles = map[string]string{
	"customer_service": "a customer calling a support hotline with a problem that needs solving",
	"sales":            "a prospective customer who is interested but not yet convinced",
	"job_interview":    "a hiring manager interviewing the user for a position",
	"negotiation":      "a counterpart negotiating terms with the user",
	"presentation":     "an audience member asking questions after the user's presentation",
	"small_talk":       "a friendly acquaintance making small talk",
}

// moodDirections describes how a caller of each mood behaves.
var moodDirections = map[callqueue.Mood]string{
	callqueue.MoodFriendly:   "You are friendly and cooperative.",
	callqueue.MoodNeutral:    "You are matter-of-fact and neither warm nor cold.",
	callqueue.MoodConfused:   "You are confused, misunderstand details and ask for clarification.",
	callqueue.MoodImpatient:  "You are impatient, interrupt long explanations and want quick answers.",
	callqueue.MoodFrustrated: "You are frustrated after earlier bad experiences and say so.",
	callqueue.MoodAngry:      "You are angry and confrontational, but you calm down if treated well.",
}

var languageNames = map[string]string{
	"en": "English",
	"id": "Indonesian (Bahasa Indonesia)",
}

// RoleFor infers the partner's role from a scenario tag. Unknown scenarios
// get a generic conversation partner.
func RoleFor(scenario string) string {
	if r, ok := scenarioRoles[scenario]; ok {
		return r
	}
	if scenario == "" {
		return "a conversation partner"
	}
	return "a conversation partner in a " + strings.ReplaceAll(scenario, "_", " ") + " situation"
}

// CallerRole is the role text of a stress-mode caller: the scenario role
// shaped by the caller's mood and difficulty.
func CallerRole(c callqueue.Caller, scenario string) string {
	var b strings.Builder
	b.WriteString(RoleFor(scenario))
	if c.Name != "" {
		fmt.Fprintf(&b, " named %s", c.Name)
	}
	b.WriteString(". ")
	if d, ok := moodDirections[c.Mood]; ok {
		b.WriteString(d)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "Be %s to satisfy (difficulty %d of %d).",
		difficultyWord(c.Difficulty), c.Difficulty, callqueue.MaxDifficulty)
	return b.String()
}

func difficultyWord(d int) string {
	switch {
	case d <= 1:
		return "easy"
	case d == 2:
		return "fairly easy"
	case d == 3:
		return "moderately hard"
	case d == 4:
		return "hard"
	default:
		return "very hard"
	}
}

func languageName(lang string) string {
	if n, ok := languageNames[languageKey(lang)]; ok {
		return n
	}
	return lang
}

// languageKey reduces a language tag such as "id-ID" to its primary subtag.
func languageKey(lang string) string {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// systemPrompt assembles the persona, language rules and context documents.
func systemPrompt(role, language string, docs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s in a spoken communication-skills training call.\n", strings.TrimSuffix(role, "."))
	b.WriteString("Stay in character at all times and never mention that this is a training exercise.\n")
	fmt.Fprintf(&b, "Always reply in %s.\n", languageName(language))
	b.WriteString("Your replies are spoken aloud: use one to three short sentences, no lists, no markup, no emojis.\n")

	if len(docs) > 0 {
		b.WriteString("\nBackground material the conversation may refer to:\n")
		for i, d := range docs {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			fmt.Fprintf(&b, "--- document %d ---\n%s\n", i+1, d)
		}
	}
	return b.String()
}
