package round

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Answers splits a stored answer into its acceptable forms. Answers seeded
// with synonyms are stored as a JSON array of strings.
func Answers(stored string) []string {
	trimmed := strings.TrimSpace(stored)
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			return list
		}
	}
	return []string{stored}
}

// IsCorrect reports whether guess matches any acceptable form of answer.
// Matching is case-insensitive and lenient: exact, substring either way,
// initials of a multi-word answer, or at least two whole words of an answer
// with three or more words.
func IsCorrect(guess, answer string) bool {
	g := normalize(guess)
	if g == "" {
		return false
	}
	for _, a := range Answers(answer) {
		if matches(g, normalize(a)) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func matches(guess, answer string) bool {
	if answer == "" {
		return false
	}
	if guess == answer || strings.Contains(answer, guess) || strings.Contains(guess, answer) {
		return true
	}

	words := strings.Fields(answer)
	if len(words) < 2 {
		return false
	}
	var initials strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		initials.WriteRune(r)
	}
	if guess == initials.String() {
		return true
	}

	if len(words) >= 3 {
		answerWords := make(map[string]struct{}, len(words))
		for _, w := range words {
			answerWords[w] = struct{}{}
		}
		hits := 0
		for _, w := range strings.Fields(guess) {
			if _, ok := answerWords[w]; ok {
				hits++
			}
		}
		return hits >= 2
	}
	return false
}
