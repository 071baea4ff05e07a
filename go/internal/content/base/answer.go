package base

import (
	"encoding/json"
	"strings"
)

// AnswerList encodes acceptable answers the way items.answer stores them:
// a JSON array of distinct, non-empty strings.
func AnswerList(answers ...string) string {
	seen := make(map[string]bool, len(answers))
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	data, _ := json.Marshal(out)
	return string(data)
}
