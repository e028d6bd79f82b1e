package respond

import (
	"sort"
	"strings"

	parley "github.com/ostramo/parley"
)

// ScoringConfig tunes action confidence scoring. The defaults are
// deliberate heuristics; deployments adjust them rather than patching
// code.
type ScoringConfig struct {
	Base             float64 // starting confidence for any keyword hit
	AffirmativeBonus float64 // added per affirmative pattern in the window
	UncertainPenalty float64 // subtracted per uncertain pattern in the window
	Window           int     // characters captured around the keyword
}

// DefaultScoring returns the standard scoring knobs.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		Base:             0.5,
		AffirmativeBonus: 0.3,
		UncertainPenalty: 0.2,
		Window:           50,
	}
}

// actionKeywords maps each action category to its trigger keywords.
var actionKeywords = map[string][]string{
	"create":   {"create", "add", "make", "set up"},
	"update":   {"update", "change", "modify", "edit"},
	"delete":   {"delete", "remove", "clear"},
	"search":   {"search", "find", "look up"},
	"help":     {"help", "assist", "support"},
	"schedule": {"schedule", "remind", "meeting", "calendar"},
}

// actionCategories fixes iteration order for deterministic results.
var actionCategories = []string{"create", "update", "delete", "search", "help", "schedule"}

var affirmativePatterns = []string{"i can help", "let me", "i'll", "i will", "would you like"}

var uncertainPatterns = []string{"might", "maybe", "perhaps", "could", "possibly"}

// ParseActions extracts at most one action per category from an LLM
// reply, scored by the surrounding context and sorted by confidence
// descending.
func ParseActions(reply string, cfg ScoringConfig) []parley.Action {
	lower := strings.ToLower(reply)

	var actions []parley.Action
	seen := make(map[string]bool) // "<type>:<keyword>"

	for _, category := range actionCategories {
		for _, keyword := range actionKeywords[category] {
			pos := strings.Index(lower, keyword)
			if pos < 0 {
				continue
			}
			if seen[category+":"+keyword] {
				continue
			}
			seen[category+":"+keyword] = true

			window := captureWindow(reply, pos, len(keyword), cfg.Window)
			actions = append(actions, parley.Action{
				Type:       category,
				Keyword:    keyword,
				Context:    window,
				Confidence: scoreWindow(strings.ToLower(window), cfg),
			})
			break // one action per category
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Confidence > actions[j].Confidence
	})
	return actions
}

// captureWindow extracts up to window characters either side of the
// keyword occurrence.
func captureWindow(text string, pos, keywordLen, window int) string {
	start := pos - window
	if start < 0 {
		start = 0
	}
	end := pos + keywordLen + window
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func scoreWindow(window string, cfg ScoringConfig) float64 {
	score := cfg.Base
	for _, p := range affirmativePatterns {
		if strings.Contains(window, p) {
			score += cfg.AffirmativeBonus
		}
	}
	for _, p := range uncertainPatterns {
		if strings.Contains(window, p) {
			score -= cfg.UncertainPenalty
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
