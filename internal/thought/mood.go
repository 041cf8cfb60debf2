package thought

import (
	"strings"
	"unicode"

	"github.com/rcliao/agent-loop/internal/model"
)

// moodKeywords lists word stems that pull the mood toward each value.
var moodKeywords = map[model.Mood][]string{
	model.MoodCurious:       {"wonder", "curious", "explore", "question", "why", "discover"},
	model.MoodCreative:      {"create", "build", "design", "imagine", "room", "art", "new"},
	model.MoodContemplative: {"contemplat", "reflect", "ponder", "meaning", "quiet", "who i am"},
	model.MoodEnergetic:     {"energy", "fast", "excite", "alive", "burst", "rush"},
	model.MoodDetermined:    {"determin", "finish", "focus", "must", "commit", "queue"},
	model.MoodAnalytical:    {"analy", "measure", "pattern", "error", "data", "cycle"},
}

// MoodFor scores text against the mood keywords and returns the best match.
// Ties resolve in model.Moods order; no match returns false.
func MoodFor(text string) (model.Mood, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	joined := " " + strings.Join(words, " ") + " "

	best, bestScore := model.Mood(""), 0
	for _, m := range model.Moods() {
		score := 0
		for _, kw := range moodKeywords[m] {
			if strings.Contains(kw, " ") {
				if strings.Contains(joined, " "+kw+" ") {
					score++
				}
				continue
			}
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	return best, bestScore > 0
}
