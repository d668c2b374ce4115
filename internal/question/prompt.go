package question

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a helpful assistant that generates quiz questions in JSON format. Always respond with valid JSON only."

// buildPrompt renders the user message for one generation attempt. The
// difficulty plan is spelled out position by position so the model follows
// the ramp instead of inventing its own.
func buildPrompt(topic string, count int, curve []string, playerCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d quiz questions about %q for a party of %d players.\n\n", count, topic, playerCount)
	fmt.Fprintf(&b, "Difficulty plan, in question order: %s.\n\n", strings.Join(curve, ", "))
	b.WriteString(`Respond with a single JSON object of this exact shape:
{"questions": [{"text": "...", "choices": ["...", "...", "...", "..."], "correct_index": 0, "difficulty": "easy", "explanation": "...", "image_url": ""}]}

Rules:
- exactly one question per plan position, difficulty matching the plan
- every question has exactly 4 choices with exactly one correct answer
- choice texts are unique and at most 40 characters each
- question text is between 10 and 200 characters
- explanation is at most 300 characters and explains the correct answer
- no markdown, no commentary, JSON only`)
	return b.String()
}

var themeImages = []struct {
	keywords []string
	path     string
}{
	{[]string{"film", "movie", "cinema", "actor", "director"}, "/static/images/themes/films/default.jpg"},
	{[]string{"animal", "zoo", "fauna", "wildlife"}, "/static/images/themes/animals/default.jpg"},
	{[]string{"geograph", "countr", "city", "capital"}, "/static/images/themes/geography/default.jpg"},
	{[]string{"music", "song", "band", "singer"}, "/static/images/themes/music/default.jpg"},
	{[]string{"histor", "war", "century", "era"}, "/static/images/themes/history/default.jpg"},
}

// ThemeImage picks a stock theme image for a quiz topic, used when the quiz
// has no image of its own.
func ThemeImage(topic string) string {
	lower := strings.ToLower(topic)
	for _, theme := range themeImages {
		for _, kw := range theme.keywords {
			if strings.Contains(lower, kw) {
				return theme.path
			}
		}
	}
	return "/static/images/themes/default.jpg"
}
