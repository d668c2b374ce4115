package game

import "math/rand"

// Short reaction lines sent back with each answer_received event.
var (
	correctReplies = []string{
		"Correct!",
		"Nailed it!",
		"Spot on!",
		"You got it!",
		"Sharp as ever!",
		"That's the one!",
		"Brilliant!",
	}
	wrongReplies = []string{
		"Wrong",
		"Not this time",
		"Not quite",
		"Missed it",
		"Close, but no",
		"Better luck on the next one",
	}
)

func replyPhrase(isCorrect bool) string {
	if isCorrect {
		return correctReplies[rand.Intn(len(correctReplies))]
	}
	return wrongReplies[rand.Intn(len(wrongReplies))]
}
