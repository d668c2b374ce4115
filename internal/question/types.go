package question

// Difficulty levels a question can carry.
const (
	DifficultyEasy     = "easy"
	DifficultyMedium   = "medium"
	DifficultyHard     = "hard"
	DifficultyVeryHard = "very_hard"
	DifficultyFun      = "fun"
)

// DifficultyTime maps difficulty onto the per-question time limit in seconds,
// applied when generated questions are saved.
var DifficultyTime = map[string]int{
	DifficultyEasy:     15,
	DifficultyMedium:   20,
	DifficultyHard:     30,
	DifficultyVeryHard: 45,
	DifficultyFun:      10,
}

func knownDifficulty(d string) bool {
	_, ok := DifficultyTime[d]
	return ok
}

// Candidate is one model-produced question. The JSON tags double as the
// model's response schema and the cache payload format.
type Candidate struct {
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correct_index"`
	Difficulty   string   `json:"difficulty"`
	Explanation  string   `json:"explanation"`
	ImageURL     string   `json:"image_url"`
}

// GenerateRequest carries the parameters of one quiz generation run. It is
// also the body of the generate endpoint.
type GenerateRequest struct {
	Topic           string `json:"topic"`
	Count           int    `json:"count"`
	Description     string `json:"description"`
	TimePerQuestion int    `json:"time_per_question"`
	PlayerCount     int    `json:"player_count"`
}

// DifficultyCurve plans per-question difficulty for a quiz of the given
// length: the first quarter is easy, ramping through medium (to 60%) and
// hard (to 85%) into very_hard, with every 7th question swapped for a fun
// breather on quizzes long enough to afford one.
func DifficultyCurve(count int) []string {
	curve := make([]string, count)
	for i := range curve {
		pos := i + 1
		switch {
		case count >= 7 && pos%7 == 0:
			curve[i] = DifficultyFun
		case pos*4 <= count:
			curve[i] = DifficultyEasy
		case pos*5 <= count*3:
			curve[i] = DifficultyMedium
		case pos*20 <= count*17:
			curve[i] = DifficultyHard
		default:
			curve[i] = DifficultyVeryHard
		}
	}
	return curve
}
