package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
)

// GenerationCache stores validated question sets keyed by topic, count and
// difficulty curve (implemented by the Redis-backed Cache).
type GenerationCache interface {
	Get(ctx context.Context, topic string, count int, curve []string) ([]Candidate, error)
	Set(ctx context.Context, topic string, count int, curve []string, questions []Candidate) error
}

// ChatCompleter produces raw model output for a prompt pair.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// QuizStore is the slice of the entity store the generation flow needs.
type QuizStore interface {
	CreateQuiz(ctx context.Context, params repository.CreateQuizParams) (repository.Quiz, error)
	AttachQuestions(ctx context.Context, quizID int64, questions []repository.QuestionInput) error
	DeleteQuiz(ctx context.Context, quizID int64) error
}

// ErrGenerationFailed marks exhaustion of every generation attempt.
var ErrGenerationFailed = errors.New("question generation failed")

const (
	defaultQuestionCount   = 10
	defaultTimePerQuestion = 20
	minTimePerQuestion     = 10
	maxTimePerQuestion     = 60
	generationRetries      = 3
)

// Service orchestrates quiz generation: cache lookup, model calls with
// retry, validation, and persistence.
type Service struct {
	store          QuizStore
	cache          GenerationCache
	llm            ChatCompleter
	attemptTimeout time.Duration
	newBackoff     func() retry.Backoff
	logger         zerolog.Logger
}

func NewService(store QuizStore, cache GenerationCache, llm ChatCompleter, attemptTimeout time.Duration, logger zerolog.Logger) *Service {
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}
	return &Service{
		store:          store,
		cache:          cache,
		llm:            llm,
		attemptTimeout: attemptTimeout,
		newBackoff:     generationBackoff,
		logger:         logger.With().Str("component", "question_service").Logger(),
	}
}

// generationBackoff waits 2^attempt seconds plus up to a second of jitter
// between attempts.
func generationBackoff() retry.Backoff {
	attempt := 0
	return retry.WithMaxRetries(generationRetries-1, retry.BackoffFunc(func() (time.Duration, bool) {
		delay := time.Duration(1<<attempt)*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
		attempt++
		return delay, false
	}))
}

// Generate returns a validated question set for the topic, serving from
// cache when an equivalent request was generated before.
func (s *Service) Generate(ctx context.Context, topic string, count, playerCount int) ([]Candidate, error) {
	curve := DifficultyCurve(count)

	cached, err := s.cache.Get(ctx, topic, count, curve)
	if err != nil {
		s.logger.Warn().Err(err).Msg("generation cache read failed")
	}
	if len(cached) > 0 {
		s.logger.Info().Str("topic", topic).Int("count", count).Msg("generation cache hit")
		return cached, nil
	}

	prompt := buildPrompt(topic, count, curve, playerCount)
	var questions []Candidate
	attempts := 0
	err = retry.Do(ctx, s.newBackoff(), func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
		defer cancel()

		content, err := s.llm.Complete(attemptCtx, systemPrompt, prompt)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempts).Msg("completion attempt failed")
			return retry.RetryableError(err)
		}
		parsed, err := parseQuestions(content, count)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempts).Msg("model output rejected")
			return retry.RetryableError(err)
		}
		questions = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, attempts, err)
	}

	if err := s.cache.Set(ctx, topic, count, curve, questions); err != nil {
		s.logger.Warn().Err(err).Msg("generation cache write failed")
	}
	s.logger.Info().Str("topic", topic).Int("count", count).Int("attempts", attempts).Msg("questions generated")
	return questions, nil
}

// GenerateAndSaveQuiz runs the full flow: create the quiz row, generate its
// questions, attach them. The quiz is discarded if any later step fails, so
// no empty quiz is left behind.
func (s *Service) GenerateAndSaveQuiz(ctx context.Context, req GenerateRequest) (repository.Quiz, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return repository.Quiz{}, errors.New("topic is required")
	}
	count := req.Count
	if count <= 0 {
		count = defaultQuestionCount
	}
	playerCount := req.PlayerCount
	if playerCount <= 0 {
		playerCount = 1
	}

	quiz, err := s.store.CreateQuiz(ctx, repository.CreateQuizParams{
		Title:           "Quiz: " + topic,
		Topic:           topic,
		Description:     req.Description,
		TimePerQuestion: clampTimePerQuestion(req.TimePerQuestion),
	})
	if err != nil {
		return repository.Quiz{}, err
	}

	questions, err := s.Generate(ctx, topic, count, playerCount)
	if err != nil {
		s.discard(ctx, quiz.ID)
		return repository.Quiz{}, err
	}

	if err := s.store.AttachQuestions(ctx, quiz.ID, toQuestionInputs(questions)); err != nil {
		s.discard(ctx, quiz.ID)
		return repository.Quiz{}, err
	}

	quiz.QuestionCount = len(questions)
	return quiz, nil
}

// discard removes a half-built quiz. It runs on a detached context so the
// cleanup still happens when the request that failed has been canceled.
func (s *Service) discard(ctx context.Context, quizID int64) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.DeleteQuiz(cleanupCtx, quizID); err != nil {
		s.logger.Error().Err(err).Int64("quiz_id", quizID).Msg("failed to discard quiz after generation failure")
	}
}

func clampTimePerQuestion(v int) int {
	switch {
	case v <= 0:
		return defaultTimePerQuestion
	case v < minTimePerQuestion:
		return minTimePerQuestion
	case v > maxTimePerQuestion:
		return maxTimePerQuestion
	default:
		return v
	}
}

func toQuestionInputs(questions []Candidate) []repository.QuestionInput {
	inputs := make([]repository.QuestionInput, 0, len(questions))
	for _, q := range questions {
		choices := make([]repository.ChoiceInput, 0, len(q.Choices))
		for i, text := range q.Choices {
			choices = append(choices, repository.ChoiceInput{
				Text:      text,
				IsCorrect: i == q.CorrectIndex,
			})
		}
		inputs = append(inputs, repository.QuestionInput{
			Text:             q.Text,
			Difficulty:       q.Difficulty,
			Explanation:      q.Explanation,
			ImageURL:         q.ImageURL,
			TimeLimit:        DifficultyTime[q.Difficulty],
			GeneratedByModel: true,
			Choices:          choices,
		})
	}
	return inputs
}

// stripFences removes a markdown code fence in case the model wrapped its
// JSON despite the instructions.
func stripFences(content string) string {
	c := strings.TrimSpace(content)
	if strings.HasPrefix(c, "```json") {
		c = strings.TrimPrefix(c, "```json")
	} else if strings.HasPrefix(c, "```") {
		c = strings.TrimPrefix(c, "```")
	}
	if i := strings.LastIndex(c, "```"); i >= 0 && strings.HasSuffix(strings.TrimSpace(c), "```") {
		c = c[:i]
	}
	return strings.TrimSpace(c)
}

// parseQuestions decodes and validates one model response.
func parseQuestions(content string, count int) ([]Candidate, error) {
	var payload struct {
		Questions []Candidate `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if len(payload.Questions) != count {
		return nil, fmt.Errorf("expected %d questions, got %d", count, len(payload.Questions))
	}
	for i := range payload.Questions {
		if err := validateCandidate(&payload.Questions[i]); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return payload.Questions, nil
}

// validateCandidate checks one candidate against the question schema and
// normalizes the soft fields (difficulty default, explanation length).
func validateCandidate(q *Candidate) error {
	if n := utf8.RuneCountInString(q.Text); n < 10 || n > 200 {
		return fmt.Errorf("text must be 10-200 characters, got %d", n)
	}
	if len(q.Choices) != 4 {
		return fmt.Errorf("expected 4 choices, got %d", len(q.Choices))
	}
	seen := make(map[string]struct{}, 4)
	for _, choice := range q.Choices {
		if strings.TrimSpace(choice) == "" {
			return errors.New("choice text is empty")
		}
		if utf8.RuneCountInString(choice) > 40 {
			return fmt.Errorf("choice %q exceeds 40 characters", choice)
		}
		key := strings.ToLower(strings.TrimSpace(choice))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate choice %q", choice)
		}
		seen[key] = struct{}{}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex > 3 {
		return fmt.Errorf("correct_index %d out of range", q.CorrectIndex)
	}
	if q.Difficulty == "" {
		q.Difficulty = DifficultyMedium
	}
	if !knownDifficulty(q.Difficulty) {
		return fmt.Errorf("unknown difficulty %q", q.Difficulty)
	}
	if utf8.RuneCountInString(q.Explanation) > 300 {
		q.Explanation = string([]rune(q.Explanation)[:300])
	}
	if utf8.RuneCountInString(q.ImageURL) > 500 {
		q.ImageURL = ""
	}
	return nil
}
