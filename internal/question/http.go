package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdtechteam/quiz-generator/internal/db/repository"
	httperrors "github.com/pdtechteam/quiz-generator/pkg/http/errors"
	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// Store is the slice of the entity store the quiz endpoints use.
type Store interface {
	QuizStore
	ListQuizzes(ctx context.Context) ([]repository.Quiz, error)
	GetQuiz(ctx context.Context, id int64) (repository.Quiz, error)
	GetQuestions(ctx context.Context, quizID int64) ([]repository.QuestionWithChoices, error)
}

// QuizDetail is a quiz with its full question list, returned by the create,
// generate and detail endpoints.
type QuizDetail struct {
	repository.Quiz
	Questions []ws.QuestionDetail `json:"questions"`
}

// QuizPreview is the lobby card for a quiz, without questions.
type QuizPreview struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	Description     string `json:"description"`
	ImageURL        string `json:"image_url"`
	QuestionCount   int    `json:"question_count"`
	TimePerQuestion int    `json:"time_per_question"`
}

// CreateQuizRequest is the body of the manual create endpoint. Questions are
// attached afterwards through generation.
type CreateQuizRequest struct {
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	Description     string `json:"description"`
	ImageURL        string `json:"image_url"`
	TimePerQuestion int    `json:"time_per_question"`
}

// HTTPHandlers provides REST endpoints for quiz management and generation.
type HTTPHandlers struct {
	store  Store
	svc    *Service
	logger zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for the quiz endpoints.
func NewHTTPHandlers(store Store, svc *Service, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		store:  store,
		svc:    svc,
		logger: logger,
	}
}

// List handles GET /api/quizzes/
func (h *HTTPHandlers) List(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.store.ListQuizzes(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list quizzes failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not list quizzes")
		return
	}
	if quizzes == nil {
		quizzes = []repository.Quiz{}
	}
	h.respondJSON(w, http.StatusOK, quizzes)
}

// Create handles POST /api/quizzes/
func (h *HTTPHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Title == "" || req.Topic == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "title and topic are required")
		return
	}

	quiz, err := h.store.CreateQuiz(r.Context(), repository.CreateQuizParams{
		Title:           req.Title,
		Topic:           req.Topic,
		Description:     req.Description,
		ImageURL:        req.ImageURL,
		TimePerQuestion: clampTimePerQuestion(req.TimePerQuestion),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("create quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not create quiz")
		return
	}

	h.respondJSON(w, http.StatusCreated, QuizDetail{Quiz: quiz, Questions: []ws.QuestionDetail{}})
}

// Generate handles POST /api/quizzes/generate/
func (h *HTTPHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeMissingField, "topic is required")
		return
	}

	quiz, err := h.svc.GenerateAndSaveQuiz(r.Context(), req)
	switch {
	case errors.Is(err, ErrGenerationFailed):
		httperrors.RespondInternalError(w, httperrors.ErrCodeGenerationFailed, err.Error())
		return
	case err != nil:
		h.logger.Error().Err(err).Str("topic", req.Topic).Msg("generate quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not save quiz")
		return
	}

	detail, err := h.quizDetail(r.Context(), quiz)
	if err != nil {
		h.logger.Error().Err(err).Int64("quiz_id", quiz.ID).Msg("load generated questions failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load quiz")
		return
	}
	h.respondJSON(w, http.StatusCreated, detail)
}

// Detail handles GET /api/quizzes/{id}/
func (h *HTTPHandlers) Detail(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.loadQuiz(w, r)
	if !ok {
		return
	}
	detail, err := h.quizDetail(r.Context(), quiz)
	if err != nil {
		h.logger.Error().Err(err).Int64("quiz_id", quiz.ID).Msg("load quiz questions failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load quiz")
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

// Delete handles DELETE /api/quizzes/{id}/
func (h *HTTPHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Quiz not found")
		return
	}
	switch err := h.store.DeleteQuiz(r.Context(), id); {
	case errors.Is(err, repository.ErrQuizNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Quiz not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Int64("quiz_id", id).Msg("delete quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not delete quiz")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Questions handles GET /api/quizzes/{id}/questions/
func (h *HTTPHandlers) Questions(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.loadQuiz(w, r)
	if !ok {
		return
	}
	questions, err := h.store.GetQuestions(r.Context(), quiz.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("quiz_id", quiz.ID).Msg("load quiz questions failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load questions")
		return
	}
	h.respondJSON(w, http.StatusOK, questionDetailViews(quiz, questions))
}

// Preview handles GET /api/quizzes/{id}/preview/
func (h *HTTPHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	quiz, ok := h.loadQuiz(w, r)
	if !ok {
		return
	}
	image := quiz.ImageURL
	if image == "" {
		image = ThemeImage(quiz.Topic)
	}
	h.respondJSON(w, http.StatusOK, QuizPreview{
		ID:              quiz.ID,
		Title:           quiz.Title,
		Topic:           quiz.Topic,
		Description:     quiz.Description,
		ImageURL:        image,
		QuestionCount:   quiz.QuestionCount,
		TimePerQuestion: quiz.TimePerQuestion,
	})
}

// loadQuiz resolves the {id} path segment, writing the error response itself
// when the quiz cannot be served.
func (h *HTTPHandlers) loadQuiz(w http.ResponseWriter, r *http.Request) (repository.Quiz, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Quiz not found")
		return repository.Quiz{}, false
	}
	quiz, err := h.store.GetQuiz(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrQuizNotFound):
		httperrors.RespondNotFound(w, httperrors.ErrCodeNotFound, "Quiz not found")
		return repository.Quiz{}, false
	case err != nil:
		h.logger.Error().Err(err).Int64("quiz_id", id).Msg("load quiz failed")
		httperrors.RespondServiceUnavailable(w, httperrors.ErrCodeStoreUnavailable, "Could not load quiz")
		return repository.Quiz{}, false
	}
	return quiz, true
}

func (h *HTTPHandlers) quizDetail(ctx context.Context, quiz repository.Quiz) (QuizDetail, error) {
	questions, err := h.store.GetQuestions(ctx, quiz.ID)
	if err != nil {
		return QuizDetail{}, err
	}
	return QuizDetail{Quiz: quiz, Questions: questionDetailViews(quiz, questions)}, nil
}

func (h *HTTPHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}

func questionDetailViews(quiz repository.Quiz, questions []repository.QuestionWithChoices) []ws.QuestionDetail {
	views := make([]ws.QuestionDetail, 0, len(questions))
	for _, q := range questions {
		views = append(views, questionDetailView(quiz, q))
	}
	return views
}

func questionDetailView(quiz repository.Quiz, q repository.QuestionWithChoices) ws.QuestionDetail {
	choices := make([]ws.ChoiceDetail, 0, len(q.Choices))
	for _, c := range q.Choices {
		choices = append(choices, ws.ChoiceDetail{
			ID:        c.ID,
			Text:      c.Text,
			IsCorrect: c.IsCorrect,
			Order:     c.Ord,
		})
	}
	detail := ws.QuestionDetail{
		ID:          q.ID,
		UUID:        q.UUID,
		Order:       q.Ord,
		Text:        q.Text,
		Difficulty:  q.Difficulty,
		Explanation: q.Explanation,
		ImageURL:    q.ImageURL,
		TimeLimit:   q.EffectiveTimeLimit(quiz),
		Choices:     choices,
	}
	if correct := q.CorrectChoice(); correct != nil {
		detail.CorrectChoice = correct.ID
	}
	return detail
}
