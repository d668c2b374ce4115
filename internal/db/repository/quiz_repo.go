package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const quizColumns = "id, title, topic, description, image_url, question_count, time_per_question, created_at"

func scanQuiz(row pgx.Row) (Quiz, error) {
	var q Quiz
	err := row.Scan(&q.ID, &q.Title, &q.Topic, &q.Description, &q.ImageURL,
		&q.QuestionCount, &q.TimePerQuestion, &q.CreatedAt)
	return q, err
}

// CreateQuiz inserts a quiz row without questions.
func (s *Store) CreateQuiz(ctx context.Context, params CreateQuizParams) (Quiz, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO quizzes (title, topic, description, image_url, time_per_question)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+quizColumns,
		params.Title, params.Topic, params.Description, params.ImageURL, params.TimePerQuestion)
	quiz, err := scanQuiz(row)
	if err != nil {
		return Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	return quiz, nil
}

// GetQuiz fetches one quiz by id.
func (s *Store) GetQuiz(ctx context.Context, id int64) (Quiz, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id)
	quiz, err := scanQuiz(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quiz{}, ErrQuizNotFound
	}
	if err != nil {
		return Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	return quiz, nil
}

// ListQuizzes returns all quizzes, newest first.
func (s *Store) ListQuizzes(ctx context.Context) ([]Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []Quiz
	for rows.Next() {
		quiz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

// DeleteQuiz removes a quiz and, via cascade, its questions and sessions.
func (s *Store) DeleteQuiz(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuizNotFound
	}
	return nil
}

// validateQuestionInput enforces the structural rules for a single question:
// exactly four choices, exactly one of them correct, no duplicate choice
// texts, and texts that fit their columns.
func validateQuestionInput(in QuestionInput) error {
	if strings.TrimSpace(in.Text) == "" {
		return errors.New("question text is empty")
	}
	if utf8.RuneCountInString(in.Text) > 200 {
		return errors.New("question text too long (max 200 chars)")
	}
	if len(in.Choices) != 4 {
		return fmt.Errorf("question needs exactly 4 choices, got %d", len(in.Choices))
	}
	correct := 0
	seen := make(map[string]struct{}, 4)
	for _, c := range in.Choices {
		text := strings.ToLower(strings.TrimSpace(c.Text))
		if text == "" {
			return errors.New("choice text is empty")
		}
		if utf8.RuneCountInString(c.Text) > 200 {
			return fmt.Errorf("choice text too long (max 200 chars): %q", c.Text)
		}
		if _, dup := seen[text]; dup {
			return fmt.Errorf("duplicate choice text %q", c.Text)
		}
		seen[text] = struct{}{}
		if c.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("question needs exactly 1 correct choice, got %d", correct)
	}
	return nil
}

// AttachQuestions appends questions with their choices to a quiz in one
// transaction, assigning sequential order and fresh UUIDs, and refreshes the
// quiz question_count.
func (s *Store) AttachQuestions(ctx context.Context, quizID int64, questions []QuestionInput) error {
	if len(questions) == 0 {
		return errors.New("no questions to attach")
	}
	for i, in := range questions {
		if err := validateQuestionInput(in); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var nextOrd int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(ord), 0) FROM questions WHERE quiz_id = $1`, quizID,
		).Scan(&nextOrd); err != nil {
			return fmt.Errorf("max question ord: %w", err)
		}

		for i, in := range questions {
			var questionID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO questions (quiz_id, uuid, ord, text, difficulty, explanation, image_url, time_limit, generated_by_model)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id`,
				quizID, uuid.NewString(), nextOrd+i+1, in.Text, in.Difficulty,
				in.Explanation, in.ImageURL, in.TimeLimit, in.GeneratedByModel,
			).Scan(&questionID)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", i+1, err)
			}

			for ord, c := range in.Choices {
				if _, err := tx.Exec(ctx, `
					INSERT INTO choices (question_id, text, is_correct, ord)
					VALUES ($1, $2, $3, $4)`,
					questionID, c.Text, c.IsCorrect, ord,
				); err != nil {
					return fmt.Errorf("insert choice %d of question %d: %w", ord, i+1, err)
				}
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE quizzes
			SET question_count = (SELECT COUNT(*) FROM questions WHERE quiz_id = $1)
			WHERE id = $1`, quizID)
		if err != nil {
			return fmt.Errorf("update question_count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrQuizNotFound
		}
		return nil
	})
}

const questionColumns = "id, quiz_id, uuid, ord, text, difficulty, explanation, image_url, time_limit, generated_by_model, created_at"

func scanQuestion(row pgx.Row) (Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.QuizID, &q.UUID, &q.Ord, &q.Text, &q.Difficulty,
		&q.Explanation, &q.ImageURL, &q.TimeLimit, &q.GeneratedByModel, &q.CreatedAt)
	return q, err
}

// GetQuestions returns all questions of a quiz in play order, choices included.
func (s *Store) GetQuestions(ctx context.Context, quizID int64) ([]QuestionWithChoices, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE quiz_id = $1 ORDER BY ord`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []QuestionWithChoices
	index := make(map[int64]int)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		index[q.ID] = len(questions)
		questions = append(questions, QuestionWithChoices{Question: q})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	choiceRows, err := s.pool.Query(ctx, `
		SELECT id, question_id, text, is_correct, ord
		FROM choices WHERE question_id = ANY($1) ORDER BY question_id, ord`, ids)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var c Choice
		if err := choiceRows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect, &c.Ord); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		i := index[c.QuestionID]
		questions[i].Choices = append(questions[i].Choices, c)
	}
	return questions, choiceRows.Err()
}

// QuestionAt returns the question at a 0-based position in the quiz's play
// order, or ErrQuestionNotFound when the position is past the end.
func (s *Store) QuestionAt(ctx context.Context, quizID int64, index int) (QuestionWithChoices, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE quiz_id = $1 ORDER BY ord OFFSET $2 LIMIT 1`,
		quizID, index)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuestionWithChoices{}, ErrQuestionNotFound
	}
	if err != nil {
		return QuestionWithChoices{}, fmt.Errorf("question at %d: %w", index, err)
	}

	out := QuestionWithChoices{Question: q}
	rows, err := s.pool.Query(ctx,
		`SELECT id, question_id, text, is_correct, ord FROM choices WHERE question_id = $1 ORDER BY ord`, q.ID)
	if err != nil {
		return QuestionWithChoices{}, fmt.Errorf("choices for question %d: %w", q.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Text, &c.IsCorrect, &c.Ord); err != nil {
			return QuestionWithChoices{}, fmt.Errorf("scan choice: %w", err)
		}
		out.Choices = append(out.Choices, c)
	}
	return out, rows.Err()
}

// CountQuestions returns how many questions a quiz has.
func (s *Store) CountQuestions(ctx context.Context, quizID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE quiz_id = $1`, quizID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}
