package repository

import "errors"

// Sentinel errors surfaced by the store. Callers map these onto wire error
// kinds; anything else is treated as a transient store failure.
var (
	ErrQuizNotFound       = errors.New("quiz not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrChoiceNotFound     = errors.New("choice does not belong to question")
	ErrAlreadyAnswered    = errors.New("player already answered this question")
	ErrAlreadyHasHost     = errors.New("session already has a host")
	ErrCodeSpaceExhausted = errors.New("no free session code available")
)
