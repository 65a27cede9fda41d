package domain

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown or already evicted session code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizEmpty rejects opening a session over a quiz with no questions.
	ErrQuizEmpty = errors.New("quiz has no questions")
	// ErrNotInstructor is returned when a session command comes from anyone
	// but the owning instructor.
	ErrNotInstructor = errors.New("user is not the session instructor")
	// ErrNotParticipant is returned when a non-member tries to act in a session.
	ErrNotParticipant = errors.New("user is not a session participant")
)
