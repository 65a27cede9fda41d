package app

import (
	"context"

	"quizlive-service/internal/domain"
)

// SessionStore is the durable storage contract the runtime and registry
// consume.
type SessionStore interface {
	CreateSession(ctx context.Context, code string, status domain.SessionStatus, quizID int64, currentQuestionPublicID string) (int64, error)
	UpdateSession(ctx context.Context, id int64, upd domain.SessionUpdate) error
	AppendAnswers(ctx context.Context, answers []domain.StoredAnswer) error
	UpsertPlayer(ctx context.Context, rec domain.PlayerRecord) (int64, error)
	ListOngoingSessions(ctx context.Context) ([]domain.RecoveredSession, error)
	SavePlayerResults(ctx context.Context, sessionID int64, results []domain.PlayerResult) error
	SessionReport(ctx context.Context, publicID string) (domain.SessionReport, error)
}

// QuizRepository loads quiz content (from cache/backing store) by public id.
type QuizRepository interface {
	GetQuiz(ctx context.Context, publicID string) (domain.Quiz, error)
}

// ClientConn is one connected client. Send must not block; slow consumers
// are the transport's problem.
type ClientConn interface {
	Send(event domain.Event)
}
