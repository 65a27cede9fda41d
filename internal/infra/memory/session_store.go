package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

type storedPlayer struct {
	id     int64
	userID int64
	lms    domain.LMSMetadata
	grade  float64
	score  int
}

type storedSession struct {
	id                      int64
	publicID                string
	code                    string
	status                  domain.SessionStatus
	quizID                  int64
	currentQuestionPublicID string
	players                 []*storedPlayer
	answers                 []domain.StoredAnswer
}

// SessionStore is an in-memory implementation of app.SessionStore, used in
// tests and when the service runs without Postgres. Quizzes and users are
// seeded up front since the store has no backing catalog to join against.
type SessionStore struct {
	mu            sync.Mutex
	nextSessionID int64
	nextPlayerID  int64
	sessions      map[int64]*storedSession
	quizzes       map[int64]domain.Quiz
	authors       map[int64]domain.User // quiz id -> author
	users         map[int64]domain.User
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*storedSession),
		quizzes:  make(map[int64]domain.Quiz),
		authors:  make(map[int64]domain.User),
		users:    make(map[int64]domain.User),
	}
}

// RegisterQuiz seeds a quiz and its author so recovery and reports can
// resolve them.
func (s *SessionStore) RegisterQuiz(quiz domain.Quiz, author domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = quiz
	s.authors[quiz.ID] = author
	s.users[author.ID] = author
}

// RegisterUser seeds a user for player lookups.
func (s *SessionStore) RegisterUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *SessionStore) CreateSession(_ context.Context, code string, status domain.SessionStatus, quizID int64, currentQuestionPublicID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	session := &storedSession{
		id:                      s.nextSessionID,
		publicID:                uuid.NewString(),
		code:                    code,
		status:                  status,
		quizID:                  quizID,
		currentQuestionPublicID: currentQuestionPublicID,
	}
	s.sessions[session.id] = session
	return session.id, nil
}

func (s *SessionStore) UpdateSession(_ context.Context, id int64, upd domain.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if upd.Status != nil {
		session.status = *upd.Status
	}
	if upd.CurrentQuestionPublicID != nil {
		session.currentQuestionPublicID = *upd.CurrentQuestionPublicID
	}
	return nil
}

func (s *SessionStore) AppendAnswers(_ context.Context, answers []domain.StoredAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range answers {
		session, ok := s.sessions[a.SessionID]
		if !ok {
			return domain.ErrSessionNotFound
		}
		session.answers = append(session.answers, a)
	}
	return nil
}

func (s *SessionStore) UpsertPlayer(_ context.Context, rec domain.PlayerRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[rec.SessionID]
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	for _, p := range session.players {
		if p.userID == rec.UserID {
			p.lms = rec.LMS
			return p.id, nil
		}
	}
	s.nextPlayerID++
	session.players = append(session.players, &storedPlayer{
		id:     s.nextPlayerID,
		userID: rec.UserID,
		lms:    rec.LMS,
	})
	return s.nextPlayerID, nil
}

func (s *SessionStore) ListOngoingSessions(_ context.Context) ([]domain.RecoveredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered []domain.RecoveredSession
	for _, session := range s.sessions {
		if session.status.Terminal() {
			continue
		}
		quiz, ok := s.quizzes[session.quizID]
		if !ok {
			continue
		}
		rec := domain.RecoveredSession{
			ID:                      session.id,
			Code:                    session.code,
			Status:                  session.status,
			CurrentQuestionPublicID: session.currentQuestionPublicID,
			Quiz:                    quiz,
			Instructor:              s.authors[session.quizID],
		}
		playersByID := make(map[int64]*storedPlayer, len(session.players))
		for _, p := range session.players {
			playersByID[p.id] = p
			rec.Players = append(rec.Players, domain.RecoveredPlayer{ID: p.id, User: s.users[p.userID]})
		}
		for _, a := range session.answers {
			player, ok := playersByID[a.PlayerID]
			if !ok {
				continue
			}
			rec.Answers = append(rec.Answers, domain.RecoveredAnswer{
				Value:            a.Value,
				UserPublicID:     s.users[player.userID].PublicID,
				QuestionPublicID: s.questionPublicIDLocked(quiz, a.QuestionID),
			})
		}
		recovered = append(recovered, rec)
	}
	return recovered, nil
}

func (s *SessionStore) SavePlayerResults(_ context.Context, sessionID int64, results []domain.PlayerResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	for _, result := range results {
		for _, p := range session.players {
			if p.id == result.PlayerID {
				p.grade = result.Grade
				p.score = result.Score
			}
		}
	}
	return nil
}

func (s *SessionStore) SessionReport(_ context.Context, publicID string) (domain.SessionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session *storedSession
	for _, candidate := range s.sessions {
		if candidate.publicID == publicID {
			session = candidate
			break
		}
	}
	if session == nil {
		return domain.SessionReport{}, domain.ErrSessionNotFound
	}
	quiz, ok := s.quizzes[session.quizID]
	if !ok {
		return domain.SessionReport{}, domain.ErrQuizNotFound
	}

	report := domain.SessionReport{
		PublicID: session.publicID,
		Code:     session.code,
		Status:   session.status,
		Quiz:     domain.QuizSummary{PublicID: quiz.PublicID, Title: quiz.Title},
	}
	playersByID := make(map[int64]*storedPlayer, len(session.players))
	for _, p := range session.players {
		playersByID[p.id] = p
		report.Players = append(report.Players, domain.ReportPlayer{
			User:  s.users[p.userID],
			Grade: p.grade,
			Score: p.score,
		})
	}
	for _, question := range quiz.Questions {
		rq := domain.ReportQuestion{
			PublicID:      question.PublicID,
			Type:          question.Type,
			Description:   question.Description,
			TimeLimit:     question.TimeLimit,
			CorrectAnswer: question.CorrectAnswer(),
		}
		correct := 0
		for _, a := range session.answers {
			if a.QuestionID != question.ID {
				continue
			}
			player := playersByID[a.PlayerID]
			if player == nil {
				continue
			}
			isCorrect := strings.EqualFold(a.Value, rq.CorrectAnswer)
			if isCorrect {
				correct++
			}
			rq.Answers = append(rq.Answers, domain.ReportAnswer{
				Value:       a.Value,
				GivenAnswer: question.DisplayAnswer(a.Value),
				IsCorrect:   isCorrect,
				User:        s.users[player.userID],
			})
		}
		if len(session.players) > 0 {
			rq.CorrectAnswerPercentage = float64(correct) / float64(len(session.players))
		}
		report.Questions = append(report.Questions, rq)
	}
	return report, nil
}

func (s *SessionStore) questionPublicIDLocked(quiz domain.Quiz, questionID int64) string {
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return q.PublicID
		}
	}
	return ""
}
