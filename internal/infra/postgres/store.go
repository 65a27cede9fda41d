package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizlive-service/internal/domain"
)

// Store is the Postgres implementation of app.SessionStore.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateSession(ctx context.Context, code string, status domain.SessionStatus, quizID int64, currentQuestionPublicID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (public_id, code, status, quiz_id, current_question_public_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		uuid.NewString(), code, status, quizID, currentQuestionPublicID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateSession(ctx context.Context, id int64, upd domain.SessionUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	if upd.Status != nil {
		args = append(args, *upd.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if upd.CurrentQuestionPublicID != nil {
		args = append(args, *upd.CurrentQuestionPublicID)
		sets = append(sets, fmt.Sprintf("current_question_public_id = $%d", len(args)))
	}
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $1`, strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AppendAnswers(ctx context.Context, answers []domain.StoredAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(
			`INSERT INTO answers (value, player_id, session_id, question_id) VALUES ($1, $2, $3, $4)`,
			a.Value, a.PlayerID, a.SessionID, a.QuestionID,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range answers {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append answers: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertPlayer(ctx context.Context, rec domain.PlayerRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO players (
			user_id, session_id,
			lms_iss, lms_platform, lms_user_id, lms_version,
			lms_client_id, lms_outcome_source_id, lms_outcome_service_url
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
			lms_iss = EXCLUDED.lms_iss,
			lms_platform = EXCLUDED.lms_platform,
			lms_user_id = EXCLUDED.lms_user_id,
			lms_version = EXCLUDED.lms_version,
			lms_client_id = EXCLUDED.lms_client_id,
			lms_outcome_source_id = EXCLUDED.lms_outcome_source_id,
			lms_outcome_service_url = EXCLUDED.lms_outcome_service_url
		 RETURNING id`,
		rec.UserID, rec.SessionID,
		rec.LMS.Issuer, rec.LMS.Platform, rec.LMS.UserID, rec.LMS.Version,
		rec.LMS.ClientID, rec.LMS.OutcomeSourceID, rec.LMS.OutcomeServiceURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert player: %w", err)
	}
	return id, nil
}

func (s *Store) ListOngoingSessions(ctx context.Context) ([]domain.RecoveredSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, status, quiz_id, current_question_public_id
		 FROM sessions WHERE status NOT IN ($1, $2)`,
		domain.StatusEnding, domain.StatusFinished,
	)
	if err != nil {
		return nil, fmt.Errorf("list ongoing sessions: %w", err)
	}
	defer rows.Close()

	type sessionRow struct {
		id                      int64
		code                    string
		status                  domain.SessionStatus
		quizID                  int64
		currentQuestionPublicID string
	}
	var sessionRows []sessionRow
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.id, &row.code, &row.status, &row.quizID, &row.currentQuestionPublicID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessionRows = append(sessionRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	recovered := make([]domain.RecoveredSession, 0, len(sessionRows))
	for _, row := range sessionRows {
		quiz, instructor, err := loadQuizByID(ctx, s.pool, row.quizID)
		if err != nil {
			return nil, err
		}
		players, err := s.loadPlayers(ctx, row.id)
		if err != nil {
			return nil, err
		}
		answers, err := s.loadAnswers(ctx, row.id)
		if err != nil {
			return nil, err
		}
		recovered = append(recovered, domain.RecoveredSession{
			ID:                      row.id,
			Code:                    row.code,
			Status:                  row.status,
			CurrentQuestionPublicID: row.currentQuestionPublicID,
			Quiz:                    quiz,
			Instructor:              instructor,
			Players:                 players,
			Answers:                 answers,
		})
	}
	return recovered, nil
}

func (s *Store) SavePlayerResults(ctx context.Context, sessionID int64, results []domain.PlayerResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`UPDATE players SET grade = $2, score = $3 WHERE id = $1 AND session_id = $4`,
			r.PlayerID, r.Grade, r.Score, sessionID,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save player results: %w", err)
		}
	}
	return nil
}

func (s *Store) SessionReport(ctx context.Context, publicID string) (domain.SessionReport, error) {
	var (
		report    domain.SessionReport
		sessionID int64
		quizID    int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT s.id, s.public_id, s.code, s.status, s.quiz_id, q.public_id, q.title
		 FROM sessions s JOIN quizzes q ON q.id = s.quiz_id
		 WHERE s.public_id = $1`,
		publicID,
	).Scan(&sessionID, &report.PublicID, &report.Code, &report.Status, &quizID, &report.Quiz.PublicID, &report.Quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionReport{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionReport{}, fmt.Errorf("load session report: %w", err)
	}

	playerRows, err := s.pool.Query(ctx,
		`SELECT u.id, u.public_id, u.name, p.grade, p.score
		 FROM players p JOIN users u ON u.id = p.user_id
		 WHERE p.session_id = $1 ORDER BY p.id`,
		sessionID,
	)
	if err != nil {
		return domain.SessionReport{}, fmt.Errorf("load report players: %w", err)
	}
	defer playerRows.Close()
	for playerRows.Next() {
		var p domain.ReportPlayer
		if err := playerRows.Scan(&p.User.ID, &p.User.PublicID, &p.User.Name, &p.Grade, &p.Score); err != nil {
			return domain.SessionReport{}, fmt.Errorf("scan report player: %w", err)
		}
		report.Players = append(report.Players, p)
	}
	if err := playerRows.Err(); err != nil {
		return domain.SessionReport{}, fmt.Errorf("read report players: %w", err)
	}

	questions, err := loadQuestions(ctx, s.pool, quizID)
	if err != nil {
		return domain.SessionReport{}, err
	}
	type answerRow struct {
		value      string
		questionID int64
		user       domain.User
	}
	answerRows, err := s.pool.Query(ctx,
		`SELECT a.value, a.question_id, u.id, u.public_id, u.name
		 FROM answers a
		 JOIN players p ON p.id = a.player_id
		 JOIN users u ON u.id = p.user_id
		 WHERE a.session_id = $1 ORDER BY a.id`,
		sessionID,
	)
	if err != nil {
		return domain.SessionReport{}, fmt.Errorf("load report answers: %w", err)
	}
	defer answerRows.Close()
	answersByQuestion := make(map[int64][]answerRow)
	for answerRows.Next() {
		var a answerRow
		if err := answerRows.Scan(&a.value, &a.questionID, &a.user.ID, &a.user.PublicID, &a.user.Name); err != nil {
			return domain.SessionReport{}, fmt.Errorf("scan report answer: %w", err)
		}
		answersByQuestion[a.questionID] = append(answersByQuestion[a.questionID], a)
	}
	if err := answerRows.Err(); err != nil {
		return domain.SessionReport{}, fmt.Errorf("read report answers: %w", err)
	}

	for _, question := range questions {
		rq := domain.ReportQuestion{
			PublicID:      question.PublicID,
			Type:          question.Type,
			Description:   question.Description,
			TimeLimit:     question.TimeLimit,
			CorrectAnswer: question.CorrectAnswer(),
		}
		correct := 0
		for _, a := range answersByQuestion[question.ID] {
			isCorrect := strings.EqualFold(a.value, rq.CorrectAnswer)
			if isCorrect {
				correct++
			}
			rq.Answers = append(rq.Answers, domain.ReportAnswer{
				Value:       a.value,
				GivenAnswer: question.DisplayAnswer(a.value),
				IsCorrect:   isCorrect,
				User:        a.user,
			})
		}
		if len(report.Players) > 0 {
			rq.CorrectAnswerPercentage = float64(correct) / float64(len(report.Players))
		}
		report.Questions = append(report.Questions, rq)
	}
	return report, nil
}

func (s *Store) loadPlayers(ctx context.Context, sessionID int64) ([]domain.RecoveredPlayer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, u.id, u.public_id, u.name
		 FROM players p JOIN users u ON u.id = p.user_id
		 WHERE p.session_id = $1 ORDER BY p.id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	defer rows.Close()

	var players []domain.RecoveredPlayer
	for rows.Next() {
		var p domain.RecoveredPlayer
		if err := rows.Scan(&p.ID, &p.User.ID, &p.User.PublicID, &p.User.Name); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// loadAnswers returns the session's ledger in insertion order; replay
// depends on that order.
func (s *Store) loadAnswers(ctx context.Context, sessionID int64) ([]domain.RecoveredAnswer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.value, u.public_id, q.public_id
		 FROM answers a
		 JOIN players p ON p.id = a.player_id
		 JOIN users u ON u.id = p.user_id
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.session_id = $1 ORDER BY a.id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.RecoveredAnswer
	for rows.Next() {
		var a domain.RecoveredAnswer
		if err := rows.Scan(&a.Value, &a.UserPublicID, &a.QuestionPublicID); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
