package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizlive-service/internal/domain"
)

// QuizLoader reads quiz content from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, publicID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := l.pool.QueryRow(ctx,
		`SELECT id, public_id, title FROM quizzes WHERE public_id=$1`,
		publicID,
	).Scan(&quiz.ID, &quiz.PublicID, &quiz.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	quiz.Questions, err = loadQuestions(ctx, l.pool, quiz.ID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func loadQuizByID(ctx context.Context, pool *pgxpool.Pool, id int64) (domain.Quiz, domain.User, error) {
	var quiz domain.Quiz
	var author domain.User
	err := pool.QueryRow(ctx,
		`SELECT q.id, q.public_id, q.title, u.id, u.public_id, u.name
		 FROM quizzes q JOIN users u ON u.id = q.author_id
		 WHERE q.id=$1`,
		id,
	).Scan(&quiz.ID, &quiz.PublicID, &quiz.Title, &author.ID, &author.PublicID, &author.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.User{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, domain.User{}, fmt.Errorf("load quiz by id: %w", err)
	}
	quiz.Questions, err = loadQuestions(ctx, pool, quiz.ID)
	if err != nil {
		return domain.Quiz{}, domain.User{}, err
	}
	return quiz, author, nil
}

func loadQuestions(ctx context.Context, pool *pgxpool.Pool, quizID int64) ([]domain.Question, error) {
	rows, err := pool.Query(ctx,
		`SELECT id, public_id, type, description, time_limit, correct_text_answer
		 FROM questions WHERE quiz_id=$1 ORDER BY id`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.PublicID, &q.Type, &q.Description, &q.TimeLimit, &q.CorrectTextAnswer); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	for i := range questions {
		options, err := loadOptions(ctx, pool, questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Options = options
	}
	return questions, nil
}

func loadOptions(ctx context.Context, pool *pgxpool.Pool, questionID int64) ([]domain.Option, error) {
	rows, err := pool.Query(ctx,
		`SELECT id, public_id, description, is_correct_answer
		 FROM options WHERE question_id=$1 ORDER BY id`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	var options []domain.Option
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.PublicID, &o.Description, &o.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}
