package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizlive-service/internal/domain"
	"quizlive-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if quiz.Title != "Arithmetic" || len(quiz.Questions) != 2 {
		t.Fatalf("unexpected quiz: %+v", quiz)
	}
	if !mr.Exists("quiz:quiz-1") {
		t.Fatal("expected quiz cached under quiz:quiz-1")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get cached quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	// The answer key must survive the round trip; sessions score from it.
	if cached.Questions[0].Options[1].IsCorrect != true {
		t.Fatalf("expected the answer key preserved, got %+v", cached.Questions[0].Options)
	}
	if cached.Questions[1].CorrectTextAnswer != "Paris" {
		t.Fatalf("expected the text answer preserved, got %+v", cached.Questions[1])
	}
}

func TestQuizRepositoryLoaderErrorNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)

	_, err = repo.GetQuiz(context.Background(), "missing")
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if mr.Exists("quiz:missing") {
		t.Fatal("expected no cache entry for a failed load")
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, publicID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, publicID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:       1,
		PublicID: "quiz-1",
		Title:    "Arithmetic",
		Questions: []domain.Question{
			{
				ID:          1,
				PublicID:    "q1",
				Type:        domain.QuestionMultiChoice,
				Description: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: 1, PublicID: "o1", Description: "3"},
					{ID: 2, PublicID: "o2", Description: "4", IsCorrect: true},
				},
			},
			{
				ID:                2,
				PublicID:          "q2",
				Type:              domain.QuestionText,
				Description:       "Capital of France?",
				CorrectTextAnswer: "Paris",
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
