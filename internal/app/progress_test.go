package app_test

import (
	"fmt"
	"testing"
	"time"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

func textQuiz(answers ...string) domain.Quiz {
	quiz := domain.Quiz{ID: 1, PublicID: "quiz-1", Title: "Test quiz"}
	for i, answer := range answers {
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:                int64(i + 1),
			PublicID:          fmt.Sprintf("q%d", i+1),
			Type:              domain.QuestionText,
			Description:       fmt.Sprintf("question %d", i+1),
			CorrectTextAnswer: answer,
		})
	}
	return quiz
}

func TestRecordAnswerFirstResponder(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("4"))

	answer, ok := engine.RecordAnswer("p1", "q1", "4", 2, domain.AnswerFresh)
	if !ok {
		t.Fatal("expected answer to be recorded")
	}
	if !answer.Feedback.IsCorrect {
		t.Fatal("expected the answer to be correct")
	}
	if answer.Feedback.Points != 100 {
		t.Fatalf("expected 100 points, got %d", answer.Feedback.Points)
	}
	if answer.Feedback.VelocityBonus != 1 {
		t.Fatalf("expected velocity bonus 1 for the first of two responders, got %d", answer.Feedback.VelocityBonus)
	}
	if answer.Feedback.StreakBonus != 0 {
		t.Fatalf("expected no streak bonus on the first question, got %d", answer.Feedback.StreakBonus)
	}
}

func TestRecordAnswerCaseInsensitive(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("Paris"))

	answer, ok := engine.RecordAnswer("p1", "q1", "pArIs", 1, domain.AnswerFresh)
	if !ok || !answer.Feedback.IsCorrect {
		t.Fatalf("expected case-insensitive match to score, got %+v", answer)
	}
}

func TestRecordAnswerWrongAnswer(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("4"))

	answer, ok := engine.RecordAnswer("p1", "q1", "5", 10, domain.AnswerFresh)
	if !ok {
		t.Fatal("expected the answer to be recorded")
	}
	if answer.Feedback.IsCorrect || answer.Feedback.Points != 0 ||
		answer.Feedback.VelocityBonus != 0 || answer.Feedback.StreakBonus != 0 {
		t.Fatalf("expected zero feedback for a wrong answer, got %+v", answer.Feedback)
	}
}

func TestRecordAnswerWrongQuestionIgnored(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a", "b"))

	if _, ok := engine.RecordAnswer("p1", "q2", "b", 1, domain.AnswerFresh); ok {
		t.Fatal("expected answer against a non-current question to be rejected")
	}
	if got := engine.QuestionAnswers("q2"); len(got) != 0 {
		t.Fatalf("expected empty ledger, got %+v", got)
	}
}

func TestRecordAnswerDuplicateRejected(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a"))

	if _, ok := engine.RecordAnswer("p1", "q1", "a", 1, domain.AnswerFresh); !ok {
		t.Fatal("expected first answer to be recorded")
	}
	if _, ok := engine.RecordAnswer("p1", "q1", "a", 1, domain.AnswerFresh); ok {
		t.Fatal("expected second answer from the same participant to be rejected")
	}
	if got := engine.QuestionAnswers("q1"); len(got) != 1 {
		t.Fatalf("expected a single ledger entry, got %d", len(got))
	}
}

func TestVelocityBonusDecreasesPerResponder(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a"))

	want := []int{2, 1, 0}
	for i, id := range []string{"p1", "p2", "p3"} {
		answer, ok := engine.RecordAnswer(id, "q1", "a", 3, domain.AnswerFresh)
		if !ok {
			t.Fatalf("expected answer %d to be recorded", i)
		}
		if answer.Feedback.VelocityBonus != want[i] {
			t.Fatalf("responder %d: expected velocity bonus %d, got %d", i+1, want[i], answer.Feedback.VelocityBonus)
		}
	}
}

func TestVelocityBonusCappedWindow(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a"))

	// With 100 participants only the first 20 correct responders earn a bonus.
	answer, _ := engine.RecordAnswer("p1", "q1", "a", 100, domain.AnswerFresh)
	if answer.Feedback.VelocityBonus != 19 {
		t.Fatalf("expected velocity bonus 19, got %d", answer.Feedback.VelocityBonus)
	}
}

func TestStreakBonusGrowsThenCaps(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a", "b", "c", "d"))

	record := func(question, value string, wantStreak int) {
		t.Helper()
		answer, ok := engine.RecordAnswer("p1", question, value, 1, domain.AnswerFresh)
		if !ok {
			t.Fatalf("expected answer on %s to be recorded", question)
		}
		if answer.Feedback.StreakBonus != wantStreak {
			t.Fatalf("%s: expected streak bonus %d, got %d", question, wantStreak, answer.Feedback.StreakBonus)
		}
	}

	record("q1", "a", 0)
	engine.Advance()
	record("q2", "b", 10)
	engine.Advance()
	record("q3", "c", 20)
	engine.Advance()
	// The streak lookback is capped at two questions.
	record("q4", "d", 20)
}

func TestStreakBrokenByWrongAnswer(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a", "b", "c"))

	engine.RecordAnswer("p1", "q1", "a", 1, domain.AnswerFresh)
	engine.Advance()
	engine.RecordAnswer("p1", "q2", "wrong", 1, domain.AnswerFresh)
	engine.Advance()

	answer, _ := engine.RecordAnswer("p1", "q3", "c", 1, domain.AnswerFresh)
	if answer.Feedback.StreakBonus != 0 {
		t.Fatalf("expected wrong answer to break the streak, got bonus %d", answer.Feedback.StreakBonus)
	}
}

func TestStartCurrentQuestionIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engine := app.NewQuizProgressEngineWithClock(textQuiz("a"), func() time.Time { return now })

	first := engine.StartCurrentQuestion()
	now = now.Add(time.Minute)
	second := engine.StartCurrentQuestion()

	if first.StartedAt == 0 {
		t.Fatal("expected StartedAt to be set")
	}
	if first.StartedAt != second.StartedAt {
		t.Fatalf("expected a stable start timestamp, got %d then %d", first.StartedAt, second.StartedAt)
	}
}

func TestAdvanceAndRollbackClamp(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a", "b"))

	engine.Rollback()
	if got := engine.CurrentQuestion().PublicID; got != "q1" {
		t.Fatalf("expected rollback to clamp at the first question, got %s", got)
	}

	engine.Advance()
	engine.Advance()
	engine.Advance()
	if got := engine.CurrentQuestion().PublicID; got != "q2" {
		t.Fatalf("expected advance to clamp at the last question, got %s", got)
	}
}

func TestCurrentQuestionStripsCorrectness(t *testing.T) {
	quiz := domain.Quiz{
		ID:       1,
		PublicID: "quiz-1",
		Questions: []domain.Question{{
			ID:          1,
			PublicID:    "q1",
			Type:        domain.QuestionMultiChoice,
			Description: "Which number is prime?",
			Options: []domain.Option{
				{ID: 1, PublicID: "o1", Description: "9"},
				{ID: 2, PublicID: "o2", Description: "7", IsCorrect: true},
			},
		}},
	}
	engine := app.NewQuizProgressEngine(quiz)

	view := engine.CurrentQuestion()
	if view.Index != 1 || view.Total != 1 {
		t.Fatalf("expected index 1 of 1, got %d of %d", view.Index, view.Total)
	}
	if len(view.Options) != 2 {
		t.Fatalf("expected both options, got %+v", view.Options)
	}
	for _, opt := range view.Options {
		if opt.PublicID == "" || opt.Description == "" {
			t.Fatalf("expected option identity and text, got %+v", opt)
		}
	}
}

func TestMultiChoiceScoredByOptionID(t *testing.T) {
	quiz := domain.Quiz{
		ID:       1,
		PublicID: "quiz-1",
		Questions: []domain.Question{{
			ID:       1,
			PublicID: "q1",
			Type:     domain.QuestionMultiChoice,
			Options: []domain.Option{
				{ID: 1, PublicID: "o1", Description: "9"},
				{ID: 2, PublicID: "o2", Description: "7", IsCorrect: true},
			},
		}},
	}
	engine := app.NewQuizProgressEngine(quiz)

	answer, _ := engine.RecordAnswer("p1", "q1", "o2", 1, domain.AnswerFresh)
	if !answer.Feedback.IsCorrect {
		t.Fatal("expected the correct option id to score")
	}
	answer, _ = engine.RecordAnswer("p2", "q1", "o1", 1, domain.AnswerFresh)
	if answer.Feedback.IsCorrect {
		t.Fatal("expected a wrong option id not to score")
	}
}

func TestAggregateFeedbackFoldsCase(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("Paris"))

	engine.RecordAnswer("p1", "q1", "Paris", 3, domain.AnswerFresh)
	engine.RecordAnswer("p2", "q1", "paris", 3, domain.AnswerFresh)
	engine.RecordAnswer("p3", "q1", "London", 3, domain.AnswerFresh)

	feedback := engine.AggregateFeedback("q1")
	if feedback.CorrectAnswer != "Paris" {
		t.Fatalf("expected the correct answer exposed, got %q", feedback.CorrectAnswer)
	}
	if got := feedback.Answers["paris"]; len(got) != 2 {
		t.Fatalf("expected case variants folded into one bucket, got %+v", feedback.Answers)
	}
	if got := feedback.Answers["london"]; len(got) != 1 || got[0] != "p3" {
		t.Fatalf("expected p3 under london, got %+v", feedback.Answers)
	}
}

func TestParticipantFeedbackWithoutAnswer(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a"))

	feedback := engine.ParticipantFeedback("p1", "q1")
	if feedback.CorrectAnswer != "a" {
		t.Fatalf("expected correct answer filled in, got %+v", feedback)
	}
	if feedback.IsCorrect || feedback.Points != 0 || feedback.GivenAnswer != "" {
		t.Fatalf("expected zero-valued feedback for a silent participant, got %+v", feedback)
	}
}

func TestGrades(t *testing.T) {
	engine := app.NewQuizProgressEngine(textQuiz("a", "b"))

	engine.RecordAnswer("p1", "q1", "a", 2, domain.AnswerFresh)
	engine.RecordAnswer("p2", "q1", "nope", 2, domain.AnswerFresh)
	engine.Advance()
	engine.RecordAnswer("p1", "q2", "b", 2, domain.AnswerFresh)

	grades := engine.Grades()
	if len(grades) != 1 {
		t.Fatalf("expected only participants with correct answers, got %+v", grades)
	}
	if grades[0].UserPublicID != "p1" || grades[0].Grade != 1.0 {
		t.Fatalf("expected p1 with grade 1.0, got %+v", grades[0])
	}
}

func TestReplayedAnswerScoresLikeFresh(t *testing.T) {
	fresh := app.NewQuizProgressEngine(textQuiz("a", "b"))
	replayed := app.NewQuizProgressEngine(textQuiz("a", "b"))

	fresh.RecordAnswer("p1", "q1", "a", 2, domain.AnswerFresh)
	replayed.RecordAnswer("p1", "q1", "a", 2, domain.AnswerReplayed)

	f := fresh.QuestionAnswers("q1")[0]
	r := replayed.QuestionAnswers("q1")[0]
	if f.Feedback != r.Feedback {
		t.Fatalf("expected identical feedback, fresh %+v replayed %+v", f.Feedback, r.Feedback)
	}
	if r.Origin != domain.AnswerReplayed {
		t.Fatalf("expected replayed origin preserved, got %v", r.Origin)
	}
}
