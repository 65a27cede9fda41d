package app

import (
	"sort"
	"strings"
	"time"

	"quizlive-service/internal/domain"
)

const (
	correctAnswerPoints = 100
	// Only the first 20 correct responders earn a velocity bonus.
	velocityBonusWindow = 20
	// Streak bonus looks back at most two questions.
	longestStreak = 2
)

// QuizProgressEngine walks a session through its quiz: it owns the question
// cursor, records answers with their computed feedback, and derives the
// instructor and participant views of each closed question. It performs no
// I/O and is not safe for concurrent use on its own; the owning session
// serializes access.
type QuizProgressEngine struct {
	quiz    domain.Quiz
	current int
	started map[string]int64 // question public id -> unix ms
	answers map[string][]domain.Answer
	now     func() time.Time
}

func NewQuizProgressEngine(quiz domain.Quiz) *QuizProgressEngine {
	return NewQuizProgressEngineWithClock(quiz, time.Now)
}

// NewQuizProgressEngineWithClock allows deterministic timestamps in tests.
func NewQuizProgressEngineWithClock(quiz domain.Quiz, now func() time.Time) *QuizProgressEngine {
	return &QuizProgressEngine{
		quiz:    quiz,
		started: make(map[string]int64),
		answers: make(map[string][]domain.Answer),
		now:     now,
	}
}

// Quiz returns the client-facing quiz summary.
func (e *QuizProgressEngine) Quiz() domain.QuizSummary {
	return domain.QuizSummary{PublicID: e.quiz.PublicID, Title: e.quiz.Title}
}

// CurrentQuestion returns the question under the cursor with correctness
// data stripped from its options.
func (e *QuizProgressEngine) CurrentQuestion() domain.QuestionView {
	q := e.quiz.Questions[e.current]
	options := make([]domain.QuestionOptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, domain.QuestionOptionView{
			PublicID:    opt.PublicID,
			Description: opt.Description,
		})
	}
	return domain.QuestionView{
		ID:          q.ID,
		PublicID:    q.PublicID,
		Description: q.Description,
		Type:        q.Type,
		TimeLimit:   q.TimeLimit,
		Index:       e.current + 1,
		Total:       len(e.quiz.Questions),
		Options:     options,
		StartedAt:   e.started[q.PublicID],
	}
}

// StartCurrentQuestion records the current question's start timestamp on
// first call. Subsequent calls return the same timestamp, so clients can
// always derive the remaining time from it.
func (e *QuizProgressEngine) StartCurrentQuestion() domain.QuestionView {
	q := e.quiz.Questions[e.current]
	if _, ok := e.started[q.PublicID]; !ok {
		e.started[q.PublicID] = e.now().UnixMilli()
	}
	return e.CurrentQuestion()
}

// Advance moves the cursor forward, clamped to the last question.
func (e *QuizProgressEngine) Advance() {
	if e.current < len(e.quiz.Questions)-1 {
		e.current++
	}
}

// Rollback moves the cursor back one step, clamped to zero. Only session
// recovery uses it.
func (e *QuizProgressEngine) Rollback() {
	if e.current > 0 {
		e.current--
	}
}

// QuestionIDByPublicID resolves a question's durable id.
func (e *QuizProgressEngine) QuestionIDByPublicID(publicID string) (int64, bool) {
	for _, q := range e.quiz.Questions {
		if q.PublicID == publicID {
			return q.ID, true
		}
	}
	return 0, false
}

// RecordAnswer scores and appends an answer to the current question's
// ledger. It is a no-op when questionPublicID is not the current question
// or when the participant already answered it. Feedback is computed before
// the append so the velocity bonus sees only prior responders.
func (e *QuizProgressEngine) RecordAnswer(userPublicID, questionPublicID, givenAnswer string, participantCount int, origin domain.AnswerOrigin) (domain.Answer, bool) {
	current := e.quiz.Questions[e.current]
	if current.PublicID != questionPublicID {
		return domain.Answer{}, false
	}
	if e.HasAnswered(userPublicID, questionPublicID) {
		return domain.Answer{}, false
	}
	answer := domain.Answer{
		UserPublicID: userPublicID,
		GivenAnswer:  givenAnswer,
		Feedback:     e.feedback(userPublicID, questionPublicID, givenAnswer, participantCount),
		Origin:       origin,
	}
	e.answers[questionPublicID] = append(e.answers[questionPublicID], answer)
	return answer, true
}

// HasAnswered reports whether the participant has an answer on record for
// the question.
func (e *QuizProgressEngine) HasAnswered(userPublicID, questionPublicID string) bool {
	for _, a := range e.answers[questionPublicID] {
		if a.UserPublicID == userPublicID {
			return true
		}
	}
	return false
}

// AnsweredBy lists the participants that answered the question, in answer
// order.
func (e *QuizProgressEngine) AnsweredBy(questionPublicID string) []string {
	answers := e.answers[questionPublicID]
	ids := make([]string, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.UserPublicID)
	}
	return ids
}

// QuestionAnswers returns the question's ledger in append order.
func (e *QuizProgressEngine) QuestionAnswers(questionPublicID string) []domain.Answer {
	return e.answers[questionPublicID]
}

// ParticipantFeedback returns the participant's view of a question: their
// answer, its correctness and bonuses. Zero-valued feedback (with the
// correct answer filled in) is returned when they did not answer.
func (e *QuizProgressEngine) ParticipantFeedback(userPublicID, questionPublicID string) domain.ParticipantFeedback {
	feedback := domain.ParticipantFeedback{}
	question, ok := e.questionByPublicID(questionPublicID)
	if !ok {
		return feedback
	}
	feedback.CorrectAnswer = question.CorrectAnswer()
	for _, a := range e.answers[questionPublicID] {
		if a.UserPublicID != userPublicID {
			continue
		}
		feedback.GivenAnswer = a.GivenAnswer
		feedback.IsCorrect = a.Feedback.IsCorrect
		feedback.Points = a.Feedback.Points
		feedback.VelocityBonus = a.Feedback.VelocityBonus
		feedback.StreakBonus = a.Feedback.StreakBonus
		break
	}
	return feedback
}

// AggregateFeedback returns the instructor's view of a question: the
// correct answer plus a histogram of case-folded given answers to the
// participants that gave them.
func (e *QuizProgressEngine) AggregateFeedback(questionPublicID string) domain.QuestionFeedback {
	feedback := domain.QuestionFeedback{Answers: map[string][]string{}}
	question, ok := e.questionByPublicID(questionPublicID)
	if !ok {
		return feedback
	}
	feedback.CorrectAnswer = question.CorrectAnswer()
	for _, a := range e.answers[questionPublicID] {
		given := strings.ToLower(a.GivenAnswer)
		feedback.Answers[given] = append(feedback.Answers[given], a.UserPublicID)
	}
	return feedback
}

// Grades computes each participant's final grade: correct answers over
// total question count. Sorted by participant id for stable output.
func (e *QuizProgressEngine) Grades() []domain.GradeItem {
	correct := make(map[string]int)
	for _, q := range e.quiz.Questions {
		for _, a := range e.answers[q.PublicID] {
			if a.Feedback.IsCorrect {
				correct[a.UserPublicID]++
			}
		}
	}
	total := len(e.quiz.Questions)
	grades := make([]domain.GradeItem, 0, len(correct))
	for id, n := range correct {
		grade := 0.0
		if total > 0 {
			grade = float64(n) / float64(total)
		}
		grades = append(grades, domain.GradeItem{UserPublicID: id, Grade: grade})
	}
	sort.Slice(grades, func(i, j int) bool {
		return grades[i].UserPublicID < grades[j].UserPublicID
	})
	return grades
}

func (e *QuizProgressEngine) questionByPublicID(publicID string) (domain.Question, bool) {
	for _, q := range e.quiz.Questions {
		if q.PublicID == publicID {
			return q, true
		}
	}
	return domain.Question{}, false
}

func (e *QuizProgressEngine) feedback(userPublicID, questionPublicID, givenAnswer string, participantCount int) domain.AnswerFeedback {
	correct := strings.EqualFold(givenAnswer, e.quiz.Questions[e.current].CorrectAnswer())
	if !correct {
		return domain.AnswerFeedback{}
	}
	return domain.AnswerFeedback{
		IsCorrect:     true,
		Points:        correctAnswerPoints,
		StreakBonus:   e.streakBonus(userPublicID, questionPublicID),
		VelocityBonus: e.velocityBonus(questionPublicID, participantCount),
	}
}

// velocityBonus rewards the fastest correct responders: the first of n
// participants gets min(n, 20)-1 and the bonus shrinks by one per prior
// answer, bottoming out at zero.
func (e *QuizProgressEngine) velocityBonus(questionPublicID string, participantCount int) int {
	window := participantCount
	if window > velocityBonusWindow {
		window = velocityBonusWindow
	}
	bonus := window - (len(e.answers[questionPublicID]) + 1)
	if bonus < 0 {
		return 0
	}
	return bonus
}

func (e *QuizProgressEngine) streakBonus(userPublicID, questionPublicID string) int {
	switch e.streak(userPublicID, questionPublicID) {
	case 0:
		return 0
	case 1:
		return 10
	default:
		return 20
	}
}

// streak counts consecutive correct answers on the questions immediately
// preceding questionPublicID, capped at longestStreak. The first question
// can never carry a streak.
func (e *QuizProgressEngine) streak(userPublicID, questionPublicID string) int {
	index := -1
	for i, q := range e.quiz.Questions {
		if q.PublicID == questionPublicID {
			index = i
			break
		}
	}
	if index < 1 {
		return 0
	}

	streak := 0
	for i := index - 1; i >= 0 && streak < longestStreak; i-- {
		answered := false
		for _, a := range e.answers[e.quiz.Questions[i].PublicID] {
			if a.UserPublicID == userPublicID {
				answered = a.Feedback.IsCorrect
				break
			}
		}
		if !answered {
			break
		}
		streak++
	}
	return streak
}
