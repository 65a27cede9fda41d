package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
	"quizlive-service/internal/infra/memory"
)

type fakeConn struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *fakeConn) Send(event domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *fakeConn) eventsOfType(eventType string) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type sessionFixture struct {
	registry   *app.SessionRegistry
	store      *memory.SessionStore
	instructor domain.User
	code       string
	runtime    *app.SessionRuntime
}

func newSessionFixture(t *testing.T, quiz domain.Quiz, grace time.Duration) *sessionFixture {
	t.Helper()
	instructor := domain.User{ID: 1, PublicID: "instructor-1", Name: "Teacher"}
	store := memory.NewSessionStore()
	store.RegisterQuiz(quiz, instructor)

	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		quiz.PublicID: quiz,
	}), time.Minute)
	registry := app.NewSessionRegistry(store, quizzes, grace)

	code, err := registry.Create(context.Background(), instructor, quiz.PublicID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	runtime, err := registry.Get(code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return &sessionFixture{
		registry:   registry,
		store:      store,
		instructor: instructor,
		code:       code,
		runtime:    runtime,
	}
}

func (f *sessionFixture) join(t *testing.T, user domain.User) {
	t.Helper()
	f.store.RegisterUser(user)
	if err := f.runtime.AddParticipant(context.Background(), user, domain.LMSMetadata{}); err != nil {
		t.Fatalf("join %s: %v", user.PublicID, err)
	}
}

func (f *sessionFixture) advance(t *testing.T, want domain.SessionStatus) {
	t.Helper()
	if err := f.registry.AdvanceStep(context.Background(), f.code, f.instructor.PublicID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := f.runtime.Status(); got != want {
		t.Fatalf("expected status %s after advance, got %s", want, got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a", "b"), 0)
	p1 := domain.User{ID: 11, PublicID: "p1", Name: "Alice"}
	p2 := domain.User{ID: 12, PublicID: "p2", Name: "Bob"}
	f.join(t, p1)
	f.join(t, p2)

	if got := f.runtime.Status(); got != domain.StatusWaitingStart {
		t.Fatalf("expected a new session at waiting-start, got %s", got)
	}

	f.advance(t, domain.StatusShowingQuestion)
	if err := f.runtime.AnswerQuestion("p1", "q1", "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.runtime.AnswerQuestion("p2", "q1", "nope"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	f.advance(t, domain.StatusFeedbackQuestion)
	f.advance(t, domain.StatusFeedbackSession)
	f.advance(t, domain.StatusShowingQuestion)

	question := f.runtime.InstructorState().Question
	if question == nil || question.PublicID != "q2" {
		t.Fatalf("expected the second question on screen, got %+v", question)
	}
	if err := f.runtime.AnswerQuestion("p1", "q2", "b"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	f.advance(t, domain.StatusFeedbackQuestion)
	f.advance(t, domain.StatusFeedbackSession)
	f.advance(t, domain.StatusEnding)
	f.advance(t, domain.StatusFinished)

	// Finished sessions stay queryable during the grace window.
	if _, err := f.registry.Get(f.code); err != nil {
		t.Fatalf("expected finished session still queryable, got %v", err)
	}

	ranking := f.runtime.InstructorState().Ranking
	if len(ranking) != 2 {
		t.Fatalf("expected two rank groups in the final ranking, got %+v", ranking)
	}
	if ranking[0].Players[0].Name != "Alice" {
		t.Fatalf("expected Alice leading, got %+v", ranking[0])
	}
}

func TestAnswerOutsideShowQuestionIgnored(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)
	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})

	// Still at waiting-start; the answer must be dropped without error.
	if err := f.runtime.AnswerQuestion("p1", "q1", "a"); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}

	f.advance(t, domain.StatusShowingQuestion)
	if ready := f.runtime.InstructorState().ReadyParticipants; len(ready) != 0 {
		t.Fatalf("expected no recorded answers, got %+v", ready)
	}
}

func TestAnswerFromNonParticipant(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)
	f.advance(t, domain.StatusShowingQuestion)

	err := f.runtime.AnswerQuestion("stranger", "q1", "a")
	if !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestAdvanceRequiresInstructor(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)

	err := f.registry.AdvanceStep(context.Background(), f.code, "someone-else")
	if !errors.Is(err, domain.ErrNotInstructor) {
		t.Fatalf("expected ErrNotInstructor, got %v", err)
	}
	if got := f.runtime.Status(); got != domain.StatusWaitingStart {
		t.Fatalf("expected the session untouched, got %s", got)
	}
}

func TestAdvanceUnknownSession(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)

	err := f.registry.AdvanceStep(context.Background(), "NOSUCH", f.instructor.PublicID)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRoleSpecificSnapshots(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)
	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})
	f.join(t, domain.User{ID: 12, PublicID: "p2", Name: "Bob"})

	f.advance(t, domain.StatusShowingQuestion)
	f.runtime.AnswerQuestion("p1", "q1", "a")

	instructor := f.runtime.InstructorState()
	if len(instructor.ReadyParticipants) != 1 || instructor.ReadyParticipants[0] != "p1" {
		t.Fatalf("expected p1 marked ready, got %+v", instructor.ReadyParticipants)
	}

	answered := f.runtime.ParticipantState("p1")
	if answered.Answered == nil || !*answered.Answered {
		t.Fatalf("expected p1 to see themselves answered, got %+v", answered.Answered)
	}
	waiting := f.runtime.ParticipantState("p2")
	if waiting.Answered == nil || *waiting.Answered {
		t.Fatalf("expected p2 to see themselves unanswered, got %+v", waiting.Answered)
	}

	f.advance(t, domain.StatusFeedbackQuestion)

	instructor = f.runtime.InstructorState()
	if instructor.AggregateFeedback == nil || len(instructor.AggregateFeedback.Answers["a"]) != 1 {
		t.Fatalf("expected the answer histogram, got %+v", instructor.AggregateFeedback)
	}
	personal := f.runtime.ParticipantState("p1")
	if personal.Feedback == nil || !personal.Feedback.IsCorrect || personal.Feedback.Points != 100 {
		t.Fatalf("expected personal feedback with points, got %+v", personal.Feedback)
	}
}

func TestInstructorNotifiedOnAnswer(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)
	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})

	conn := &fakeConn{}
	f.runtime.ConnectInstructor(conn)
	f.advance(t, domain.StatusShowingQuestion)
	f.runtime.AnswerQuestion("p1", "q1", "a")

	events := conn.eventsOfType(domain.EventQuestionAnsweredBy)
	if len(events) != 1 {
		t.Fatalf("expected one question-answered-by event, got %d", len(events))
	}
	payload := events[0].Payload.(domain.QuestionAnsweredByPayload)
	if len(payload.ReadyParticipants) != 1 || payload.ReadyParticipants[0] != "p1" {
		t.Fatalf("expected p1 in the ready list, got %+v", payload)
	}
}

func TestRosterChangeNotifications(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)
	conn := &fakeConn{}
	f.runtime.ConnectInstructor(conn)

	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})
	f.runtime.RemoveParticipant("p1")

	events := conn.eventsOfType(domain.EventRosterChanged)
	if len(events) != 2 {
		t.Fatalf("expected join and leave notifications, got %d", len(events))
	}
	after := events[1].Payload.(domain.RosterChangedPayload)
	if len(after.Participants) != 0 {
		t.Fatalf("expected empty roster after leave, got %+v", after.Participants)
	}
}

func TestLastQuestionFeedbackLeadsToEnding(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a"), 0)

	f.advance(t, domain.StatusShowingQuestion)
	f.advance(t, domain.StatusFeedbackQuestion)
	f.advance(t, domain.StatusFeedbackSession)
	// No next question left; the session heads for ending instead.
	f.advance(t, domain.StatusEnding)
	f.advance(t, domain.StatusFinished)
}

func TestTimedQuestionAutoAdvances(t *testing.T) {
	limit := 1
	quiz := textQuiz("a")
	quiz.Questions[0].TimeLimit = &limit
	f := newSessionFixture(t, quiz, 0)

	f.advance(t, domain.StatusShowingQuestion)

	deadline := time.After(3 * time.Second)
	for f.runtime.Status() != domain.StatusFeedbackQuestion {
		select {
		case <-deadline:
			t.Fatalf("expected the timer to close the question, still %s", f.runtime.Status())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestManualAdvanceDisarmsTimer(t *testing.T) {
	limit := 1
	quiz := textQuiz("a", "b")
	quiz.Questions[0].TimeLimit = &limit
	f := newSessionFixture(t, quiz, 0)

	f.advance(t, domain.StatusShowingQuestion)
	f.advance(t, domain.StatusFeedbackQuestion)

	// Were the stale timer still live it would fire around 1.5s and push the
	// session past feedback-question on its own.
	time.Sleep(2 * time.Second)
	if got := f.runtime.Status(); got != domain.StatusFeedbackQuestion {
		t.Fatalf("expected the stale timer to stay inert, got %s", got)
	}
}

func TestEndSessionImmediately(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a", "b"), 50*time.Millisecond)
	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})
	conn := &fakeConn{}
	f.runtime.ConnectParticipant("p1", conn)

	f.advance(t, domain.StatusShowingQuestion)
	if err := f.registry.Remove(context.Background(), f.code, f.instructor.PublicID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := f.runtime.Status(); got != domain.StatusFinished {
		t.Fatalf("expected finished, got %s", got)
	}
	if events := conn.eventsOfType(domain.EventSessionEnded); len(events) != 1 {
		t.Fatalf("expected a session-ended event, got %d", len(events))
	}

	// Past the grace window the code is gone.
	time.Sleep(300 * time.Millisecond)
	if _, err := f.registry.Get(f.code); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected eviction after the grace period, got %v", err)
	}
}

func TestOnlyFreshAnswersPersisted(t *testing.T) {
	f := newSessionFixture(t, textQuiz("a", "b"), 0)
	f.join(t, domain.User{ID: 11, PublicID: "p1", Name: "Alice"})

	f.advance(t, domain.StatusShowingQuestion)
	f.runtime.AnswerQuestion("p1", "q1", "a")
	// Closing the question flushes its answers.
	f.advance(t, domain.StatusFeedbackQuestion)

	recovered, err := f.store.ListOngoingSessions(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(recovered) != 1 || len(recovered[0].Answers) != 1 {
		t.Fatalf("expected exactly one persisted answer, got %+v", recovered)
	}
	if recovered[0].Answers[0].Value != "a" {
		t.Fatalf("expected the given answer persisted verbatim, got %+v", recovered[0].Answers[0])
	}
}
