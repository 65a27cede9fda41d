package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sync"
	"time"

	"quizlive-service/internal/domain"
)

const sessionCodeLength = 6

// Ambiguous characters (0/O, 1/I) are left out of join codes.
const sessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultGracePeriod is how long a finished session stays queryable so
// late-arriving clients still see the final state.
const DefaultGracePeriod = 30 * time.Second

// SessionRegistry is the process-wide map of join code to running session.
// A single instance is constructed at startup and passed by reference to
// the connection handlers; different sessions share no mutable state beyond
// this map.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SessionRuntime

	store   SessionStore
	quizzes QuizRepository
	grace   time.Duration
}

func NewSessionRegistry(store SessionStore, quizzes QuizRepository, grace time.Duration) *SessionRegistry {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &SessionRegistry{
		sessions: make(map[string]*SessionRuntime),
		store:    store,
		quizzes:  quizzes,
		grace:    grace,
	}
}

// Create opens a new session over the given quiz, persists it and registers
// the runtime under a fresh unique code.
func (r *SessionRegistry) Create(ctx context.Context, instructor domain.User, quizPublicID string) (string, error) {
	quiz, err := r.quizzes.GetQuiz(ctx, quizPublicID)
	if err != nil {
		return "", err
	}
	if len(quiz.Questions) == 0 {
		return "", domain.ErrQuizEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.uniqueCodeLocked()
	if err != nil {
		return "", err
	}
	runtime := newSessionRuntime(code, instructor, quiz, r.store)
	id, err := r.store.CreateSession(ctx, code, domain.StatusWaitingStart, quiz.ID, runtime.progress.CurrentQuestion().PublicID)
	if err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	runtime.id = id
	r.sessions[code] = runtime
	return code, nil
}

// Get looks up a running (or recently finished, still in grace) session.
func (r *SessionRegistry) Get(code string) (*SessionRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runtime, ok := r.sessions[code]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return runtime, nil
}

// AdvanceStep forwards an instructor advance command to the session. When
// the step finishes the session, eviction is scheduled after the grace
// period.
func (r *SessionRegistry) AdvanceStep(ctx context.Context, code, instructorPublicID string) error {
	runtime, err := r.Get(code)
	if err != nil {
		return err
	}
	if !runtime.IsInstructor(instructorPublicID) {
		return domain.ErrNotInstructor
	}
	finished, err := runtime.AdvanceStep(ctx)
	if err != nil {
		return err
	}
	if finished {
		r.scheduleEviction(code)
	}
	return nil
}

// Remove ends a session immediately (instructor command) and schedules its
// eviction. The runtime stays queryable during the grace window.
func (r *SessionRegistry) Remove(ctx context.Context, code, instructorPublicID string) error {
	runtime, err := r.Get(code)
	if err != nil {
		return err
	}
	if !runtime.IsInstructor(instructorPublicID) {
		return domain.ErrNotInstructor
	}
	if err := runtime.End(ctx); err != nil {
		return err
	}
	r.scheduleEviction(code)
	return nil
}

// RecoverAll rebuilds runtimes for every non-terminal persisted session.
// It runs once at process start, before any traffic is accepted.
func (r *SessionRegistry) RecoverAll(ctx context.Context) error {
	recovered, err := r.store.ListOngoingSessions(ctx)
	if err != nil {
		return fmt.Errorf("list ongoing sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recovered {
		runtime := recoverSessionRuntime(rec, r.store)
		r.sessions[rec.Code] = runtime
		log.Printf("recovered session %s (status %s)", rec.Code, runtime.status)
	}
	return nil
}

// Len reports the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) scheduleEviction(code string) {
	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.sessions, code)
		log.Printf("evicted session %s", code)
	})
}

func (r *SessionRegistry) uniqueCodeLocked() (string, error) {
	for {
		code, err := randomCode(sessionCodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	for i, b := range buf {
		buf[i] = sessionCodeAlphabet[int(b)%len(sessionCodeAlphabet)]
	}
	return string(buf), nil
}
