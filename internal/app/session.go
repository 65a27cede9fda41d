package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"quizlive-service/internal/domain"
)

// Extra slack before a timed question closes automatically, covering
// client-side clock skew on the countdown.
const questionTimerSlack = 500 * time.Millisecond

// Participant pairs a user with the store-assigned player id scoped to
// (user, session).
type Participant struct {
	User     domain.User
	PlayerID int64
}

// SessionRuntime is the per-session state machine. It owns a
// QuizProgressEngine and a RankingTable, drives timer-based auto-advance,
// keeps the participant roster and the connected clients, and persists its
// transitions through the SessionStore.
//
// All entry points are serialized by a per-runtime mutex, so an inbound
// command and a timer callback can never interleave. Persistence writes
// happen under that lock as well, so the stored state never races the
// in-memory transition.
type SessionRuntime struct {
	mu sync.Mutex

	id         int64
	code       string
	instructor domain.User
	status     domain.SessionStatus
	progress   *QuizProgressEngine
	ranking    *RankingTable
	store      SessionStore

	participants map[string]Participant
	roster       []string // join order

	instructorConn   ClientConn
	participantConns map[string]ClientConn

	timer    *time.Timer
	timerGen uint64
}

func newSessionRuntime(code string, instructor domain.User, quiz domain.Quiz, store SessionStore) *SessionRuntime {
	return &SessionRuntime{
		code:             code,
		instructor:       instructor,
		status:           domain.StatusWaitingStart,
		progress:         NewQuizProgressEngine(quiz),
		ranking:          NewRankingTable(),
		store:            store,
		participants:     make(map[string]Participant),
		participantConns: make(map[string]ClientConn),
	}
}

// recoverSessionRuntime rebuilds a runtime from its persisted graph and
// replays the answer ledger to restore scores and the question cursor.
func recoverSessionRuntime(rec domain.RecoveredSession, store SessionStore) *SessionRuntime {
	s := newSessionRuntime(rec.Code, rec.Instructor, rec.Quiz, store)
	s.id = rec.ID
	s.status = rec.Status
	for _, p := range rec.Players {
		s.participants[p.User.PublicID] = Participant{User: p.User, PlayerID: p.ID}
		s.roster = append(s.roster, p.User.PublicID)
	}
	s.replayAnswers(rec.CurrentQuestionPublicID, rec.Answers)
	return s
}

// replayAnswers feeds every persisted answer back through the progress
// engine and ranking table, advancing the cursor question by question until
// it reaches the persisted current-question pointer. Replayed answers are
// tagged so they are never written back to the store.
//
// A timed question interrupted mid-flight cannot have its remaining time
// reconstructed, so when the recovered status is show-question and the
// current question is timed, the session resumes one step earlier: at
// waiting-start if it was the first question, otherwise at the previous
// question's feedback-session screen.
func (s *SessionRuntime) replayAnswers(currentQuestionPublicID string, answers []domain.RecoveredAnswer) {
	n := len(s.roster)
	steps := 0
	for {
		question := s.progress.CurrentQuestion()
		for _, a := range answers {
			if a.QuestionPublicID != question.PublicID {
				continue
			}
			replayed, ok := s.progress.RecordAnswer(a.UserPublicID, a.QuestionPublicID, a.Value, n, domain.AnswerReplayed)
			if !ok {
				continue
			}
			fb := replayed.Feedback
			s.ranking.UpdateScore(a.UserPublicID, fb.Points+fb.StreakBonus+fb.VelocityBonus)
		}
		if question.PublicID == currentQuestionPublicID {
			break
		}
		s.progress.Advance()
		if s.progress.CurrentQuestion().PublicID == question.PublicID {
			// Cursor is clamped at the last question and the stored pointer
			// never matched; stop instead of spinning.
			log.Printf("session %s: persisted question pointer %s not found during replay", s.code, currentQuestionPublicID)
			break
		}
		steps++
	}

	if s.status != domain.StatusShowingQuestion {
		return
	}
	if s.progress.CurrentQuestion().TimeLimit == nil {
		return
	}
	if steps == 0 {
		s.status = domain.StatusWaitingStart
		return
	}
	s.status = domain.StatusFeedbackSession
	s.progress.Rollback()
}

// Code returns the session's join code.
func (s *SessionRuntime) Code() string {
	return s.code
}

// Status returns the current state-machine status.
func (s *SessionRuntime) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsInstructor reports whether publicID owns this session.
func (s *SessionRuntime) IsInstructor(publicID string) bool {
	return s.instructor.PublicID == publicID
}

// IsParticipant reports whether publicID has joined this session.
func (s *SessionRuntime) IsParticipant(publicID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[publicID]
	return ok
}

// AdvanceStep drives the state machine one transition forward. It reports
// whether this step finished the session, which tells the registry to
// schedule eviction.
func (s *SessionRuntime) AdvanceStep(ctx context.Context) (bool, error) {
	return s.advance(ctx, 0, false)
}

func (s *SessionRuntime) timerFired(gen uint64) {
	if _, err := s.advance(context.Background(), gen, true); err != nil {
		log.Printf("session %s: automatic question close failed: %v", s.code, err)
	}
}

func (s *SessionRuntime) advance(ctx context.Context, gen uint64, fromTimer bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A timer that was cancelled or superseded before it could take the
	// lock must not advance the session a second time.
	if fromTimer && gen != s.timerGen {
		return false, nil
	}
	s.cancelTimerLocked()

	finished := false
	switch s.status {
	case domain.StatusWaitingStart:
		if err := s.saveStatusLocked(ctx, domain.StatusShowingQuestion, nil); err != nil {
			return false, err
		}
		s.status = domain.StatusShowingQuestion
		s.startCurrentQuestionLocked()

	case domain.StatusShowingQuestion:
		if err := s.saveQuestionAnswersLocked(ctx); err != nil {
			return false, err
		}
		if err := s.saveStatusLocked(ctx, domain.StatusFeedbackQuestion, nil); err != nil {
			return false, err
		}
		s.status = domain.StatusFeedbackQuestion

	case domain.StatusFeedbackQuestion:
		if err := s.saveStatusLocked(ctx, domain.StatusFeedbackSession, nil); err != nil {
			return false, err
		}
		s.status = domain.StatusFeedbackSession

	case domain.StatusFeedbackSession:
		before := s.progress.CurrentQuestion()
		s.progress.Advance()
		next := s.progress.CurrentQuestion()
		if next.PublicID == before.PublicID {
			if err := s.saveStatusLocked(ctx, domain.StatusEnding, nil); err != nil {
				return false, err
			}
			s.status = domain.StatusEnding
		} else {
			if err := s.saveStatusLocked(ctx, domain.StatusShowingQuestion, &next.PublicID); err != nil {
				return false, err
			}
			s.status = domain.StatusShowingQuestion
			s.startCurrentQuestionLocked()
		}

	case domain.StatusEnding:
		if err := s.endLocked(ctx); err != nil {
			return false, err
		}
		finished = true

	case domain.StatusFinished:
		// Terminal; nothing to do.
	}

	s.broadcastStateLocked()
	return finished, nil
}

// End finishes the session immediately, cancelling any pending timer and
// skipping the intermediate feedback states.
func (s *SessionRuntime) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	if s.status == domain.StatusFinished {
		return nil
	}
	if err := s.endLocked(ctx); err != nil {
		return err
	}
	s.broadcastStateLocked()
	return nil
}

func (s *SessionRuntime) endLocked(ctx context.Context) error {
	if err := s.saveStatusLocked(ctx, domain.StatusFinished, nil); err != nil {
		return err
	}
	if err := s.savePlayerResultsLocked(ctx); err != nil {
		return err
	}
	s.status = domain.StatusFinished

	ended := domain.Event{
		Type:    domain.EventSessionEnded,
		Payload: domain.SessionEndedPayload{Code: s.code},
	}
	if s.instructorConn != nil {
		s.instructorConn.Send(ended)
	}
	for _, conn := range s.participantConns {
		conn.Send(ended)
	}
	return nil
}

// AnswerQuestion records a participant's answer. Answers submitted outside
// show-question, for a non-current question, or as a duplicate are silently
// ignored; only membership is an error.
func (s *SessionRuntime) AnswerQuestion(userPublicID, questionPublicID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userPublicID]; !ok {
		return domain.ErrNotParticipant
	}
	if s.status != domain.StatusShowingQuestion {
		return nil
	}
	recorded, ok := s.progress.RecordAnswer(userPublicID, questionPublicID, answer, len(s.roster), domain.AnswerFresh)
	if !ok {
		return nil
	}
	fb := recorded.Feedback
	s.ranking.UpdateScore(userPublicID, fb.Points+fb.StreakBonus+fb.VelocityBonus)

	if s.instructorConn != nil {
		s.instructorConn.Send(domain.Event{
			Type: domain.EventQuestionAnsweredBy,
			Payload: domain.QuestionAnsweredByPayload{
				Code:              s.code,
				QuestionPublicID:  questionPublicID,
				ReadyParticipants: s.progress.AnsweredBy(questionPublicID),
			},
		})
	}
	return nil
}

// AddParticipant joins a user to the session, upserting the store-level
// player record. Joining twice refreshes the record without duplicating the
// roster entry.
func (s *SessionRuntime) AddParticipant(ctx context.Context, user domain.User, lms domain.LMSMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	playerID, err := s.store.UpsertPlayer(ctx, domain.PlayerRecord{
		UserID:    user.ID,
		SessionID: s.id,
		LMS:       lms,
	})
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	if _, ok := s.participants[user.PublicID]; !ok {
		s.roster = append(s.roster, user.PublicID)
	}
	s.participants[user.PublicID] = Participant{User: user, PlayerID: playerID}
	s.notifyRosterLocked()
	return nil
}

// RemoveParticipant drops a user from the roster. Answers they already gave
// stay in the ledger.
func (s *SessionRuntime) RemoveParticipant(userPublicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userPublicID]; !ok {
		return
	}
	delete(s.participants, userPublicID)
	for i, id := range s.roster {
		if id == userPublicID {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			break
		}
	}
	s.notifyRosterLocked()
}

func (s *SessionRuntime) ConnectInstructor(conn ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructorConn = conn
}

func (s *SessionRuntime) DisconnectInstructor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructorConn = nil
}

func (s *SessionRuntime) ConnectParticipant(userPublicID string, conn ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participantConns[userPublicID] = conn
}

func (s *SessionRuntime) DisconnectParticipant(userPublicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participantConns, userPublicID)
}

// InstructorState builds the instructor snapshot for the current status.
func (s *SessionRuntime) InstructorState() domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructorStateLocked()
}

// ParticipantState builds the given participant's snapshot for the current
// status.
func (s *SessionRuntime) ParticipantState(userPublicID string) domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantStateLocked(userPublicID)
}

func (s *SessionRuntime) baseStateLocked() domain.StateSnapshot {
	participants := make([]string, len(s.roster))
	copy(participants, s.roster)
	return domain.StateSnapshot{
		Status:       s.status,
		Code:         s.code,
		Quiz:         s.progress.Quiz(),
		Participants: participants,
	}
}

func (s *SessionRuntime) instructorStateLocked() domain.StateSnapshot {
	state := s.baseStateLocked()
	switch s.status {
	case domain.StatusWaitingStart:
	case domain.StatusShowingQuestion:
		question := s.progress.CurrentQuestion()
		state.Question = &question
		state.ReadyParticipants = s.progress.AnsweredBy(question.PublicID)
	case domain.StatusFeedbackQuestion:
		question := s.progress.CurrentQuestion()
		feedback := s.progress.AggregateFeedback(question.PublicID)
		state.Question = &question
		state.AggregateFeedback = &feedback
	case domain.StatusFeedbackSession:
		state.Ranking = s.rankingViewLocked(3)
	default:
		state.Ranking = s.rankingViewLocked(0)
	}
	return state
}

func (s *SessionRuntime) participantStateLocked(userPublicID string) domain.StateSnapshot {
	state := s.baseStateLocked()
	switch s.status {
	case domain.StatusWaitingStart:
	case domain.StatusShowingQuestion:
		question := s.progress.CurrentQuestion()
		answered := s.progress.HasAnswered(userPublicID, question.PublicID)
		state.Question = &question
		state.Answered = &answered
	case domain.StatusFeedbackQuestion:
		question := s.progress.CurrentQuestion()
		feedback := s.progress.ParticipantFeedback(userPublicID, question.PublicID)
		state.Question = &question
		state.Feedback = &feedback
	case domain.StatusFeedbackSession:
		state.Ranking = s.rankingViewLocked(3)
	default:
		state.Ranking = s.rankingViewLocked(0)
	}
	return state
}

// rankingViewLocked resolves score groups to display names. Participants
// that left the roster show up as "unknown".
func (s *SessionRuntime) rankingViewLocked(topN int) []domain.RankGroup {
	groups := s.ranking.Ranking(topN)
	view := make([]domain.RankGroup, 0, len(groups))
	for _, g := range groups {
		players := make([]domain.RankedPlayer, 0, len(g.Entries))
		for _, entry := range g.Entries {
			name := "unknown"
			if p, ok := s.participants[entry.ID]; ok {
				name = p.User.Name
			}
			players = append(players, domain.RankedPlayer{Name: name, Points: entry.Score})
		}
		view = append(view, domain.RankGroup{Rank: g.Rank, Players: players})
	}
	return view
}

func (s *SessionRuntime) broadcastStateLocked() {
	if s.instructorConn != nil {
		s.instructorConn.Send(domain.Event{
			Type:    domain.EventStateUpdate,
			Payload: s.instructorStateLocked(),
		})
	}
	for userPublicID, conn := range s.participantConns {
		conn.Send(domain.Event{
			Type:    domain.EventStateUpdate,
			Payload: s.participantStateLocked(userPublicID),
		})
	}
}

func (s *SessionRuntime) notifyRosterLocked() {
	if s.instructorConn == nil {
		return
	}
	participants := make([]string, len(s.roster))
	copy(participants, s.roster)
	s.instructorConn.Send(domain.Event{
		Type:    domain.EventRosterChanged,
		Payload: domain.RosterChangedPayload{Code: s.code, Participants: participants},
	})
}

// startCurrentQuestionLocked records the question's start time and, for
// timed questions, arms the auto-advance timer. Each arm bumps the
// generation so earlier timers become inert.
func (s *SessionRuntime) startCurrentQuestionLocked() {
	question := s.progress.StartCurrentQuestion()
	if question.TimeLimit == nil {
		return
	}
	s.timerGen++
	gen := s.timerGen
	d := time.Duration(*question.TimeLimit)*time.Second + questionTimerSlack
	s.timer = time.AfterFunc(d, func() { s.timerFired(gen) })
}

func (s *SessionRuntime) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *SessionRuntime) saveStatusLocked(ctx context.Context, status domain.SessionStatus, currentQuestionPublicID *string) error {
	err := s.store.UpdateSession(ctx, s.id, domain.SessionUpdate{
		Status:                  &status,
		CurrentQuestionPublicID: currentQuestionPublicID,
	})
	if err != nil {
		return fmt.Errorf("persist session update: %w", err)
	}
	return nil
}

// saveQuestionAnswersLocked flushes the current question's fresh answers to
// the store. Replayed answers were persisted before the restart that
// produced them and are skipped by construction.
func (s *SessionRuntime) saveQuestionAnswersLocked(ctx context.Context) error {
	question := s.progress.CurrentQuestion()
	answers := s.progress.QuestionAnswers(question.PublicID)
	stored := make([]domain.StoredAnswer, 0, len(answers))
	for _, a := range answers {
		if a.Origin != domain.AnswerFresh {
			continue
		}
		participant, ok := s.participants[a.UserPublicID]
		if !ok {
			continue
		}
		stored = append(stored, domain.StoredAnswer{
			Value:      a.GivenAnswer,
			PlayerID:   participant.PlayerID,
			SessionID:  s.id,
			QuestionID: question.ID,
		})
	}
	if len(stored) == 0 {
		return nil
	}
	if err := s.store.AppendAnswers(ctx, stored); err != nil {
		return fmt.Errorf("persist answers: %w", err)
	}
	return nil
}

func (s *SessionRuntime) savePlayerResultsLocked(ctx context.Context) error {
	results := make(map[int64]domain.PlayerResult)
	for _, grade := range s.progress.Grades() {
		participant, ok := s.participants[grade.UserPublicID]
		if !ok {
			continue
		}
		results[participant.PlayerID] = domain.PlayerResult{
			PlayerID: participant.PlayerID,
			Grade:    grade.Grade,
		}
	}
	for _, group := range s.ranking.Ranking(0) {
		for _, entry := range group.Entries {
			participant, ok := s.participants[entry.ID]
			if !ok {
				continue
			}
			result := results[participant.PlayerID]
			result.PlayerID = participant.PlayerID
			result.Score = entry.Score
			results[participant.PlayerID] = result
		}
	}
	if len(results) == 0 {
		return nil
	}
	batch := make([]domain.PlayerResult, 0, len(results))
	for _, r := range results {
		batch = append(batch, r)
	}
	if err := s.store.SavePlayerResults(ctx, s.id, batch); err != nil {
		return fmt.Errorf("persist player results: %w", err)
	}
	return nil
}
