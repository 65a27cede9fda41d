package domain

// SessionStatus is the state of a live session. The runtime only ever moves
// it forward: waiting-start, show-question, feedback-question,
// feedback-session, (show-question ...), ending, finished.
type SessionStatus string

const (
	StatusWaitingStart     SessionStatus = "waiting-start"
	StatusShowingQuestion  SessionStatus = "show-question"
	StatusFeedbackQuestion SessionStatus = "feedback-question"
	StatusFeedbackSession  SessionStatus = "feedback-session"
	StatusEnding           SessionStatus = "ending"
	StatusFinished         SessionStatus = "finished"
)

// Terminal reports whether a session in this status is past the point of
// recovery after a restart.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnding || s == StatusFinished
}

// AnswerOrigin tags how an answer entered the ledger. Only fresh answers are
// written back to storage; replayed ones were already persisted before the
// restart that produced them.
type AnswerOrigin int

const (
	AnswerFresh AnswerOrigin = iota
	AnswerReplayed
)

// AnswerFeedback is the scoring outcome for a single answer.
type AnswerFeedback struct {
	IsCorrect     bool `json:"is_correct"`
	Points        int  `json:"points"`
	VelocityBonus int  `json:"velocity_bonus"`
	StreakBonus   int  `json:"streak_bonus"`
}

// Answer is one ledger entry. Entries are append-only; feedback is computed
// once at record time and never revised.
type Answer struct {
	UserPublicID string         `json:"user_public_id"`
	GivenAnswer  string         `json:"given_answer"`
	Feedback     AnswerFeedback `json:"feedback"`
	Origin       AnswerOrigin   `json:"-"`
}

// QuizSummary is the client-facing identification of a quiz.
type QuizSummary struct {
	PublicID string `json:"public_id"`
	Title    string `json:"title"`
}

// QuestionOptionView is an option with its correctness flag stripped.
type QuestionOptionView struct {
	PublicID    string `json:"public_id"`
	Description string `json:"description"`
}

// QuestionView is the current question as shown to clients. Index is
// 1-based; StartedAt is unix milliseconds, zero until the question starts.
type QuestionView struct {
	ID          int64                `json:"id"`
	PublicID    string               `json:"public_id"`
	Description string               `json:"description"`
	Type        QuestionType         `json:"type"`
	TimeLimit   *int                 `json:"time_limit"`
	Index       int                  `json:"index"`
	Total       int                  `json:"total"`
	Options     []QuestionOptionView `json:"options"`
	StartedAt   int64                `json:"startedAt"`
}

// ParticipantFeedback is the per-participant view of a closed question.
type ParticipantFeedback struct {
	GivenAnswer   string `json:"given_answer"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
	Points        int    `json:"points"`
	VelocityBonus int    `json:"velocity_bonus"`
	StreakBonus   int    `json:"streak_bonus"`
}

// QuestionFeedback is the instructor view of a closed question: the correct
// answer plus a histogram of case-folded given answers to participant ids.
type QuestionFeedback struct {
	CorrectAnswer string              `json:"correct_answer"`
	Answers       map[string][]string `json:"answers"`
}

// ScoreEntry is a participant's cumulative score.
type ScoreEntry struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// ScoreGroup is one dense rank: all entries in a group share the same score.
type ScoreGroup struct {
	Rank    string       `json:"rank"`
	Entries []ScoreEntry `json:"entries"`
}

// RankedPlayer is a leaderboard line resolved to a display name.
type RankedPlayer struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// RankGroup is the client-facing form of a ScoreGroup.
type RankGroup struct {
	Rank    string         `json:"rank"`
	Players []RankedPlayer `json:"players"`
}

// GradeItem is a participant's final grade: fraction of questions answered
// correctly over the total question count.
type GradeItem struct {
	UserPublicID string  `json:"user_public_id"`
	Grade        float64 `json:"grade"`
}

// StateSnapshot is the role-specific session state broadcast after every
// transition. Optional fields are populated per status and role:
// ReadyParticipants and AggregateFeedback for the instructor, Answered and
// Feedback for participants, Ranking on the feedback-session and terminal
// screens.
type StateSnapshot struct {
	Status            SessionStatus        `json:"status"`
	Code              string               `json:"code"`
	Quiz              QuizSummary          `json:"quiz"`
	Participants      []string             `json:"participants"`
	Question          *QuestionView        `json:"question,omitempty"`
	ReadyParticipants []string             `json:"ready_participants,omitempty"`
	Answered          *bool                `json:"answered,omitempty"`
	Feedback          *ParticipantFeedback `json:"feedback,omitempty"`
	AggregateFeedback *QuestionFeedback    `json:"aggregate_feedback,omitempty"`
	Ranking           []RankGroup          `json:"ranking,omitempty"`
}
