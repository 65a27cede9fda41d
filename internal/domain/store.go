package domain

// SessionUpdate is a partial update of a persisted session row. Nil fields
// are left untouched.
type SessionUpdate struct {
	Status                  *SessionStatus
	CurrentQuestionPublicID *string
}

// StoredAnswer is an answer in the form the store accepts.
type StoredAnswer struct {
	Value      string
	PlayerID   int64
	SessionID  int64
	QuestionID int64
}

// LMSMetadata carries the LMS outcome fields a player record needs for
// grade passback. Passback itself happens upstream.
type LMSMetadata struct {
	Issuer            string
	Platform          string
	UserID            string
	Version           string
	ClientID          string
	OutcomeSourceID   string
	OutcomeServiceURL string
}

// PlayerRecord identifies a player scoped to (user, session).
type PlayerRecord struct {
	UserID    int64
	SessionID int64
	LMS       LMSMetadata
}

// PlayerResult is the final (grade, score) pair persisted when a session
// finishes.
type PlayerResult struct {
	PlayerID int64
	Grade    float64
	Score    int
}

// RecoveredAnswer is a persisted answer as returned for replay, in ledger
// order.
type RecoveredAnswer struct {
	Value            string
	UserPublicID     string
	QuestionPublicID string
}

// RecoveredPlayer pairs a store-assigned player id with its user.
type RecoveredPlayer struct {
	ID   int64
	User User
}

// RecoveredSession is the full graph needed to rebuild a runtime after a
// restart.
type RecoveredSession struct {
	ID                      int64
	Code                    string
	Status                  SessionStatus
	CurrentQuestionPublicID string
	Quiz                    Quiz
	Instructor              User
	Players                 []RecoveredPlayer
	Answers                 []RecoveredAnswer
}

// ReportAnswer is one answer in a session report. GivenAnswer is the
// display form of Value: the option description for choice questions.
type ReportAnswer struct {
	Value       string `json:"value"`
	GivenAnswer string `json:"given_answer"`
	IsCorrect   bool   `json:"is_correct"`
	User        User   `json:"user"`
}

// ReportQuestion aggregates a question's answers for reporting.
type ReportQuestion struct {
	PublicID                string         `json:"public_id"`
	Type                    QuestionType   `json:"type"`
	Description             string         `json:"description"`
	TimeLimit               *int           `json:"time_limit"`
	CorrectAnswer           string         `json:"correct_answer"`
	Answers                 []ReportAnswer `json:"answers"`
	CorrectAnswerPercentage float64        `json:"correct_answer_percentage"`
}

// ReportPlayer is a player's final result in a session report.
type ReportPlayer struct {
	User  User    `json:"user"`
	Grade float64 `json:"grade"`
	Score int     `json:"score"`
}

// SessionReport is the read model served for a finished (or running)
// session, keyed by the session's public id.
type SessionReport struct {
	PublicID  string           `json:"public_id"`
	Code      string           `json:"code"`
	Status    SessionStatus    `json:"status"`
	Quiz      QuizSummary      `json:"quiz"`
	Questions []ReportQuestion `json:"questions"`
	Players   []ReportPlayer   `json:"players"`
}
