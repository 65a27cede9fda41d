package domain

// Named real-time messages exchanged with clients.
const (
	EventStateUpdate        = "state-update"
	EventRosterChanged      = "participant-roster-changed"
	EventQuestionAnsweredBy = "question-answered-by"
	EventSessionEnded       = "session-ended"
	EventError              = "error"

	CommandAnswerSubmit = "answer-submit"
	CommandJoin         = "join"
	CommandLeave        = "leave"
	CommandAdvance      = "advance"
	CommandEndSession   = "end-session"
)

// Event is an outbound message to a connected client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// RosterChangedPayload notifies the instructor of a roster mutation.
type RosterChangedPayload struct {
	Code         string   `json:"code"`
	Participants []string `json:"participants"`
}

// QuestionAnsweredByPayload tells the instructor who has answered the
// current question so far.
type QuestionAnsweredByPayload struct {
	Code              string   `json:"code"`
	QuestionPublicID  string   `json:"question_public_id"`
	ReadyParticipants []string `json:"ready_participants"`
}

// SessionEndedPayload is the terminal notification sent to every connection.
type SessionEndedPayload struct {
	Code string `json:"code"`
}
