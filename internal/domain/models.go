package domain

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionText        QuestionType = "text"
	QuestionMultiChoice QuestionType = "multi_choice"
	QuestionTrueOrFalse QuestionType = "true_or_false"
)

// Option is a selectable answer for a choice question.
type Option struct {
	ID          int64  `json:"id"`
	PublicID    string `json:"public_id"`
	Description string `json:"description"`
	IsCorrect   bool   `json:"is_correct_answer"`
}

// Question is one quiz question. TimeLimit is in seconds; nil means untimed.
// Text questions carry the correct answer literally in CorrectTextAnswer;
// choice questions flag the correct option instead.
type Question struct {
	ID                int64        `json:"id"`
	PublicID          string       `json:"public_id"`
	Type              QuestionType `json:"type"`
	Description       string       `json:"description"`
	TimeLimit         *int         `json:"time_limit"`
	CorrectTextAnswer string       `json:"correct_text_answer"`
	Options           []Option     `json:"options"`
}

// CorrectAnswer returns the canonical correct answer: the literal text for
// text questions, the public id of the flagged option otherwise.
func (q Question) CorrectAnswer() string {
	if q.Type == QuestionText {
		return q.CorrectTextAnswer
	}
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt.PublicID
		}
	}
	return ""
}

// DisplayAnswer maps a stored answer value to its display form: the option
// description for choice questions, the raw value otherwise.
func (q Question) DisplayAnswer(value string) string {
	if q.Type == QuestionText {
		return value
	}
	for _, opt := range q.Options {
		if opt.PublicID == value {
			return opt.Description
		}
	}
	return ""
}

// Quiz is an ordered list of questions, immutable for the lifetime of a session.
type Quiz struct {
	ID        int64      `json:"id"`
	PublicID  string     `json:"public_id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// User is the minimal identity the runtime needs; identity management lives upstream.
type User struct {
	ID       int64  `json:"id"`
	PublicID string `json:"public_id"`
	Name     string `json:"name"`
}
