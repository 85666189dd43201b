package domain

import "time"

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistoryTurns is how many chat turns the profile keeps.
const MaxHistoryTurns = 20

// ChatTurn is one message in the consultation history.
type ChatTurn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// QARequest is the body sent to the question-answering service.
type QARequest struct {
	UserID  string     `json:"user_id"`
	Query   string     `json:"query"`
	History []ChatTurn `json:"history"`
}

// QAResponse is the service's reply envelope.
type QAResponse struct {
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data *QAData `json:"data"`
}

// QAData carries the answer text.
type QAData struct {
	Answer string `json:"answer"`
}

// Herb is one entry in the herb catalog.
type Herb struct {
	Name  string `json:"name"`
	Desc  string `json:"desc"`
	Image string `json:"img"`
}
