package pipeline

import (
	"time"

	"github.com/malbeclabs/ada/pkg/warehouse"
)

// State is a step of a turn.
type State string

const (
	StateReceived         State = "received"
	StateIntentClassified State = "intent-classified"
	StateDispatched       State = "terminal-dispatched"
	StateStabilised       State = "stabilised"
	StateRetrieved        State = "retrieved"
	StateReranked         State = "reranked"
	StateGenerating       State = "generating"
	StateExecuting        State = "executing"
	StateCorrecting       State = "correcting"
	StateResultCached     State = "result-cached"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// Turn is one inbound question.
type Turn struct {
	ID        string    `json:"turn_id"`
	Tenant    string    `json:"tenant_id"`
	Text      string    `json:"query"`
	Category  string    `json:"category,omitempty"`
	Currency  string    `json:"preferred_currency,omitempty"`
	Language  string    `json:"language,omitempty"`
	Region    string    `json:"region,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationKey identifies the conversation a turn belongs to.
func (t Turn) ConversationKey() string {
	return t.Tenant + "/" + t.Session()
}

// Session is the history key: the session id, else the chat id, else the
// turn itself.
func (t Turn) Session() string {
	if t.SessionID != "" {
		return t.SessionID
	}
	if t.ChatID != "" {
		return t.ChatID
	}
	return t.ID
}

type Provenance string

const (
	ProvenanceGenerated Provenance = "generated"
	ProvenanceCorrected Provenance = "corrected"
)

type Validation string

const (
	ValidationPending Validation = "pending"
	ValidationOK      Validation = "ok"
	ValidationInvalid Validation = "invalid"
)

// InvalidContract marks candidates rejected by the dialect contract before
// reaching the warehouse.
const InvalidContract warehouse.ErrorKind = "CONTRACT"

// Candidate is one SQL proposal and its validation outcome.
type Candidate struct {
	SQL           string              `json:"sql"`
	Provenance    Provenance          `json:"provenance"`
	Attempt       int                 `json:"attempt_index"`
	Validation    Validation          `json:"validation"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	ErrorKind     warehouse.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
}

func (c Candidate) invalid(kind warehouse.ErrorKind, msg string) Candidate {
	c.Validation = ValidationInvalid
	c.ErrorKind = kind
	c.ErrorMessage = msg
	return c
}

// Sample is a retrieved (question, SQL) example.
type Sample struct {
	Question string  `json:"question"`
	SQL      string  `json:"sql"`
	Score    float32 `json:"score"`
}

// Result is the terminal output of a turn.
type Result struct {
	TurnID            string          `json:"turn_id"`
	Intent            string          `json:"intent"`
	SQL               string          `json:"sql,omitempty"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	FixedQuery        string          `json:"fixed_query,omitempty"`
	ActualQuestion    string          `json:"actual_question"`
	Category          string          `json:"category,omitempty"`
	PreferredCurrency string          `json:"preferred_currency,omitempty"`
	PreferredLanguage string          `json:"preferred_language,omitempty"`
	Candidates        []Candidate     `json:"candidates,omitempty"`
	Rows              *warehouse.Rows `json:"rows,omitempty"`
	Answer            string          `json:"answer,omitempty"`
	DispatchedTo      string          `json:"dispatched_to,omitempty"`
	FromCache         bool            `json:"from_cache"`
	CreatedAt         time.Time       `json:"created_at"`
}
