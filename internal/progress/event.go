// Package progress defines the lifecycle events of a batch and frames them
// as server-sent events.
package progress

import (
	"encoding/json"

	"github.com/sells-group/credresolve/internal/model"
)

// Type tags an Event.
type Type string

// Event types. Complete and Error are terminal: exactly one of them ends
// every batch.
const (
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Event is one message of a batch's progress stream. Only the fields of its
// Type are meaningful.
type Event struct {
	Type Type

	// progress
	Current    int
	Total      int
	Identifier string
	ClientRef  string

	// complete
	Results  []model.RowResult
	Filename string
	File     string // base64 result spreadsheet

	// error
	Message string
}

// Progress announces that row current of total is about to be processed.
func Progress(current, total int, row model.CredentialRow) Event {
	return Event{Type: TypeProgress, Current: current, Total: total, Identifier: row.Identifier, ClientRef: row.ClientRef}
}

// Complete carries every row result of a finished batch.
func Complete(results []model.RowResult) Event {
	return Event{Type: TypeComplete, Results: results}
}

// Failure ends a batch that could not run to completion.
func Failure(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Sink receives events in emission order.
type Sink func(Event)

type progressPayload struct {
	Type       Type   `json:"type"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Identifier string `json:"identifier"`
	ClientRef  string `json:"clientRef"`
	CUIT       string `json:"cuit"`
}

type completePayload struct {
	Type     Type              `json:"type"`
	Results  []model.RowResult `json:"results"`
	Filename string            `json:"filename,omitempty"`
	File     string            `json:"file,omitempty"`
}

type errorPayload struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// MarshalJSON writes only the fields that belong to the event's type. The
// cuit and error keys repeat identifier and message for the web client,
// which reads those names.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeProgress:
		return json.Marshal(progressPayload{e.Type, e.Current, e.Total, e.Identifier, e.ClientRef, e.Identifier})
	case TypeComplete:
		results := e.Results
		if results == nil {
			results = []model.RowResult{}
		}
		return json.Marshal(completePayload{e.Type, results, e.Filename, e.File})
	default:
		return json.Marshal(errorPayload{TypeError, e.Message, e.Message})
	}
}

// UnmarshalJSON accepts any of the three payload shapes.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type       Type              `json:"type"`
		Current    int               `json:"current"`
		Total      int               `json:"total"`
		Identifier string            `json:"identifier"`
		ClientRef  string            `json:"clientRef"`
		Results    []model.RowResult `json:"results"`
		Filename   string            `json:"filename"`
		File       string            `json:"file"`
		Message    string            `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event{
		Type:       raw.Type,
		Current:    raw.Current,
		Total:      raw.Total,
		Identifier: raw.Identifier,
		ClientRef:  raw.ClientRef,
		Results:    raw.Results,
		Filename:   raw.Filename,
		File:       raw.File,
		Message:    raw.Message,
	}
	return nil
}
