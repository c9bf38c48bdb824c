// Package realtime serves the websocket channel clients use to submit turns and
// receive replies.
package realtime

import "encoding/json"

const (
	EventSubmitTurn = "submit-turn"
	EventTurnResult = "turn-result"
	EventTurnError  = "turn-error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type SubmitTurnPayload struct {
	Chat    string `json:"chat"`
	Message string `json:"message"`
}

type TurnResultPayload struct {
	Content string `json:"content"`
	Chat    string `json:"chat"`
}

type TurnErrorPayload struct {
	Error string `json:"error"`
	Chat  string `json:"chat,omitempty"`
}
