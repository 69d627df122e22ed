// Package wire defines the JSON message envelopes exchanged over the
// table websocket.
package wire

import "encoding/json"

// Outbound command names.
const (
	CmdFoundTable  = "found_table"
	CmdNameChanged = "name_changed"
	CmdGameStarted = "game_started"
	CmdJoinedTable = "joined_table"
	CmdTableUpdate = "table_update"
)

// Inbound is the client request envelope.
type Inbound struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// Envelope is the server response/broadcast envelope.
type Envelope struct {
	Status  string `json:"status"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK encodes a success envelope. Data may be nil.
func OK(command string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Status: "ok", Command: command, Data: data})
}

// Err encodes an error envelope.
func Err(msg string) []byte {
	b, err := json.Marshal(Envelope{Status: "error", Error: msg})
	if err != nil {
		// A string message cannot fail to marshal; keep the compiler
		// honest anyway.
		return []byte(`{"status":"error","error":"internal error"}`)
	}
	return b
}
