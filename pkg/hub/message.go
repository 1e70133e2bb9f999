// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON frame sent to every client. Type tells the
// dashboard how to read Data.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Encode wraps v in an Envelope and marshals it.
func Encode(typ string, v any) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Time: time.Now(), Data: v})
}
