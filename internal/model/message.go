package model

import (
	"encoding/json"
	"time"
)

// ISOTime matches the millisecond UTC form used in logs and client payloads.
const ISOTime = "2006-01-02T15:04:05.000Z07:00"

// Wire event types
const (
	EventInit    = "init"
	EventNewText = "newText"
)

// Message is a submitted board message. It is immutable once created.
type Message struct {
	Text  string    `json:"text"`
	Email *string   `json:"email"`
	Time  time.Time `json:"time"`
	IP    *string   `json:"ip"`
}

// HasEmail reports whether the sender left a feedback address.
func (m Message) HasEmail() bool {
	return m.Email != nil
}

// FormatTime renders t in ISOTime, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOTime)
}

// View is the client-visible projection of a Message.
type View struct {
	Text     string `json:"text"`
	Time     string `json:"time"`
	HasEmail bool   `json:"hasEmail"`
}

// OutboundEvent is sent from the server to websocket clients
type OutboundEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundEvent is received from websocket clients
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
