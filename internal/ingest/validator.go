package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bubbleboard/internal/model"
)

var (
	ErrMalformed   = errors.New("payload is not a JSON object")
	ErrTextMissing = errors.New("text is missing or empty")
)

// submission mirrors the client newText payload. Fields stay raw so a
// value of the wrong type can be told apart from an absent one.
type submission struct {
	Text  json.RawMessage `json:"text"`
	Email json.RawMessage `json:"email"`
}

// Validate turns a raw newText payload into a Message stamped with the
// server clock and the submitter's address.
func Validate(payload json.RawMessage, originIP string, now time.Time) (model.Message, error) {
	var sub submission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return model.Message{}, ErrMalformed
	}

	text, ok := trimmedString(sub.Text)
	if !ok {
		return model.Message{}, ErrTextMissing
	}

	msg := model.Message{
		Text: text,
		Time: now.UTC(),
	}

	// 空のメールアドレスはエラーにせず「メールなし」として扱う
	if email, ok := trimmedString(sub.Email); ok {
		msg.Email = &email
	}
	if originIP != "" {
		ip := originIP
		msg.IP = &ip
	}

	return msg, nil
}

func trimmedString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
