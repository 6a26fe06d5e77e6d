package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditTimeLayout is the timestamp used as the key of each audit line.
const AuditTimeLayout = "2006-01-02 15:04:05.000000"

// AuditRecord is a single line of the message audit log. It is written once
// per accepted bus message and never read back by the service itself.
type AuditRecord struct {
	Time    time.Time
	Topic   string
	Payload json.RawMessage
}

type auditBody struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the record as {"<timestamp>": {"topic": ..., "payload": ...}}.
func (a AuditRecord) MarshalJSON() ([]byte, error) {
	payload := a.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	} else {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return nil, fmt.Errorf("compacting payload: %w", err)
		}
		payload = buf.Bytes()
	}
	return json.Marshal(map[string]auditBody{
		a.Time.Format(AuditTimeLayout): {Topic: a.Topic, Payload: payload},
	})
}

func (a *AuditRecord) UnmarshalJSON(b []byte) error {
	var data map[string]auditBody
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("parsing audit record: %w", err)
	}
	if len(data) != 1 {
		return errors.New("audit record must have exactly one timestamp key")
	}
	for ts, body := range data {
		t, err := time.ParseInLocation(AuditTimeLayout, ts, time.Local)
		if err != nil {
			return fmt.Errorf("parsing audit timestamp: %w", err)
		}
		*a = AuditRecord{Time: t, Topic: body.Topic, Payload: body.Payload}
	}
	return nil
}
