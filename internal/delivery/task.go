package delivery

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Task is handed from ingestion to the engine, in-process or through NSQ
type Task struct {
	DeliveryID     string            `json:"delivery_id"`
	OwnerID        string            `json:"owner_id"`
	DestinationURL string            `json:"destination_url"`
	Event          Event             `json:"event"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"` // W3C trace context
}

var errTrailingData = errors.New("trailing data after JSON value")

// DecodeJSON decodes b into v keeping numbers as json.Number, so integers
// above 2^53 survive a re-encode unchanged.
func DecodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// DecodeTask reads a task from its queued JSON form
func DecodeTask(b []byte) (Task, error) {
	var t Task
	err := DecodeJSON(b, &t)
	return t, err
}
