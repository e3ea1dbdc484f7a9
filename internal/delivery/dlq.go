package delivery

import (
	"context"
	"time"
)

const (
	DLQType    = "delivery.dlq"
	DLQVersion = "v1"
)

type DeadLetter struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	At         string `json:"at"`      // RFC3339Nano
	Reason     string `json:"reason"`  // classified failure reason of the last attempt
	Attempt    int    `json:"attempt"` // attempts made
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Task       Task   `json:"task"`
}

// DeadLetterSink receives deliveries that ended failed
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, dl DeadLetter) error
}

func NewDeadLetter(t Task, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    DLQVersion,
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Task:       t,
	}
}
