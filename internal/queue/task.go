package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a handler failure that retrying cannot fix. Such tasks go straight to the DLQ.
var ErrPermanent = errors.New("queue: permanent failure")

// Permanent wraps err so the worker dead-letters the task instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Task is one unit of background work: a matrix ingestion or a webhook delivery.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is 1-based when delivered to a handler. On enqueue it is the number of deliveries
	// already spent.
	Attempt int
}

// message is the stored form of a task. It is the sorted-set member in the ready and processing
// sets and the DLQ payload. Attempt counts finished deliveries.
type message struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}

func (m message) encode() (string, error) {
	raw, err := json.Marshal(m)
	return string(raw), err
}

// exhausted reports whether delivery number attempt was the last one allowed.
func (m message) exhausted(attempt int) bool {
	return m.MaxAttempts > 0 && attempt >= m.MaxAttempts
}

func decodeMessage(raw string) (message, error) {
	var m message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return message{}, fmt.Errorf("queue: decode task: %w", err)
	}
	return m, nil
}
