package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalmesh/core/notify"
)

type (
	// SinkOptions configures the Pulse-backed notify.Sink.
	SinkOptions struct {
		// Client is the Pulse client used to publish notifications. Required.
		Client Client
		// StreamID derives the target Pulse stream from a notification.
		// Defaults to `workflow/<WorkflowID>`.
		StreamID func(notify.Notification) (string, error)
		// MarshalEnvelope allows overriding envelope serialization (mainly
		// for tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
		// OnPublished, when set, is invoked after a notification has been
		// written to the underlying stream. If it returns an error, Notify
		// fails and callers should treat the notification as not emitted.
		OnPublished func(context.Context, PublishedNotification) error
	}

	sinkOptions struct {
		streamID        func(notify.Notification) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
		onPublished     func(context.Context, PublishedNotification) error
	}

	// Sink publishes notify.Notification values onto Pulse streams, one
	// stream per workflow by default. Thread-safe for concurrent Notify
	// calls.
	Sink struct {
		client Client
		opts   sinkOptions
	}

	// Envelope is the JSON payload written to the Pulse stream entry.
	Envelope struct {
		Type          string    `json:"type"`
		WorkflowID    string    `json:"workflow_id"`
		WorkflowTitle string    `json:"workflow_title,omitempty"`
		Timestamp     time.Time `json:"timestamp"`
		Payload       json.RawMessage `json:"payload,omitempty"`
	}

	// PublishedNotification describes a notification that was successfully
	// written to a Pulse stream.
	PublishedNotification struct {
		Notification notify.Notification
		StreamID     string
		EntryID      string
	}
)

// NewSink constructs a Pulse-backed notify.Sink. Returns an error if
// opts.Client is nil.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("notify/pulse: client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{client: opts.Client, opts: cfg}, nil
}

// Notify implements notify.Sink. It derives the target stream, wraps n in an
// envelope, marshals it to JSON, and publishes it via the Pulse client.
func (s *Sink) Notify(n notify.Notification) error {
	ctx := context.Background()
	streamID, err := s.opts.streamID(n)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:          string(n.Type),
		WorkflowID:    n.WorkflowID,
		WorkflowTitle: n.WorkflowTitle,
		Timestamp:     n.Timestamp,
		Payload:       json.RawMessage(n.Payload),
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	entryID, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if cb := s.opts.onPublished; cb != nil {
		return cb(ctx, PublishedNotification{
			Notification: n,
			StreamID:     streamID,
			EntryID:      entryID,
		})
	}
	return nil
}

// Close releases resources owned by the sink by delegating to the underlying
// Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the notification's
// workflow ID. Returns an error if the workflow ID is empty.
func defaultStreamID(n notify.Notification) (string, error) {
	if n.WorkflowID == "" {
		return "", errors.New("notify/pulse: notification missing workflow id")
	}
	return fmt.Sprintf("workflow/%s", n.WorkflowID), nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
