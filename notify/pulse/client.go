// Package pulse adapts notify.Sink to goa.design/pulse streams, grounded on
// goa-ai's features/stream/pulse/clients/pulse/client.go: a thin Redis-backed
// client exposing only the Stream/Add operations the sink needs.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// ClientOptions configures the Pulse client.
	ClientOptions struct {
		// Redis is the connection used to back Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero uses
		// Pulse defaults.
		StreamMaxLen int
		// StreamOptions returns additional options to apply when opening a
		// stream, invoked once per Stream call with the stream name.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add calls. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of Pulse APIs the notification sink needs.
	Client interface {
		// Stream returns a handle to the named Pulse stream, creating it if
		// it doesn't exist.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client. Callers typically
		// own the Redis connection themselves.
		Close(ctx context.Context) error
	}

	// Stream exposes the publish operation needed to emit notifications.
	Stream interface {
		// Add publishes an event with the given name and payload, returning
		// the Redis-assigned entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
	}

	client struct {
		redis        *redis.Client
		maxLen       int
		streamOptsFn func(name string) []streamopts.Stream
		timeout      time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

// NewClient constructs a Pulse client backed by the provided Redis
// connection. Returns an error if opts.Redis is nil.
func NewClient(opts ClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("notify/pulse: redis client is required")
	}
	return &client{
		redis:        opts.Redis,
		maxLen:       opts.StreamMaxLen,
		streamOptsFn: opts.StreamOptions,
		timeout:      opts.OperationTimeout,
	}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("notify/pulse: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.streamOptsFn != nil {
		streamOptions = append(streamOptions, c.streamOptsFn(name)...)
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("notify/pulse: create stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op; callers own the Redis connection lifecycle.
func (c *client) Close(ctx context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("notify/pulse: event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("notify/pulse: add entry: %w", err)
	}
	return id, nil
}
