package execmodel

import "time"

// EventStatus is the lifecycle state of an Event on a topic.
type EventStatus string

const (
	EventPending  EventStatus = "pending"
	EventReserved EventStatus = "reserved"
	EventConsumed EventStatus = "consumed"
	EventSkipped  EventStatus = "skipped"
)

// Event is an in-flight message on a topic.
//
// Invariants (spec.md §3, §4.1, §8):
//   - (TopicID, MessageID) is unique.
//   - Status transitions only pending -> reserved -> {consumed, skipped}, or
//     reserved -> pending on release.
//   - ReservedByRunID is non-empty iff Status == EventReserved.
type Event struct {
	ID               string
	TopicID          string
	WorkflowID       string
	MessageID        string
	Payload          []byte
	Status           EventStatus
	ReservedByRunID  string
	CreatedByRunID   string
	CausedBy         []string // input IDs, never nil once persisted — see PublishRequest
	AttemptNumber    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublishRequest is the caller-supplied payload for publishEvent. CausedBy
// defaults to an empty (non-nil) slice when omitted, per spec.md §8's
// boundary behaviour: "publishEvent with empty causedBy persists an empty
// array, not null."
type PublishRequest struct {
	MessageID string
	Payload   []byte
	CausedBy  []string
}

// Reservation names the events a handler run wants to reserve from one topic.
type Reservation struct {
	Topic string
	IDs   []string
}
