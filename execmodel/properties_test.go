package execmodel_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalmesh/core/execmodel"
)

// TestPublishEventIsIdempotent is spec.md §8's publish idempotence law: for
// any (topic, messageID) pair, a republish never mints a second event (same
// ID throughout) and never resets status, but is last-write-wins on payload
// and caused_by per spec.md §4.1 — the final republish's payload is the one
// that sticks. Grounded on runtime/a2a/retry_test.go's gopter/prop.ForAll
// structure.
func TestPublishEventIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("republishing the same (topic, messageID) keeps the event identity and status, last-write-wins on payload", prop.ForAll(
		func(messageID string, republishCount int, payloadByte byte) bool {
			mgr, _ := newManager(t)
			ctx := context.Background()
			w, err := mgr.CreateWorkflow(ctx, "w", nil)
			if err != nil {
				return false
			}

			first, err := mgr.PublishEvent(ctx, w.ID, "topic-a", execmodel.PublishRequest{
				MessageID: messageID,
				Payload:   []byte{0},
			}, "")
			if err != nil {
				return false
			}

			latest := first
			for i := 0; i < republishCount; i++ {
				again, err := mgr.PublishEvent(ctx, w.ID, "topic-a", execmodel.PublishRequest{
					MessageID: messageID,
					Payload:   []byte{payloadByte},
				}, "")
				if err != nil || again.ID != first.ID || again.Status != execmodel.EventPending {
					return false
				}
				latest = again
			}
			if republishCount > 0 && string(latest.Payload) != string([]byte{payloadByte}) {
				return false
			}
			return true
		},
		gen.Identifier(),
		gen.IntRange(0, 5),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// TestReservationIsAtomicAcrossRuns is spec.md §8's reservation atomicity
// law: of N handler runs racing to reserve the same event, at most one ever
// succeeds, and the union of every run's reserved IDs never contains a
// duplicate.
func TestReservationIsAtomicAcrossRuns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one of N competing prepares reserves a given event", prop.ForAll(
		func(competitors int) bool {
			mgr, _ := newManager(t)
			ctx := context.Background()
			w, err := mgr.CreateWorkflow(ctx, "w", nil)
			if err != nil {
				return false
			}
			ev, err := mgr.PublishEvent(ctx, w.ID, "topic-a", execmodel.PublishRequest{MessageID: "m1", Payload: []byte("1")}, "")
			if err != nil {
				return false
			}

			wins := 0
			for i := 0; i < competitors; i++ {
				run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, fmt.Sprintf("c%d", i), "", execmodel.PhasePending)
				if err != nil {
					return false
				}
				_, reserved, err := mgr.CompletePrepare(ctx, run.ID, w.ID, run.HandlerName, []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}}, "", 0, nil)
				if err != nil {
					return false
				}
				if len(reserved) == 1 {
					wins++
				} else if len(reserved) != 0 {
					return false
				}
			}
			return wins == 1
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

// TestReleaseOrphanedReservationsIsIdempotent is spec.md §8's recovery
// idempotence law: running ReleaseOrphanedReservations against the same
// dead-run snapshot any number of times in a row never releases more events
// than the first pass did, and never errors on an already-released event.
func TestReleaseOrphanedReservationsIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated recovery passes release the same events exactly once", prop.ForAll(
		func(extraPasses int) bool {
			mgr, _ := newManager(t)
			ctx := context.Background()
			w, err := mgr.CreateWorkflow(ctx, "w", nil)
			if err != nil {
				return false
			}
			ev, err := mgr.PublishEvent(ctx, w.ID, "topic-a", execmodel.PublishRequest{MessageID: "m1", Payload: []byte("1")}, "")
			if err != nil {
				return false
			}
			run, err := mgr.CreateHandlerRun(ctx, "", w.ID, execmodel.HandlerConsumer, "crashed", "", execmodel.PhasePending)
			if err != nil {
				return false
			}
			if _, _, err := mgr.CompletePrepare(ctx, run.ID, w.ID, run.HandlerName, []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}}, "", 0, nil); err != nil {
				return false
			}

			neverActive := func(string) bool { return false }

			first, err := mgr.ReleaseOrphanedReservations(ctx, neverActive)
			if err != nil || first != 1 {
				return false
			}
			for i := 0; i < extraPasses; i++ {
				n, err := mgr.ReleaseOrphanedReservations(ctx, neverActive)
				if err != nil || n != 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
