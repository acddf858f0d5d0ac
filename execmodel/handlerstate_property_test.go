package execmodel_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalmesh/core/execmodel"
)

// TestClampWakeAtProperty verifies execmodel.ClampWakeAt always returns a
// value in [now+min, now+max], or 0 when the requested wake_at is unset.
func TestClampWakeAtProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const (
		min = int64(30_000)
		max = int64(24 * 3_600_000)
	)

	properties.Property("zero or negative requested wake_at clamps to 0 (no wake)", prop.ForAll(
		func(now, requested int64) bool {
			if requested > 0 {
				requested = -requested - 1
			}
			return execmodel.ClampWakeAt(now, requested, min, max) == 0
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("result is always within [now+min, now+max] for a positive request", prop.ForAll(
		func(now, requested int64) bool {
			requested++ // keep strictly positive
			got := execmodel.ClampWakeAt(now, requested, min, max)
			return got >= now+min && got <= now+max
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("a request already inside the window passes through unchanged", prop.ForAll(
		func(now int64, offset int64) bool {
			requested := now + min + offset
			got := execmodel.ClampWakeAt(now, requested, min, max)
			return got == requested
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, max-min),
	))

	properties.TestingRun(t)
}
