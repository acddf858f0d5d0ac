package execmodel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/maintenance"
	"github.com/signalmesh/core/mutationpolicy"
	"github.com/signalmesh/core/notify"
	"github.com/signalmesh/core/execmodel/store"
	"github.com/signalmesh/core/telemetry"
)

// Manager is the Execution Model Manager (spec.md §2, §9): the only entry
// point for state transitions across the event, mutation, run, and state
// stores. It dispatches flat on HandlerType and MutationStatus rather than
// through virtual methods, per spec.md §9's explicit design note.
type Manager struct {
	Stores     store.Stores
	Connectors *connector.Registry
	Notify     notify.Sink
	Backoff    mutationpolicy.BackoffConfig
	// Maintenance is the collaborator seam a logic failure hands a fix task
	// to (spec.md §6's "createTask" semantics). Defaults to a NotifyAgent
	// wrapping Notify.
	Maintenance maintenance.Agent
	// MaintenanceFixCap is the number of maintainer cycles (spec.md §6, §8
	// "enterMaintenanceMode... default 3") allowed before a workflow moves to
	// status='error'.
	MaintenanceFixCap int
	// WakeClampMin/WakeClampMax bound SaveHandlerState's wake_at clamping
	// (spec.md §4.4, §6's documented "wake-at clamp bounds" config surface),
	// in milliseconds.
	WakeClampMin int64
	WakeClampMax int64

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// Options configures a new Manager. Nil Logger/Metrics/Tracer are replaced
// with no-op implementations, mirroring runtime.Options' substitution.
type Options struct {
	Stores            store.Stores
	Connectors        *connector.Registry
	Notify            notify.Sink
	Backoff           mutationpolicy.BackoffConfig
	Maintenance       maintenance.Agent
	MaintenanceFixCap int
	WakeClampMin      int64
	WakeClampMax      int64
	Logger            telemetry.Logger
	Metrics           telemetry.Metrics
	Tracer            telemetry.Tracer
}

// New constructs a Manager from opts, filling in defaults for the
// reconciliation back-off schedule, maintenance cap, and telemetry.
func New(opts Options) *Manager {
	m := &Manager{
		Stores:            opts.Stores,
		Connectors:        opts.Connectors,
		Notify:            opts.Notify,
		Backoff:           opts.Backoff,
		Maintenance:       opts.Maintenance,
		MaintenanceFixCap: opts.MaintenanceFixCap,
		WakeClampMin:      opts.WakeClampMin,
		WakeClampMax:      opts.WakeClampMax,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		tracer:            opts.Tracer,
	}
	if m.Backoff == (mutationpolicy.BackoffConfig{}) {
		m.Backoff = mutationpolicy.DefaultBackoffConfig()
	}
	if m.MaintenanceFixCap <= 0 {
		m.MaintenanceFixCap = 3
	}
	if m.WakeClampMin <= 0 {
		m.WakeClampMin = DefaultWakeClampMin
	}
	if m.WakeClampMax <= 0 {
		m.WakeClampMax = DefaultWakeClampMax
	}
	if m.logger == nil {
		m.logger = telemetry.NewNoopLogger()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NewNoopMetrics()
	}
	if m.tracer == nil {
		m.tracer = telemetry.NewNoopTracer()
	}
	if m.Connectors == nil {
		m.Connectors = connector.NewRegistry()
	}
	if m.Maintenance == nil {
		m.Maintenance = maintenance.NewNotifyAgent(m.Notify)
	}
	return m
}

func newID() string { return uuid.NewString() }

func nowMs() int64 { return time.Now().UnixMilli() }

// notify sends n through the configured sink, swallowing a nil Notify (tests
// and single-binary setups may not wire one) and logging delivery failures
// rather than letting a notification-sink outage break the execution model.
func (m *Manager) notify(ctx context.Context, n notify.Notification) {
	if m.Notify == nil {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if err := m.Notify.Notify(n); err != nil {
		m.logger.Warn(ctx, "notification delivery failed", "type", string(n.Type), "workflow_id", n.WorkflowID, "error", err.Error())
	}
}
