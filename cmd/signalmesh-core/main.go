// Command signalmesh-core wires the execution model's storage,
// manager, handler registry, and scheduler into a runnable process, in the
// terse, framework-free style of cmd/demo/main.go: build every piece by
// hand, register one demonstration workflow, run the startup recovery
// pass, then drive the scheduler until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalmesh/core/config"
	"github.com/signalmesh/core/connector"
	"github.com/signalmesh/core/execmodel"
	"github.com/signalmesh/core/execmodel/store/inmem"
	"github.com/signalmesh/core/handler"
	"github.com/signalmesh/core/notify"
	"github.com/signalmesh/core/recovery"
	"github.com/signalmesh/core/scheduler"
	"github.com/signalmesh/core/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to a YAML config file (missing file uses defaults)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signalmesh-core: loading config:", err)
		os.Exit(1)
	}

	logger := telemetry.NewClueLogger()

	// 1) Storage. Swap inmem.New() for mongo.New(ctx, mongo.Options{...})
	// to run against a real database; Manager only depends on store.Stores.
	db := inmem.New()

	// 2) Manager: the single entry point for every state transition.
	bus := notify.NewBus()
	mgr := execmodel.New(execmodel.Options{
		Stores:            db.Stores(),
		Connectors:        connector.NewRegistry(),
		Notify:            bus,
		Backoff:           cfg.Backoff,
		MaintenanceFixCap: cfg.MaintenanceFixCap,
		WakeClampMin:      int64(cfg.WakeClampMin.Milliseconds()),
		WakeClampMax:      int64(cfg.WakeClampMax.Milliseconds()),
		Logger:            logger,
	})

	// 3) Handler registry: binds handler_name from a workflow's
	// handler_config to the Go implementation the scheduler invokes.
	handlers := handler.NewRegistry()
	handlers.RegisterProducer("heartbeat", heartbeatProducer{})
	handlers.RegisterConsumer("logger", loggerConsumer{})

	if err := seedDemoWorkflow(ctx, mgr); err != nil {
		fmt.Fprintln(os.Stderr, "signalmesh-core: seeding demo workflow:", err)
		os.Exit(1)
	}

	// 4) Recovery: replay the crash-pairing rule before any new work starts.
	result, err := recovery.Run(ctx, mgr, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signalmesh-core: recovery:", err)
		os.Exit(1)
	}
	logger.Info(ctx, "recovery complete",
		"released_orphans", result.ReleasedOrphans,
		"runs_reclassified", result.RunsReclassified,
		"retries_scheduled", result.RetriesScheduled,
		"sessions_closed", result.SessionsClosed)

	// 5) Scheduler: the cooperative single-threaded driver.
	sched := scheduler.New(scheduler.Options{
		Manager:   mgr,
		Handlers:  handlers,
		Engine:    scheduler.InmemEngine{Timeout: cfg.SessionSoftTimeout},
		Limiter:   scheduler.NewPaceLimiter(cfg.ScanRate),
		PeekLimit: scheduler.DefaultPeekLimit,
		Logger:    logger,
	})

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() { errc <- sched.Run(ctx) }()

	if err := <-errc; err != nil {
		logger.Info(ctx, "signalmesh-core: stopping", "reason", err.Error())
	}
	cancel()
}

// seedDemoWorkflow registers one active workflow wired to the heartbeat
// producer and logger consumer, so a fresh process has runnable work
// instead of sitting idle with an empty workflow table.
func seedDemoWorkflow(ctx context.Context, mgr *execmodel.Manager) error {
	w, err := mgr.CreateWorkflow(ctx, "heartbeat demo", []byte(`{"goal":"emit a heartbeat event every minute and log it"}`))
	if err != nil {
		return err
	}
	handlerConfig, err := execmodel.EncodeHandlerConfig(execmodel.HandlerConfig{
		Producers: []execmodel.ProducerDecl{
			{Name: "heartbeat", ScheduleType: execmodel.ScheduleInterval, ScheduleValue: "1m"},
		},
		Consumers: []execmodel.ConsumerDecl{
			{Name: "logger", Topics: []string{"heartbeat"}},
		},
	})
	if err != nil {
		return err
	}
	if _, err := mgr.SaveScript(ctx, w.ID, execmodel.ScriptPlanner, "// generated\n", handlerConfig, "heartbeat demo", "", "initial version"); err != nil {
		return err
	}
	return mgr.Activate(ctx, w.ID)
}

// heartbeatProducer publishes one event to the "heartbeat" topic per run.
type heartbeatProducer struct{}

func (heartbeatProducer) Run(rc *handler.RunContext) (handler.ProducerResult, error) {
	return handler.ProducerResult{
		Events: []handler.ProducedEvent{{
			Topic:     "heartbeat",
			MessageID: fmt.Sprintf("tick-%s", rc.HandlerRun.ID),
			Payload:   []byte(`{"tick":true}`),
		}},
	}, nil
}

// loggerConsumer reserves every pending heartbeat event, which the commit
// then marks consumed; it writes no log output, performs no mutation and
// emits nothing downstream.
type loggerConsumer struct{}

func (loggerConsumer) Prepare(rc *handler.RunContext) (handler.PrepareResult, error) {
	ids := make([]string, len(rc.Inputs))
	for i, ev := range rc.Inputs {
		ids[i] = ev.ID
	}
	return handler.PrepareResult{
		Reservations: []execmodel.Reservation{{Topic: "heartbeat", IDs: ids}},
		UI:           handler.UIHint{Title: "log heartbeat"},
	}, nil
}
