// Package mongo hosts the MongoDB-backed implementation of every
// execmodel/store interface, mirroring the collection-wrapper,
// bson-document, and ensureIndexes pattern of
// features/run/mongo/clients/mongo in the goa-ai runtime.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/signalmesh/core/execmodel/store"
)

const defaultOpTimeout = 5 * time.Second

// collections holds the default names for every table. Overridable via
// Options for multi-tenant deployments sharing one database.
var collections = struct {
	workflows, scripts, topics, events, inputs, mutations string
	handlerRuns, handlerStates, producerSchedules, scriptRuns string
}{
	workflows:         "signalmesh_workflows",
	scripts:           "signalmesh_scripts",
	topics:            "signalmesh_topics",
	events:            "signalmesh_events",
	inputs:            "signalmesh_inputs",
	mutations:         "signalmesh_mutations",
	handlerRuns:       "signalmesh_handler_runs",
	handlerStates:     "signalmesh_handler_states",
	producerSchedules: "signalmesh_producer_schedules",
	scriptRuns:        "signalmesh_script_runs",
}

// Options configures the Mongo-backed store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store bundles Mongo-backed collections behind the execmodel/store
// interfaces, plus a health.Pinger so it composes with clue's health check
// muxer the way the teacher's session client does.
type Store struct {
	mongo   *mongodriver.Client
	db      *mongodriver.Database
	timeout time.Duration
}

// New connects every collection and ensures its indexes, returning a Store
// ready to back execmodel.Manager.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{
		mongo:   opts.Client,
		db:      opts.Client.Database(opts.Database),
		timeout: timeout,
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.ensureIndexes(ictx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies this client in clue's health report.
func (s *Store) Name() string { return "signalmesh-mongo" }

// Ping satisfies health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

var _ health.Pinger = (*Store)(nil)

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		coll  *mongodriver.Collection
		model mongodriver.IndexModel
	}
	specs := []idx{
		{s.db.Collection(collections.scripts), mongodriver.IndexModel{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "major_version", Value: -1}, {Key: "minor_version", Value: -1}}}},
		{s.db.Collection(collections.topics), mongodriver.IndexModel{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.events), mongodriver.IndexModel{Keys: bson.D{{Key: "topic_id", Value: 1}, {Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.events), mongodriver.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}}},
		{s.db.Collection(collections.events), mongodriver.IndexModel{Keys: bson.D{{Key: "reserved_by_run_id", Value: 1}}}},
		{s.db.Collection(collections.inputs), mongodriver.IndexModel{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "source", Value: 1}, {Key: "type", Value: 1}, {Key: "external_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.mutations), mongodriver.IndexModel{Keys: bson.D{{Key: "handler_run_id", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.mutations), mongodriver.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_reconcile_at", Value: 1}}}},
		{s.db.Collection(collections.handlerRuns), mongodriver.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}}},
		{s.db.Collection(collections.handlerRuns), mongodriver.IndexModel{Keys: bson.D{{Key: "retry_of", Value: 1}}}},
		{s.db.Collection(collections.handlerStates), mongodriver.IndexModel{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "handler_name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.handlerStates), mongodriver.IndexModel{Keys: bson.D{{Key: "wake_at", Value: 1}}}},
		{s.db.Collection(collections.producerSchedules), mongodriver.IndexModel{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "producer_name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.db.Collection(collections.producerSchedules), mongodriver.IndexModel{Keys: bson.D{{Key: "next_run_at", Value: 1}}}},
	}
	for _, sp := range specs {
		if _, err := sp.coll.Indexes().CreateOne(ctx, sp.model); err != nil {
			return err
		}
	}
	return nil
}

// Stores returns the store.Stores bundle backed by this Mongo instance.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Workflows:         workflowColl{s},
		Scripts:           scriptColl{s},
		Topics:            topicColl{s},
		Events:            eventColl{s},
		Inputs:            inputColl{s},
		Mutations:         mutationColl{s},
		HandlerRuns:       handlerRunColl{s},
		HandlerStates:     handlerStateColl{s},
		ProducerSchedules: producerScheduleColl{s},
		ScriptRuns:        scriptRunColl{s},
	}
}

func newObjectID() string { return bson.NewObjectID().Hex() }
