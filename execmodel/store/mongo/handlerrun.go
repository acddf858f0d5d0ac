package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/signalmesh/core/execmodel"
)

type handlerRunDocument struct {
	ID              string    `bson:"_id"`
	ScriptRunID     string    `bson:"script_run_id"`
	WorkflowID      string    `bson:"workflow_id"`
	HandlerType     string    `bson:"handler_type"`
	HandlerName     string    `bson:"handler_name"`
	Phase           string    `bson:"phase"`
	Status          string    `bson:"status"`
	InputState      []byte    `bson:"input_state,omitempty"`
	PrepareResult   []byte    `bson:"prepare_result,omitempty"`
	OutputState     []byte    `bson:"output_state,omitempty"`
	MutationOutcome string    `bson:"mutation_outcome,omitempty"`
	RetryOf         string    `bson:"retry_of,omitempty"`
	StartedAt       time.Time `bson:"started_at"`
	EndedAt         time.Time `bson:"ended_at,omitempty"`
	Cost            int64     `bson:"cost"`
	Error           string    `bson:"error,omitempty"`
	ErrorType       string    `bson:"error_type,omitempty"`
	Logs            []string  `bson:"logs,omitempty"`
	RetryAttempts   int       `bson:"retry_attempts"`
	NextRetryAt     int64     `bson:"next_retry_at"`
}

func fromHandlerRun(r execmodel.HandlerRun) handlerRunDocument {
	return handlerRunDocument{
		ID: r.ID, ScriptRunID: r.ScriptRunID, WorkflowID: r.WorkflowID,
		HandlerType: string(r.HandlerType), HandlerName: r.HandlerName,
		Phase: string(r.Phase), Status: string(r.Status),
		InputState: r.InputState, PrepareResult: r.PrepareResult, OutputState: r.OutputState,
		MutationOutcome: string(r.MutationOutcome), RetryOf: r.RetryOf,
		StartedAt: r.StartedAt.UTC(), EndedAt: r.EndedAt.UTC(), Cost: r.Cost,
		Error: r.Error, ErrorType: string(r.ErrorType), Logs: r.Logs,
		RetryAttempts: r.RetryAttempts, NextRetryAt: r.NextRetryAt,
	}
}

func (d handlerRunDocument) toHandlerRun() execmodel.HandlerRun {
	return execmodel.HandlerRun{
		ID: d.ID, ScriptRunID: d.ScriptRunID, WorkflowID: d.WorkflowID,
		HandlerType: execmodel.HandlerType(d.HandlerType), HandlerName: d.HandlerName,
		Phase: execmodel.Phase(d.Phase), Status: execmodel.Status(d.Status),
		InputState: d.InputState, PrepareResult: d.PrepareResult, OutputState: d.OutputState,
		MutationOutcome: execmodel.MutationOutcome(d.MutationOutcome), RetryOf: d.RetryOf,
		StartedAt: d.StartedAt, EndedAt: d.EndedAt, Cost: d.Cost,
		Error: d.Error, ErrorType: execmodel.ErrorType(d.ErrorType), Logs: d.Logs,
		RetryAttempts: d.RetryAttempts, NextRetryAt: d.NextRetryAt,
	}
}

type handlerRunColl struct{ s *Store }

func (c handlerRunColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.handlerRuns) }

func (c handlerRunColl) Create(ctx context.Context, r execmodel.HandlerRun) (execmodel.HandlerRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if r.ID == "" {
		r.ID = newObjectID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if _, err := c.coll().InsertOne(ctx, fromHandlerRun(r)); err != nil {
		return execmodel.HandlerRun{}, err
	}
	return r, nil
}

func (c handlerRunColl) Load(ctx context.Context, id string) (execmodel.HandlerRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc handlerRunDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.HandlerRun{}, execmodel.ErrNotFound
		}
		return execmodel.HandlerRun{}, err
	}
	return doc.toHandlerRun(), nil
}

func (c handlerRunColl) Update(ctx context.Context, r execmodel.HandlerRun) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	res, err := c.coll().ReplaceOne(ctx, bson.M{"_id": r.ID}, fromHandlerRun(r))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return execmodel.ErrNotFound
	}
	return nil
}

func (c handlerRunColl) ListActive(ctx context.Context) ([]execmodel.HandlerRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll().Find(ctx, bson.M{"status": string(execmodel.StatusActive)})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []handlerRunDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.HandlerRun, len(docs))
	for i, d := range docs {
		out[i] = d.toHandlerRun()
	}
	return out, nil
}

func (c handlerRunColl) DueForRetry(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"status":        string(execmodel.StatusPausedTransient),
		"next_retry_at": bson.M{"$gt": 0, "$lte": nowMs},
	}
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []handlerRunDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.HandlerRun, len(docs))
	for i, d := range docs {
		out[i] = d.toHandlerRun()
	}
	return out, nil
}

func (c handlerRunColl) LatestInChain(ctx context.Context, runID string) (execmodel.HandlerRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.Load(ctx, runID)
	if err != nil {
		return execmodel.HandlerRun{}, err
	}
	for {
		var next handlerRunDocument
		err := c.coll().FindOne(ctx, bson.M{"retry_of": cur.ID}).Decode(&next)
		if err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				break
			}
			return execmodel.HandlerRun{}, err
		}
		cur = next.toHandlerRun()
	}
	return cur, nil
}
