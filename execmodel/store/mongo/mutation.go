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

type mutationDocument struct {
	ID                string    `bson:"_id"`
	HandlerRunID      string    `bson:"handler_run_id"`
	WorkflowID        string    `bson:"workflow_id"`
	ToolNamespace     string    `bson:"tool_namespace"`
	ToolMethod        string    `bson:"tool_method"`
	Params            []byte    `bson:"params,omitempty"`
	IdempotencyKey    string    `bson:"idempotency_key,omitempty"`
	Status            string    `bson:"status"`
	Result            []byte    `bson:"result,omitempty"`
	Error             string    `bson:"error,omitempty"`
	ReconcileAttempts int       `bson:"reconcile_attempts"`
	LastReconcileAt   time.Time `bson:"last_reconcile_at,omitempty"`
	NextReconcileAt   time.Time `bson:"next_reconcile_at,omitempty"`
	ResolvedBy        string    `bson:"resolved_by,omitempty"`
	ResolvedAt        time.Time `bson:"resolved_at,omitempty"`
	UITitle           string    `bson:"ui_title,omitempty"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func fromMutation(m execmodel.Mutation) mutationDocument {
	return mutationDocument{
		ID: m.ID, HandlerRunID: m.HandlerRunID, WorkflowID: m.WorkflowID,
		ToolNamespace: m.ToolNamespace, ToolMethod: m.ToolMethod, Params: m.Params,
		IdempotencyKey: m.IdempotencyKey, Status: string(m.Status), Result: m.Result, Error: m.Error,
		ReconcileAttempts: m.ReconcileAttempts, LastReconcileAt: m.LastReconcileAt.UTC(), NextReconcileAt: m.NextReconcileAt.UTC(),
		ResolvedBy: string(m.ResolvedBy), ResolvedAt: m.ResolvedAt.UTC(), UITitle: m.UITitle,
		CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (d mutationDocument) toMutation() execmodel.Mutation {
	return execmodel.Mutation{
		ID: d.ID, HandlerRunID: d.HandlerRunID, WorkflowID: d.WorkflowID,
		ToolNamespace: d.ToolNamespace, ToolMethod: d.ToolMethod, Params: d.Params,
		IdempotencyKey: d.IdempotencyKey, Status: execmodel.MutationStatus(d.Status), Result: d.Result, Error: d.Error,
		ReconcileAttempts: d.ReconcileAttempts, LastReconcileAt: d.LastReconcileAt, NextReconcileAt: d.NextReconcileAt,
		ResolvedBy: execmodel.Resolution(d.ResolvedBy), ResolvedAt: d.ResolvedAt, UITitle: d.UITitle,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type mutationColl struct{ s *Store }

func (c mutationColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.mutations) }

func (c mutationColl) Create(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error) {
	return c.insert(ctx, m, execmodel.MutationPending)
}

func (c mutationColl) CreateInFlight(ctx context.Context, m execmodel.Mutation) (execmodel.Mutation, error) {
	return c.insert(ctx, m, execmodel.MutationInFlight)
}

func (c mutationColl) insert(ctx context.Context, m execmodel.Mutation, status execmodel.MutationStatus) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if m.ID == "" {
		m.ID = newObjectID()
	}
	now := time.Now()
	m.Status = status
	m.CreatedAt = now
	m.UpdatedAt = now
	if _, err := c.coll().InsertOne(ctx, fromMutation(m)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return execmodel.Mutation{}, execmodel.ErrConflict
		}
		return execmodel.Mutation{}, err
	}
	return m, nil
}

func (c mutationColl) Load(ctx context.Context, id string) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc mutationDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Mutation{}, execmodel.ErrNotFound
		}
		return execmodel.Mutation{}, err
	}
	return doc.toMutation(), nil
}

func (c mutationColl) LoadByHandlerRun(ctx context.Context, handlerRunID string) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc mutationDocument
	if err := c.coll().FindOne(ctx, bson.M{"handler_run_id": handlerRunID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Mutation{}, execmodel.ErrNotFound
		}
		return execmodel.Mutation{}, err
	}
	return doc.toMutation(), nil
}

func (c mutationColl) UpdateStatus(ctx context.Context, id string, to execmodel.MutationStatus, result []byte, errMsg string) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.Load(ctx, id)
	if err != nil {
		return execmodel.Mutation{}, err
	}
	if !execmodel.CanTransition(cur.Status, to) {
		return execmodel.Mutation{}, &execmodel.ErrInvalidMutationTransition{From: cur.Status, To: to}
	}
	set := bson.M{"status": string(to), "updated_at": time.Now().UTC()}
	if result != nil {
		set["result"] = result
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	after := options.After
	var doc mutationDocument
	err = c.coll().FindOneAndUpdate(ctx, bson.M{"_id": id, "status": string(cur.Status)}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Mutation{}, execmodel.ErrConflict
		}
		return execmodel.Mutation{}, err
	}
	return doc.toMutation(), nil
}

func (c mutationColl) ScheduleNextReconcile(ctx context.Context, id string, nowMs, delayMs int64) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	now := time.UnixMilli(nowMs).UTC()
	next := now.Add(time.Duration(delayMs) * time.Millisecond)
	after := options.After
	var doc mutationDocument
	err := c.coll().FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"last_reconcile_at": now, "next_reconcile_at": next, "updated_at": now},
			"$inc": bson.M{"reconcile_attempts": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Mutation{}, execmodel.ErrNotFound
		}
		return execmodel.Mutation{}, err
	}
	return doc.toMutation(), nil
}

func (c mutationColl) DueForReconciliation(ctx context.Context, nowMs int64, limit int) ([]execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"status":            string(execmodel.MutationNeedsReconcile),
		"next_reconcile_at": bson.M{"$lte": time.UnixMilli(nowMs).UTC()},
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "next_reconcile_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []mutationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.Mutation, len(docs))
	for i, d := range docs {
		out[i] = d.toMutation()
	}
	return out, nil
}

// Resolve is the user-override path and, unlike UpdateStatus, does not gate
// on execmodel.CanTransition: a human asserting an outcome for a stuck
// (needs_reconcile/indeterminate) or disputed (failed) mutation is allowed
// to set its terminal status directly.
func (c mutationColl) Resolve(ctx context.Context, id string, by execmodel.Resolution, status execmodel.MutationStatus) (execmodel.Mutation, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if _, err := c.Load(ctx, id); err != nil {
		return execmodel.Mutation{}, err
	}
	now := time.Now().UTC()
	after := options.After
	var doc mutationDocument
	err := c.coll().FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status), "resolved_by": string(by), "resolved_at": now, "updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		return execmodel.Mutation{}, err
	}
	return doc.toMutation(), nil
}
