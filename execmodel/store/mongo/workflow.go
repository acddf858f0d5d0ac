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

type workflowDocument struct {
	ID                   string `bson:"_id"`
	Title                string `bson:"title"`
	Status               string `bson:"status"`
	Maintenance          bool   `bson:"maintenance"`
	MaintenanceFixCount  int    `bson:"maintenance_fix_count"`
	Error                string `bson:"error,omitempty"`
	ActiveScriptID       string `bson:"active_script_id,omitempty"`
	HandlerConfig        []byte `bson:"handler_config,omitempty"`
	IntentSpec           []byte `bson:"intent_spec,omitempty"`
	PendingRetryRunID    string `bson:"pending_retry_run_id,omitempty"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

func fromWorkflow(w execmodel.Workflow) workflowDocument {
	return workflowDocument{
		ID:                  w.ID,
		Title:               w.Title,
		Status:              string(w.Status),
		Maintenance:         w.Maintenance,
		MaintenanceFixCount: w.MaintenanceFixCount,
		Error:               w.Error,
		ActiveScriptID:      w.ActiveScriptID,
		HandlerConfig:       w.HandlerConfig,
		IntentSpec:          w.IntentSpec,
		PendingRetryRunID:   w.PendingRetryRunID,
		CreatedAt:           w.CreatedAt.UTC(),
		UpdatedAt:           w.UpdatedAt.UTC(),
	}
}

func (d workflowDocument) toWorkflow() execmodel.Workflow {
	return execmodel.Workflow{
		ID:                  d.ID,
		Title:               d.Title,
		Status:              execmodel.WorkflowStatus(d.Status),
		Maintenance:         d.Maintenance,
		MaintenanceFixCount: d.MaintenanceFixCount,
		Error:               d.Error,
		ActiveScriptID:      d.ActiveScriptID,
		HandlerConfig:       d.HandlerConfig,
		IntentSpec:          d.IntentSpec,
		PendingRetryRunID:   d.PendingRetryRunID,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type workflowColl struct{ s *Store }

func (c workflowColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.workflows) }

func (c workflowColl) Create(ctx context.Context, w execmodel.Workflow) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if w.ID == "" {
		w.ID = newObjectID()
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := c.coll().InsertOne(ctx, fromWorkflow(w))
	return err
}

func (c workflowColl) Load(ctx context.Context, id string) (execmodel.Workflow, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc workflowDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Workflow{}, execmodel.ErrNotFound
		}
		return execmodel.Workflow{}, err
	}
	return doc.toWorkflow(), nil
}

func (c workflowColl) Update(ctx context.Context, w execmodel.Workflow) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	w.UpdatedAt = time.Now()
	res, err := c.coll().ReplaceOne(ctx, bson.M{"_id": w.ID}, fromWorkflow(w))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return execmodel.ErrNotFound
	}
	return nil
}

func (c workflowColl) ListRunnable(ctx context.Context, cursor string, limit int) ([]execmodel.Workflow, string, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"status":      string(execmodel.WorkflowActive),
		"error":       bson.M{"$in": []any{"", nil}},
		"maintenance": false,
	}
	if cursor != "" {
		filter["_id"] = bson.M{"$gt": cursor}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit) + 1)
	}
	cur, err := c.coll().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var docs []workflowDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", err
	}

	next := ""
	if limit > 0 && len(docs) > limit {
		next = docs[limit-1].ID
		docs = docs[:limit]
	}
	out := make([]execmodel.Workflow, len(docs))
	for i, d := range docs {
		out[i] = d.toWorkflow()
	}
	return out, next, nil
}
