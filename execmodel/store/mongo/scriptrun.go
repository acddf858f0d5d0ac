package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/signalmesh/core/execmodel"
)

type scriptRunDocument struct {
	ID            string    `bson:"_id"`
	WorkflowID    string    `bson:"workflow_id"`
	Trigger       string    `bson:"trigger"`
	Status        string    `bson:"status"`
	HandlerRunIDs []string  `bson:"handler_run_ids,omitempty"`
	StartedAt     time.Time `bson:"started_at"`
	EndedAt       time.Time `bson:"ended_at,omitempty"`
}

func fromScriptRun(r execmodel.ScriptRun) scriptRunDocument {
	return scriptRunDocument{
		ID: r.ID, WorkflowID: r.WorkflowID, Trigger: string(r.Trigger), Status: string(r.Status),
		HandlerRunIDs: r.HandlerRunIDs, StartedAt: r.StartedAt.UTC(), EndedAt: r.EndedAt.UTC(),
	}
}

func (d scriptRunDocument) toScriptRun() execmodel.ScriptRun {
	return execmodel.ScriptRun{
		ID: d.ID, WorkflowID: d.WorkflowID, Trigger: execmodel.ScriptRunTrigger(d.Trigger),
		Status: execmodel.ScriptRunStatus(d.Status), HandlerRunIDs: d.HandlerRunIDs,
		StartedAt: d.StartedAt, EndedAt: d.EndedAt,
	}
}

type scriptRunColl struct{ s *Store }

func (c scriptRunColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.scriptRuns) }

func (c scriptRunColl) Create(ctx context.Context, r execmodel.ScriptRun) (execmodel.ScriptRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if r.ID == "" {
		r.ID = newObjectID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = execmodel.ScriptRunActive
	}
	if _, err := c.coll().InsertOne(ctx, fromScriptRun(r)); err != nil {
		return execmodel.ScriptRun{}, err
	}
	return r, nil
}

func (c scriptRunColl) Load(ctx context.Context, id string) (execmodel.ScriptRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc scriptRunDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.ScriptRun{}, execmodel.ErrNotFound
		}
		return execmodel.ScriptRun{}, err
	}
	return doc.toScriptRun(), nil
}

func (c scriptRunColl) Update(ctx context.Context, r execmodel.ScriptRun) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	res, err := c.coll().ReplaceOne(ctx, bson.M{"_id": r.ID}, fromScriptRun(r))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return execmodel.ErrNotFound
	}
	return nil
}

func (c scriptRunColl) ListOpen(ctx context.Context) ([]execmodel.ScriptRun, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll().Find(ctx, bson.M{"status": string(execmodel.ScriptRunActive)})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []scriptRunDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.ScriptRun, len(docs))
	for i, d := range docs {
		out[i] = d.toScriptRun()
	}
	return out, nil
}
