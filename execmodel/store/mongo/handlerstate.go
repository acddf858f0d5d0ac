package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/signalmesh/core/execmodel"
)

type handlerStateDocument struct {
	WorkflowID  string `bson:"workflow_id"`
	HandlerName string `bson:"handler_name"`
	State       []byte `bson:"state,omitempty"`
	WakeAt      int64  `bson:"wake_at"`
}

func (d handlerStateDocument) toHandlerState() execmodel.HandlerState {
	return execmodel.HandlerState{WorkflowID: d.WorkflowID, HandlerName: d.HandlerName, State: d.State, WakeAt: d.WakeAt}
}

type handlerStateColl struct{ s *Store }

func (c handlerStateColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.handlerStates) }

func (c handlerStateColl) Load(ctx context.Context, workflowID, handlerName string) (execmodel.HandlerState, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc handlerStateDocument
	if err := c.coll().FindOne(ctx, bson.M{"workflow_id": workflowID, "handler_name": handlerName}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.HandlerState{}, execmodel.ErrNotFound
		}
		return execmodel.HandlerState{}, err
	}
	return doc.toHandlerState(), nil
}

func (c handlerStateColl) Save(ctx context.Context, hs execmodel.HandlerState) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"workflow_id": hs.WorkflowID, "handler_name": hs.HandlerName}
	update := bson.M{"$set": handlerStateDocument{
		WorkflowID: hs.WorkflowID, HandlerName: hs.HandlerName, State: hs.State, WakeAt: hs.WakeAt,
	}}
	_, err := c.coll().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c handlerStateColl) DueWakes(ctx context.Context, nowMs int64, limit int) ([]execmodel.HandlerState, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"wake_at": bson.M{"$gt": 0, "$lte": nowMs}}
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []handlerStateDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.HandlerState, len(docs))
	for i, d := range docs {
		out[i] = d.toHandlerState()
	}
	return out, nil
}
