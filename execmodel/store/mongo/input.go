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

type inputDocument struct {
	ID         string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	Source     string    `bson:"source"`
	Type       string    `bson:"type"`
	ExternalID string    `bson:"external_id"`
	Title      string    `bson:"title,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d inputDocument) toInput() execmodel.Input {
	return execmodel.Input{
		ID: d.ID, WorkflowID: d.WorkflowID, Source: d.Source,
		Type: d.Type, ExternalID: d.ExternalID, Title: d.Title, CreatedAt: d.CreatedAt,
	}
}

type inputColl struct{ s *Store }

func (c inputColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.inputs) }

func (c inputColl) Upsert(ctx context.Context, key execmodel.InputKey, title string) (execmodel.Input, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"workflow_id": key.WorkflowID,
		"source":      key.Source,
		"type":        key.Type,
		"external_id": key.ExternalID,
	}
	update := bson.M{"$setOnInsert": inputDocument{
		ID:         newObjectID(),
		WorkflowID: key.WorkflowID,
		Source:     key.Source,
		Type:       key.Type,
		ExternalID: key.ExternalID,
		Title:      title,
		CreatedAt:  time.Now().UTC(),
	}}
	after := options.After
	var doc inputDocument
	err := c.coll().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		return execmodel.Input{}, err
	}
	return doc.toInput(), nil
}

func (c inputColl) Load(ctx context.Context, id string) (execmodel.Input, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc inputDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Input{}, execmodel.ErrNotFound
		}
		return execmodel.Input{}, err
	}
	return doc.toInput(), nil
}
