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

type topicDocument struct {
	ID         string    `bson:"_id"`
	WorkflowID string    `bson:"workflow_id"`
	Name       string    `bson:"name"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d topicDocument) toTopic() execmodel.Topic {
	return execmodel.Topic{ID: d.ID, WorkflowID: d.WorkflowID, Name: d.Name, CreatedAt: d.CreatedAt}
}

type topicColl struct{ s *Store }

func (c topicColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.topics) }

func (c topicColl) EnsureTopic(ctx context.Context, workflowID, name string) (execmodel.Topic, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"workflow_id": workflowID, "name": name}
	update := bson.M{"$setOnInsert": topicDocument{
		ID:         newObjectID(),
		WorkflowID: workflowID,
		Name:       name,
		CreatedAt:  time.Now().UTC(),
	}}
	after := options.After
	var doc topicDocument
	err := c.coll().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after)).Decode(&doc)
	if err != nil {
		return execmodel.Topic{}, err
	}
	return doc.toTopic(), nil
}

func (c topicColl) Load(ctx context.Context, workflowID, name string) (execmodel.Topic, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc topicDocument
	if err := c.coll().FindOne(ctx, bson.M{"workflow_id": workflowID, "name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Topic{}, execmodel.ErrNotFound
		}
		return execmodel.Topic{}, err
	}
	return doc.toTopic(), nil
}
