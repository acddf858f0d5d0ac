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

type scriptDocument struct {
	ID            string    `bson:"_id"`
	WorkflowID    string    `bson:"workflow_id"`
	MajorVersion  int       `bson:"major_version"`
	MinorVersion  int       `bson:"minor_version"`
	Code          string    `bson:"code"`
	HandlerConfig []byte    `bson:"handler_config,omitempty"`
	Summary       string    `bson:"summary,omitempty"`
	Diagram       string    `bson:"diagram,omitempty"`
	ChangeComment string    `bson:"change_comment,omitempty"`
	Type          string    `bson:"type"`
	CreatedAt     time.Time `bson:"created_at"`
}

func fromScript(sc execmodel.Script) scriptDocument {
	return scriptDocument{
		ID:            sc.ID,
		WorkflowID:    sc.WorkflowID,
		MajorVersion:  sc.MajorVersion,
		MinorVersion:  sc.MinorVersion,
		Code:          sc.Code,
		HandlerConfig: sc.HandlerConfig,
		Summary:       sc.Summary,
		Diagram:       sc.Diagram,
		ChangeComment: sc.ChangeComment,
		Type:          string(sc.Type),
		CreatedAt:     sc.CreatedAt.UTC(),
	}
}

func (d scriptDocument) toScript() execmodel.Script {
	return execmodel.Script{
		ID:            d.ID,
		WorkflowID:    d.WorkflowID,
		MajorVersion:  d.MajorVersion,
		MinorVersion:  d.MinorVersion,
		Code:          d.Code,
		HandlerConfig: d.HandlerConfig,
		Summary:       d.Summary,
		Diagram:       d.Diagram,
		ChangeComment: d.ChangeComment,
		Type:          execmodel.ScriptType(d.Type),
		CreatedAt:     d.CreatedAt,
	}
}

type scriptColl struct{ s *Store }

func (c scriptColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.scripts) }

func (c scriptColl) Create(ctx context.Context, sc execmodel.Script) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if sc.ID == "" {
		sc.ID = newObjectID()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	_, err := c.coll().InsertOne(ctx, fromScript(sc))
	return err
}

func (c scriptColl) Load(ctx context.Context, id string) (execmodel.Script, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc scriptDocument
	if err := c.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Script{}, execmodel.ErrNotFound
		}
		return execmodel.Script{}, err
	}
	return doc.toScript(), nil
}

func (c scriptColl) LatestForWorkflow(ctx context.Context, workflowID string) (execmodel.Script, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "major_version", Value: -1}, {Key: "minor_version", Value: -1}})
	var doc scriptDocument
	if err := c.coll().FindOne(ctx, bson.M{"workflow_id": workflowID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.Script{}, execmodel.ErrNotFound
		}
		return execmodel.Script{}, err
	}
	return doc.toScript(), nil
}
