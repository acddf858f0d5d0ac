package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/signalmesh/core/execmodel"
)

type producerScheduleDocument struct {
	WorkflowID    string `bson:"workflow_id"`
	ProducerName  string `bson:"producer_name"`
	ScheduleType  string `bson:"schedule_type"`
	ScheduleValue string `bson:"schedule_value"`
	NextRunAt     int64  `bson:"next_run_at"`
	LastRunAt     int64  `bson:"last_run_at"`
}

func (d producerScheduleDocument) toProducerSchedule() execmodel.ProducerSchedule {
	return execmodel.ProducerSchedule{
		WorkflowID: d.WorkflowID, ProducerName: d.ProducerName,
		ScheduleType: execmodel.ScheduleType(d.ScheduleType), ScheduleValue: d.ScheduleValue,
		NextRunAt: d.NextRunAt, LastRunAt: d.LastRunAt,
	}
}

type producerScheduleColl struct{ s *Store }

func (c producerScheduleColl) coll() *mongodriver.Collection {
	return c.s.db.Collection(collections.producerSchedules)
}

func (c producerScheduleColl) Load(ctx context.Context, workflowID, producerName string) (execmodel.ProducerSchedule, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var doc producerScheduleDocument
	if err := c.coll().FindOne(ctx, bson.M{"workflow_id": workflowID, "producer_name": producerName}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return execmodel.ProducerSchedule{}, execmodel.ErrNotFound
		}
		return execmodel.ProducerSchedule{}, err
	}
	return doc.toProducerSchedule(), nil
}

func (c producerScheduleColl) Save(ctx context.Context, ps execmodel.ProducerSchedule) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"workflow_id": ps.WorkflowID, "producer_name": ps.ProducerName}
	update := bson.M{"$set": producerScheduleDocument{
		WorkflowID: ps.WorkflowID, ProducerName: ps.ProducerName,
		ScheduleType: string(ps.ScheduleType), ScheduleValue: ps.ScheduleValue,
		NextRunAt: ps.NextRunAt, LastRunAt: ps.LastRunAt,
	}}
	_, err := c.coll().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c producerScheduleColl) DueSchedules(ctx context.Context, nowMs int64, limit int) ([]execmodel.ProducerSchedule, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{{Key: "next_run_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll().Find(ctx, bson.M{"next_run_at": bson.M{"$lte": nowMs}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []producerScheduleDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.ProducerSchedule, len(docs))
	for i, d := range docs {
		out[i] = d.toProducerSchedule()
	}
	return out, nil
}
