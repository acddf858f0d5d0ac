package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/signalmesh/core/execmodel"
)

type eventDocument struct {
	ID              string    `bson:"_id"`
	TopicID         string    `bson:"topic_id"`
	WorkflowID      string    `bson:"workflow_id"`
	MessageID       string    `bson:"message_id"`
	Payload         []byte    `bson:"payload,omitempty"`
	Status          string    `bson:"status"`
	ReservedByRunID string    `bson:"reserved_by_run_id,omitempty"`
	CreatedByRunID  string    `bson:"created_by_run_id,omitempty"`
	CausedBy        []string  `bson:"caused_by"`
	AttemptNumber   int       `bson:"attempt_number"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d eventDocument) toEvent() execmodel.Event {
	return execmodel.Event{
		ID:              d.ID,
		TopicID:         d.TopicID,
		WorkflowID:      d.WorkflowID,
		MessageID:       d.MessageID,
		Payload:         d.Payload,
		Status:          execmodel.EventStatus(d.Status),
		ReservedByRunID: d.ReservedByRunID,
		CreatedByRunID:  d.CreatedByRunID,
		CausedBy:        d.CausedBy,
		AttemptNumber:   d.AttemptNumber,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type eventColl struct{ s *Store }

func (c eventColl) coll() *mongodriver.Collection { return c.s.db.Collection(collections.events) }

func (c eventColl) Publish(ctx context.Context, workflowID, topic string, req execmodel.PublishRequest, createdByRunID string) (execmodel.Event, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	t, err := topicColl{c.s}.EnsureTopic(ctx, workflowID, topic)
	if err != nil {
		return execmodel.Event{}, err
	}

	causedBy := req.CausedBy
	if causedBy == nil {
		causedBy = []string{}
	}
	now := time.Now().UTC()

	// A conflicting republish of the same (topic_id, message_id) is not a
	// no-op: spec.md §4.1 requires last-write-wins on payload/caused_by
	// without resetting status, so those two fields ride in $set (applied
	// whether the document already existed or not) while everything else
	// that only makes sense at creation time stays in $setOnInsert.
	filter := bson.M{"topic_id": t.ID, "message_id": req.MessageID}
	update := bson.M{
		"$set": bson.M{
			"payload":    req.Payload,
			"caused_by":  causedBy,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":               newObjectID(),
			"topic_id":          t.ID,
			"workflow_id":       workflowID,
			"message_id":        req.MessageID,
			"status":            string(execmodel.EventPending),
			"created_by_run_id": createdByRunID,
			"attempt_number":    0,
			"created_at":        now,
		},
	}
	after := options.After
	var existing eventDocument
	err = c.coll().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after)).Decode(&existing)
	if err != nil {
		return execmodel.Event{}, err
	}
	return existing.toEvent(), nil
}

func (c eventColl) Peek(ctx context.Context, workflowID, topic string, status execmodel.EventStatus, limit int) ([]execmodel.Event, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	if status == "" {
		status = execmodel.EventPending
	}
	t, err := topicColl{c.s}.Load(ctx, workflowID, topic)
	if err != nil {
		if err == execmodel.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := c.coll().Find(ctx, bson.M{"topic_id": t.ID, "status": string(status)}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]execmodel.Event, len(docs))
	for i, d := range docs {
		out[i] = d.toEvent()
	}
	return out, nil
}

func (c eventColl) Reserve(ctx context.Context, runID string, reservations []execmodel.Reservation) ([]execmodel.Event, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	var reserved []execmodel.Event
	now := time.Now().UTC()
	for _, r := range reservations {
		for _, id := range r.IDs {
			filter := bson.M{"_id": id, "status": string(execmodel.EventPending)}
			update := bson.M{"$set": bson.M{
				"status":             string(execmodel.EventReserved),
				"reserved_by_run_id": runID,
				"updated_at":         now,
			}}
			after := options.After
			var doc eventDocument
			err := c.coll().FindOneAndUpdate(ctx, filter, update,
				options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&doc)
			if err != nil {
				if err == mongodriver.ErrNoDocuments {
					continue
				}
				return reserved, err
			}
			reserved = append(reserved, doc.toEvent())
		}
	}
	return reserved, nil
}

func (c eventColl) Consume(ctx context.Context, runID string) error {
	return c.finalizeReserved(ctx, runID, execmodel.EventConsumed)
}

func (c eventColl) Skip(ctx context.Context, runID string) error {
	return c.finalizeReserved(ctx, runID, execmodel.EventSkipped)
}

func (c eventColl) finalizeReserved(ctx context.Context, runID string, to execmodel.EventStatus) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"status": string(execmodel.EventReserved), "reserved_by_run_id": runID}
	update := bson.M{"$set": bson.M{"status": string(to), "reserved_by_run_id": "", "updated_at": time.Now().UTC()}}
	_, err := c.coll().UpdateMany(ctx, filter, update)
	return err
}

func (c eventColl) Release(ctx context.Context, runID string) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"status": string(execmodel.EventReserved), "reserved_by_run_id": runID}
	update := bson.M{
		"$set": bson.M{"status": string(execmodel.EventPending), "reserved_by_run_id": "", "updated_at": time.Now().UTC()},
		"$inc": bson.M{"attempt_number": 1},
	}
	_, err := c.coll().UpdateMany(ctx, filter, update)
	return err
}

func (c eventColl) Reassign(ctx context.Context, fromRunID, toRunID string) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"status": string(execmodel.EventReserved), "reserved_by_run_id": fromRunID}
	update := bson.M{"$set": bson.M{"reserved_by_run_id": toRunID, "updated_at": time.Now().UTC()}}
	_, err := c.coll().UpdateMany(ctx, filter, update)
	return err
}

func (c eventColl) ReleaseOrphaned(ctx context.Context, isActive func(runID string) bool) (int, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll().Find(ctx, bson.M{"status": string(execmodel.EventReserved)})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return 0, err
	}
	released := 0
	now := time.Now().UTC()
	for _, d := range docs {
		if isActive(d.ReservedByRunID) {
			continue
		}
		update := bson.M{
			"$set": bson.M{"status": string(execmodel.EventPending), "reserved_by_run_id": "", "updated_at": now},
			"$inc": bson.M{"attempt_number": 1},
		}
		if _, err := c.coll().UpdateOne(ctx, bson.M{"_id": d.ID}, update); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (c eventColl) CausedByForRun(ctx context.Context, runID string) ([]string, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll().Find(ctx, bson.M{"status": string(execmodel.EventReserved), "reserved_by_run_id": runID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, d := range docs {
		for _, id := range d.CausedBy {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func (c eventColl) HasAnyPendingForWorkflow(ctx context.Context, workflowID string) (bool, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()
	n, err := c.coll().CountDocuments(ctx, bson.M{"workflow_id": workflowID, "status": string(execmodel.EventPending)}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c eventColl) CountPendingByTopic(ctx context.Context, workflowID string, topics []string) (map[string]int, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	topicFilter := bson.M{"workflow_id": workflowID}
	if len(topics) > 0 {
		topicFilter["name"] = bson.M{"$in": topics}
	}
	cur, err := c.s.db.Collection(collections.topics).Find(ctx, topicFilter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var topicDocs []topicDocument
	if err := cur.All(ctx, &topicDocs); err != nil {
		return nil, err
	}
	nameByID := make(map[string]string, len(topicDocs))
	ids := make([]string, 0, len(topicDocs))
	for _, t := range topicDocs {
		nameByID[t.ID] = t.Name
		ids = append(ids, t.ID)
	}

	counts := make(map[string]int)
	if len(ids) == 0 {
		return counts, nil
	}
	evCur, err := c.coll().Find(ctx, bson.M{"topic_id": bson.M{"$in": ids}, "status": string(execmodel.EventPending)})
	if err != nil {
		return nil, err
	}
	defer evCur.Close(ctx)
	var evDocs []eventDocument
	if err := evCur.All(ctx, &evDocs); err != nil {
		return nil, err
	}
	for _, ev := range evDocs {
		counts[nameByID[ev.TopicID]]++
	}
	return counts, nil
}
