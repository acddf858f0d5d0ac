package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/signalmesh/core/execmodel"
)

// setupMongo starts a throwaway mongo:7 container via testcontainers-go,
// grounded on registry/store/mongo/mongo_test.go's setupMongoDB. Docker not
// being available is not a test failure (it usually means a dev laptop/CI
// runner without Docker access), so callers skip rather than fail.
func setupMongo(t *testing.T) *mongodriver.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
		Tmpfs:        map[string]string{"/data/db": "rw"},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping mongo integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx, nil))
	return client
}

// TestStorePersistsWorkflowAcrossInstances verifies a Workflow written by
// one *Store survives a fresh Store built over the same database and
// client connection, the property the teacher's equivalent test names
// "persist across store recreation".
func TestStorePersistsWorkflowAcrossInstances(t *testing.T) {
	client := setupMongo(t)
	ctx := context.Background()
	dbName := fmt.Sprintf("signalmesh_test_%d", time.Now().UnixNano())
	defer func() { _ = client.Database(dbName).Drop(context.Background()) }()

	store1, err := New(ctx, Options{Client: client, Database: dbName})
	require.NoError(t, err)

	w := execmodel.Workflow{
		ID:         "wf-1",
		Title:      "round trip",
		Status:     execmodel.WorkflowActive,
		IntentSpec: []byte(`{"goal":"persist"}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store1.Stores().Workflows.Create(ctx, w))

	store2, err := New(ctx, Options{Client: client, Database: dbName})
	require.NoError(t, err)

	loaded, err := store2.Stores().Workflows.Load(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, w.Title, loaded.Title)
	require.Equal(t, w.Status, loaded.Status)
	require.Equal(t, w.IntentSpec, loaded.IntentSpec)
}

// TestStoreEventReservationRoundTrip exercises the event ledger's
// publish/reserve/consume path against a real MongoDB instance, since the
// inmem store's mutex-guarded map cannot exercise Mongo's document
// update/filter semantics the way a reservation query's filter document can
// silently diverge from the in-memory implementation's Go logic.
func TestStoreEventReservationRoundTrip(t *testing.T) {
	client := setupMongo(t)
	ctx := context.Background()
	dbName := fmt.Sprintf("signalmesh_test_%d", time.Now().UnixNano())
	defer func() { _ = client.Database(dbName).Drop(context.Background()) }()

	st, err := New(ctx, Options{Client: client, Database: dbName})
	require.NoError(t, err)
	stores := st.Stores()

	ev, err := stores.Events.Publish(ctx, "wf-1", "topic-a", execmodel.PublishRequest{MessageID: "m1", Payload: []byte("1")}, "")
	require.NoError(t, err)
	require.Equal(t, execmodel.EventPending, ev.Status)

	reserved, err := stores.Events.Reserve(ctx, "run-1", []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}})
	require.NoError(t, err)
	require.Len(t, reserved, 1)

	reservedAgain, err := stores.Events.Reserve(ctx, "run-2", []execmodel.Reservation{{Topic: "topic-a", IDs: []string{ev.ID}}})
	require.NoError(t, err)
	require.Empty(t, reservedAgain, "an already-reserved event must not be granted to a second run")

	require.NoError(t, stores.Events.Consume(ctx, "run-1"))
	pending, err := stores.Events.Peek(ctx, "wf-1", "topic-a", execmodel.EventPending, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
