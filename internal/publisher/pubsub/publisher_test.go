package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

func TestNotifyPublishesJSONWithAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test/topics/tasks"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic := client.Publisher("tasks")
	defer topic.Stop()

	pub := New(topic)
	id, err := pub.Notify(ctx, task.Notification{TaskID: "t1", Status: task.StatusCompleted, StoredItems: 5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "t1", msgs[0].Attributes["task_id"])
	require.Equal(t, "completed", msgs[0].Attributes["status"])

	var decoded task.Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, 5, decoded.StoredItems)
}

func TestNotifyWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Notify(context.Background(), task.Notification{TaskID: "t1"})
	require.Error(t, err)
}
