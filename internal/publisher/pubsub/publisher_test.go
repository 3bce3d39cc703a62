package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := NewClient(ctx, "catalog-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	_, err := client.CreateTopic(ctx, "catalog-runs")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()

	id, err := pub.Publish(ctx, "catalog-runs", map[string]any{"run_id": "r1", "resolved": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "r1", got["run_id"])
	require.InDelta(t, 3, got["resolved"], 0)
}

func TestPublishUnknownTopicFails(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	pub := New(client)
	defer pub.Stop()

	_, err := pub.Publish(ctx, "missing", "payload")
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", "x")
	require.Error(t, err)
	nilPub.Stop()

	_, err = New(&pubsub.Client{}).Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = NewClient(context.Background(), "")
	require.Error(t, err)
}
