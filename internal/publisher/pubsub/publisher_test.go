package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "b3-project", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = client.CreateTopic(ctx, "b3-runs")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t)
	payload := map[string]any{"run_id": "r-1", "downloaded": 2}

	id, err := pub.Publish(context.Background(), "b3-runs", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ContentType, msgs[0].Attributes["content_type"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "r-1", got["run_id"])
	assert.InDelta(t, 2, got["downloaded"], 0)
}

func TestPublishUnknownTopic(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t)
	_, err := pub.Publish(context.Background(), "missing", map[string]string{})
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", nil)
	require.Error(t, err)

	pub, _ := newTestPublisher(t)
	_, err = pub.Publish(context.Background(), "", nil)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "b3-runs", func() {})
	require.Error(t, err)
}
