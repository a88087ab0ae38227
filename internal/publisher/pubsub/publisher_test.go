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

type digestMessage struct {
	UserID string `json:"user_id"`
	Body   string `json:"body"`
}

func (m digestMessage) Attributes() map[string]string {
	return map[string]string{"user_id": m.UserID}
}

func newFakePublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "kizashi-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "digest")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

// TestPublishSendsJSONWithAttributes confirms the payload encoding and attribute hook.
func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()
	pub, srv := newFakePublisher(t)

	id, err := pub.Publish(context.Background(), "digest", digestMessage{UserID: "u-1", Body: "本日の動き"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got digestMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "本日の動き", got.Body)
	assert.Equal(t, "u-1", msgs[0].Attributes["user_id"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

// TestPublishUnknownTopic confirms a missing topic surfaces as an error.
func TestPublishUnknownTopic(t *testing.T) {
	t.Parallel()
	pub, _ := newFakePublisher(t)

	_, err := pub.Publish(context.Background(), "missing", map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to missing")
}

// TestPublishWithoutClient confirms an unconfigured publisher fails fast.
func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()
	_, err := (&Publisher{}).Publish(context.Background(), "digest", "x")
	require.EqualError(t, err, "pubsub publisher is not configured")
}
