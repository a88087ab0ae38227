package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublisherStoresMessages confirms publishes are recorded in order and copied out.
func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "digest", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "digest-dlq", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "digest", msgs[0].Topic)
	assert.Equal(t, "digest-dlq", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "digest", pub.Messages()[0].Topic)
}

// TestPublisherFailWith confirms rejected publishes surface the error and are not recorded.
func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(func(topic string, _ any) error {
		if topic == "broken" {
			return errors.New("transport unavailable")
		}
		return nil
	})

	_, err := pub.Publish(context.Background(), "broken", "x")
	require.EqualError(t, err, "transport unavailable")
	_, err = pub.Publish(context.Background(), "digest", "y")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}
