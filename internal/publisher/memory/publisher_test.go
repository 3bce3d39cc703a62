package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "catalog-runs", map[string]int{"resolved": 3})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "catalog-alerts", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "catalog-runs", msgs[0].Topic)

	var decoded map[string]int
	require.NoError(t, msgs[0].Decode(&decoded))
	require.Equal(t, 3, decoded["resolved"])

	msgs[0].Topic = "modified"
	require.Equal(t, "catalog-runs", pub.Messages()[0].Topic)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Empty(t, New().Messages())
}
