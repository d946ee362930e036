package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnlinePayloadIncludesClientID(t *testing.T) {
	require.Contains(t, string(onlinePayload("node-1")), `"status":"online"`)
	require.Contains(t, string(onlinePayload("node-1")), `"client_id":"node-1"`)
}

func TestOfflinePayloadIncludesClientID(t *testing.T) {
	require.Contains(t, string(offlinePayload("node-1")), `"status":"offline"`)
	require.Contains(t, string(offlinePayload("node-1")), `"client_id":"node-1"`)
}

func TestConnectionTopicUsesPrefix(t *testing.T) {
	c := New(Config{TopicPrefix: "meek"})
	require.Equal(t, "meek/connection", c.connectionTopic())
}

func TestPublishWithoutConnectionReturnsNotConnected(t *testing.T) {
	c := New(Config{TopicPrefix: "meek"})
	err := c.Publish("meek/x", []byte("{}"), false, 0)
	require.ErrorIs(t, err, ErrNotConnected)
}
