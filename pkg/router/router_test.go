package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/meek/pkg/queue"
)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestExactHandlerInvoked(t *testing.T) {
	q := queue.New(10)
	r := New(q, Config{Workers: 1})
	done := make(chan string, 1)
	r.Handle("meek/AA/result", func(topic string, payload []byte) {
		done <- topic
	})
	r.Start()
	defer r.Stop()

	q.Push(queue.Envelope{Priority: 3, Arrival: time.Now(), Topic: "meek/AA/result", Payload: []byte(`{}`)})
	waitFor(t, done, "meek/AA/result")
}

func TestWildcardHandlerMatchesSingleLevel(t *testing.T) {
	q := queue.New(10)
	r := New(q, Config{Workers: 1})
	done := make(chan string, 1)
	r.HandleWildcard("meek/+/heartbeat", func(topic string, payload []byte) {
		done <- topic
	})
	r.Start()
	defer r.Stop()

	q.Push(queue.Envelope{Priority: 5, Arrival: time.Now(), Topic: "meek/AA:01/heartbeat", Payload: []byte(`{}`)})
	waitFor(t, done, "meek/AA:01/heartbeat")
}

func TestWildcardHandlerHashMatchesRemainder(t *testing.T) {
	q := queue.New(10)
	r := New(q, Config{Workers: 1})
	done := make(chan string, 1)
	r.HandleWildcard("meek/#", func(topic string, payload []byte) {
		done <- topic
	})
	r.Start()
	defer r.Stop()

	q.Push(queue.Envelope{Priority: 1, Arrival: time.Now(), Topic: "meek/AA:01/connection", Payload: []byte(`{}`)})
	waitFor(t, done, "meek/AA:01/connection")
}

func TestDuplicateMessageIDDiscarded(t *testing.T) {
	q := queue.New(10)
	r := New(q, Config{Workers: 1, DedupTTL: time.Minute})
	calls := make(chan string, 2)
	r.Handle("meek/AA/result", func(topic string, payload []byte) {
		calls <- topic
	})
	r.Start()
	defer r.Stop()

	payload := []byte(`{"message_id":"m1"}`)
	q.Push(queue.Envelope{Priority: 3, Arrival: time.Now(), Topic: "meek/AA/result", Payload: payload})
	waitFor(t, calls, "meek/AA/result")

	q.Push(queue.Envelope{Priority: 3, Arrival: time.Now(), Topic: "meek/AA/result", Payload: payload})
	select {
	case <-calls:
		t.Fatal("duplicate message_id should not re-invoke handler")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	q := queue.New(10)
	r := New(q, Config{Workers: 1})
	done := make(chan string, 1)
	r.Handle("meek/AA/result", func(topic string, payload []byte) {
		panic("boom")
	})
	r.Handle("meek/AA/result", func(topic string, payload []byte) {
		done <- "second"
	})
	r.Start()
	defer r.Stop()

	q.Push(queue.Envelope{Priority: 3, Arrival: time.Now(), Topic: "meek/AA/result", Payload: []byte(`{}`)})
	waitFor(t, done, "second")
}

func TestMatchTopicWildcards(t *testing.T) {
	require.True(t, matchTopic([]string{"meek", "+", "heartbeat"}, "meek/AA:01/heartbeat"))
	require.False(t, matchTopic([]string{"meek", "+", "heartbeat"}, "meek/AA:01/BB/heartbeat"))
	require.True(t, matchTopic([]string{"meek", "#"}, "meek/AA:01/BB/heartbeat"))
	require.False(t, matchTopic([]string{"meek", "+", "heartbeat"}, "meek/AA:01/result"))
}

func TestMessageIDExtraction(t *testing.T) {
	require.Equal(t, "m1", messageID([]byte(`{"message_id":"m1"}`)))
	require.Equal(t, "", messageID([]byte(`not json`)))
	require.Equal(t, "", messageID([]byte(`{}`)))
}
