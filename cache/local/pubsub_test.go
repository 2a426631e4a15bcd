package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan *LocalMessage) *LocalMessage {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan *LocalMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on %s: %s", msg.Channel, msg.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPubSub_PlayerNotificationReachesOnlyThatPlayer(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	alice, cancelA, err := ps.Subscribe(ctx, "notify:1", "announce")
	require.NoError(t, err)
	defer cancelA()
	bob, cancelB, err := ps.Subscribe(ctx, "notify:2", "announce")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, ps.Publish(ctx, "notify:1", `{"type":"reputation_changed"}`))

	msg := recv(t, alice)
	assert.Equal(t, "notify:1", msg.Channel)
	assert.JSONEq(t, `{"type":"reputation_changed"}`, msg.Payload)
	assertSilent(t, bob)
}

func TestPubSub_AnnouncementFansOut(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	var subs []<-chan *LocalMessage
	for _, ch := range []string{"notify:1", "notify:2", "notify:3"} {
		sub, cancel, err := ps.Subscribe(ctx, ch, "announce")
		require.NoError(t, err)
		defer cancel()
		subs = append(subs, sub)
	}

	require.NoError(t, ps.Publish(ctx, "announce", "war declared"))
	for _, sub := range subs {
		msg := recv(t, sub)
		assert.Equal(t, "announce", msg.Channel)
		assert.Equal(t, "war declared", msg.Payload)
	}
}

func TestPubSub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	ps := NewPubSub(2)
	ctx := context.Background()

	sub, cancel, err := ps.Subscribe(ctx, "notify:7")
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = ps.Publish(ctx, "notify:7", "tick")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	assert.Len(t, sub, 2)
}

func TestPubSub_DisconnectClosesStreamAndForgetsChannels(t *testing.T) {
	ps := NewPubSub(4)
	ctx := context.Background()

	sub, cancel, err := ps.Subscribe(ctx, "notify:9", "announce")
	require.NoError(t, err)
	cancel()
	assert.NotPanics(t, cancel)

	_, ok := <-sub
	assert.False(t, ok)

	ps.mu.RLock()
	assert.Empty(t, ps.subscribers)
	ps.mu.RUnlock()
	assert.NoError(t, ps.Publish(ctx, "notify:9", "nobody home"))
}
