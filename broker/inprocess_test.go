package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewInProcessBroker()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "aw-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, Resolution{ID: "aw-1", Success: true, Payload: []byte("ok")}))

	select {
	case res := <-ch:
		assert.True(t, res.Success)
		assert.Equal(t, []byte("ok"), res.Payload)
	case <-time.After(time.Second):
		t.Fatal("resolution never delivered")
	}
}

func TestInProcessBroker_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewInProcessBroker()
	err := b.Publish(context.Background(), Resolution{ID: "aw-none"})
	assert.NoError(t, err)
}

func TestInProcessBroker_MultipleSubscribersAllReceive(t *testing.T) {
	b := NewInProcessBroker()
	ctx := context.Background()

	ch1, cancel1, err := b.Subscribe(ctx, "aw-1")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe(ctx, "aw-1")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish(ctx, Resolution{ID: "aw-1", Success: true}))

	for _, ch := range []<-chan Resolution{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("resolution never delivered to all subscribers")
		}
	}
}

func TestInProcessBroker_CancelRemovesSubscription(t *testing.T) {
	b := NewInProcessBroker()
	ctx := context.Background()

	_, cancel, err := b.Subscribe(ctx, "aw-1")
	require.NoError(t, err)
	cancel()

	assert.Empty(t, b.subs["aw-1"])
}

func TestInProcessBroker_DifferentIDsAreIsolated(t *testing.T) {
	b := NewInProcessBroker()
	ctx := context.Background()

	chA, cancelA, err := b.Subscribe(ctx, "aw-a")
	require.NoError(t, err)
	defer cancelA()

	require.NoError(t, b.Publish(ctx, Resolution{ID: "aw-b", Success: true}))

	select {
	case <-chA:
		t.Fatal("subscriber for aw-a received a resolution meant for aw-b")
	case <-time.After(50 * time.Millisecond):
	}
}
