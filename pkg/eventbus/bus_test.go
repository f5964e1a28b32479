package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(ChannelGridState)

	b.Publish(ChannelGridState, map[string]any{"frequency_hz": 60.0})

	select {
	case msg := <-ch:
		payload, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 60.0, payload["frequency_hz"])
		assert.Contains(t, payload, "timestamp")
	case <-time.After(time.Second):
		t.Fatal("expected message was not delivered")
	}
}

func TestPublish_DropsOnFullQueueWithoutBlocking(t *testing.T) {
	b := New()
	b.bufferSize = 2
	full := b.Subscribe(ChannelAgentLog)
	other := b.Subscribe(ChannelAgentLog)

	start := time.Now()
	for i := 0; i < 10; i++ {
		b.Publish(ChannelAgentLog, i)
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond, "publish must never block on a full subscriber queue")
	assert.Greater(t, b.DroppedCount(), int64(0))

	// other's queue is also bounded to 2, but unaffected by full's state.
	received := 0
	for {
		select {
		case <-other:
			received++
		default:
			goto done
		}
	}
done:
	assert.Greater(t, received, 0, "an unrelated subscriber must still receive messages")
	_ = full
}

func TestUnsubscribe_ClosesChannelAndStopsDelivery(t *testing.T) {
	b := New()
	ch := b.Subscribe(ChannelGuardianEvent)
	b.Unsubscribe(ChannelGuardianEvent, ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount(ChannelGuardianEvent))
}
