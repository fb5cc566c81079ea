package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
)

type testEvent struct{ name string }

func (e testEvent) EventName() string { return e.name }

func TestBus_FanoutToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var first, second atomic.Int64
	bus.Subscribe("order.created", func(ctx context.Context, e domoutbox.Event) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe("order.created", func(ctx context.Context, e domoutbox.Event) error {
		second.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "order.created"}))

	require.Eventually(t, func() bool {
		return first.Load() == 1 && second.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBus_NoSubscriberDropsEvent(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	assert.NoError(t, bus.Publish(context.Background(), testEvent{name: "nobody.listens"}))
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var handled atomic.Int64
	bus.Subscribe("payment.succeeded", func(ctx context.Context, e domoutbox.Event) error {
		panic("boom")
	})
	bus.Subscribe("payment.succeeded", func(ctx context.Context, e domoutbox.Event) error {
		handled.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent{name: "payment.succeeded"}))

	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBus_PublishNilIsNoOp(t *testing.T) {
	bus := NewBus(nil)
	assert.NoError(t, bus.Publish(context.Background(), nil))
}

func TestBus_StopIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	bus.Stop(context.Background())
	bus.Stop(context.Background())
}
