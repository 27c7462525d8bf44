package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewStepStartEvent("run1", 1)))
	require.NoError(t, bus.Publish(ctx, NewRunEndEvent("run1", 1, "achieved", "")))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestBusStopsAtFirstSubscriberError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	failing := errors.New("boom")
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return failing
	}))
	require.NoError(t, err)
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(ctx, NewStepStartEvent("run1", 1))
	require.ErrorIs(t, err, failing)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, NewStepStartEvent("run1", 1)))
	require.NoError(t, subscription.Close())
	require.NoError(t, bus.Publish(ctx, NewRunEndEvent("run1", 1, "achieved", "")))
	require.Equal(t, 1, count)
}
