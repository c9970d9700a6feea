package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFireRunsHandlersInRegistrationOrder(t *testing.T) {
	d := New(nil, "engine", nil)

	var order []int
	d.On(SpiderOpened, func(ctx context.Context, ev Event) error {
		order = append(order, 1)
		return nil
	})
	d.On(SpiderOpened, func(ctx context.Context, ev Event) error {
		order = append(order, 2)
		return nil
	})

	err := d.Fire(context.Background(), Event{Name: SpiderOpened, Source: "spider-a"})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, order)
}

func TestDispatcherFireOnlyInvokesMatchingName(t *testing.T) {
	d := New(nil, "engine", nil)

	var fired bool
	d.On(SpiderClosed, func(ctx context.Context, ev Event) error {
		fired = true
		return nil
	})

	require.NoError(t, d.Fire(context.Background(), Event{Name: SpiderOpened}))
	require.False(t, fired, "a handler registered for a different name must not run")
}

func TestDispatcherFireReturnsFirstHandlerError(t *testing.T) {
	d := New(nil, "engine", nil)

	errA := errors.New("handler a failed")
	d.On(SpiderIdle, func(ctx context.Context, ev Event) error { return errA })
	d.On(SpiderIdle, func(ctx context.Context, ev Event) error { return errors.New("handler b failed") })

	err := d.Fire(context.Background(), Event{Name: SpiderIdle})
	require.Equal(t, errA, err)
}

func TestDispatcherFireStampsTimestampWhenZero(t *testing.T) {
	d := New(nil, "engine", nil)

	var got Event
	d.On(ItemScraped, func(ctx context.Context, ev Event) error {
		got = ev
		return nil
	})

	before := time.Now()
	require.NoError(t, d.Fire(context.Background(), Event{Name: ItemScraped}))
	require.False(t, got.Timestamp.Before(before.Add(-time.Second)))
}

func TestDispatcherRedisFanOutReachesSiblingConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer publisher.Close()
	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()

	sub := New(subscriber, "engine", nil)
	received := make(chan Event, 1)
	sub.On(EngineStarted, func(ctx context.Context, ev Event) error {
		received <- ev
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sub.Connect(ctx))
	defer sub.Close()

	pub := New(publisher, "engine", nil)
	require.NoError(t, pub.Fire(ctx, Event{Name: EngineStarted, Source: "spider-a"}))

	select {
	case ev := <-received:
		require.Equal(t, EngineStarted, ev.Name)
		require.Equal(t, "spider-a", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fanned-out signal")
	}
}
