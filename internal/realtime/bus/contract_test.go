// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recvTimeout = 2 * time.Second

// openFunc builds a fresh bus for one contract case.
type openFunc func(t *testing.T, cfg Config) Bus

// RunContractTests runs the behaviour every backend must share.
func RunContractTests(t *testing.T, open openFunc) {
	t.Run("PublishValidation", func(t *testing.T) { testPublishValidation(t, open) })
	t.Run("LiveDelivery", func(t *testing.T) { testLiveDelivery(t, open) })
	t.Run("TenantIsolation", func(t *testing.T) { testTenantIsolation(t, open) })
	t.Run("ReplayThenLive", func(t *testing.T) { testReplayThenLive(t, open) })
	t.Run("ReplayConcurrentPublishes", func(t *testing.T) { testReplayConcurrentPublishes(t, open) })
	t.Run("ReplayWindowBounded", func(t *testing.T) { testReplayWindowBounded(t, open) })
	t.Run("ReplayWindowPerTenant", func(t *testing.T) { testReplayWindowPerTenant(t, open) })
	t.Run("InvalidFilter", func(t *testing.T) { testInvalidFilter(t, open) })
	t.Run("SubscriptionClose", func(t *testing.T) { testSubscriptionClose(t, open) })
	t.Run("SlowSubscriberDoesNotBlock", func(t *testing.T) { testSlowSubscriber(t, open) })
	t.Run("BusClose", func(t *testing.T) { testBusClose(t, open) })
}

func recv(t *testing.T, sub Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return env
	case <-time.After(recvTimeout):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func expectNone(t *testing.T, sub Subscription, wait time.Duration) {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected envelope %s at position %d", env.Topic, env.Position)
		}
	case <-time.After(wait):
	}
}

func publish(t *testing.T, b Bus, tenant, topicName string, payload string) Envelope {
	t.Helper()
	env, err := b.Publish(context.Background(), Event{
		Topic:    topicName,
		TenantID: tenant,
		Payload:  json.RawMessage(payload),
	})
	require.NoError(t, err)
	return env
}

func subscribe(t *testing.T, b Bus, f Filter) Subscription {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), f)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func testPublishValidation(t *testing.T, open openFunc) {
	b := open(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name string
		ev   Event
	}{
		{"empty tenant", Event{Topic: "deal.created", Payload: json.RawMessage(`{}`)}},
		{"empty topic", Event{TenantID: "t1", Payload: json.RawMessage(`{}`)}},
		{"wildcard topic", Event{Topic: "deal.*", TenantID: "t1"}},
		{"invalid payload", Event{Topic: "deal.created", TenantID: "t1", Payload: json.RawMessage(`{nope`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Publish(ctx, tc.ev)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func testLiveDelivery(t *testing.T, open openFunc) {
	b := open(t, Config{})
	sub := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"deal.stage.*"}})

	publish(t, b, "t1", "deal.owner.updated", `{"id":"d0"}`)
	first := publish(t, b, "t1", "deal.stage.updated", `{"id":"d1","stage":"won"}`)
	second := publish(t, b, "t1", "deal.stage.created", `{"id":"d2"}`)

	got := recv(t, sub)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "deal.stage.updated", got.Topic)
	assert.JSONEq(t, `{"id":"d1","stage":"won"}`, string(got.Payload))
	assert.Equal(t, first.Position, got.Position)
	assert.NotEmpty(t, got.IdempotencyKey)

	got = recv(t, sub)
	assert.Equal(t, second.ID, got.ID)
	assert.Greater(t, got.Position, first.Position)

	expectNone(t, sub, 100*time.Millisecond)
}

func testTenantIsolation(t *testing.T, open openFunc) {
	b := open(t, Config{})
	subA := subscribe(t, b, Filter{TenantID: "tenant-a", Patterns: []string{"*"}})
	subB := subscribe(t, b, Filter{TenantID: "tenant-b", Patterns: []string{"*"}})

	for i := 0; i < 10; i++ {
		publish(t, b, "tenant-a", "deal.created", `{}`)
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, "tenant-a", recv(t, subA).TenantID)
	}
	expectNone(t, subB, 150*time.Millisecond)
}

func testReplayThenLive(t *testing.T, open openFunc) {
	b := open(t, Config{})
	e1 := publish(t, b, "t1", "quote.sent", `{"n":1}`)
	e2 := publish(t, b, "t1", "quote.sent", `{"n":2}`)
	publish(t, b, "t2", "quote.sent", `{"n":99}`)
	e3 := publish(t, b, "t1", "quote.sent", `{"n":3}`)

	sub := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"quote.*"}, After: e1.Position})
	assert.Equal(t, e2.ID, recv(t, sub).ID)
	assert.Equal(t, e3.ID, recv(t, sub).ID)

	e4 := publish(t, b, "t1", "quote.sent", `{"n":4}`)
	got := recv(t, sub)
	assert.Equal(t, e4.ID, got.ID)
	assert.Equal(t, e4.Position, got.Position)
	expectNone(t, sub, 100*time.Millisecond)
}

func testReplayConcurrentPublishes(t *testing.T, open openFunc) {
	b := open(t, Config{})
	const before, during = 5, 40

	var positions []uint64
	for i := 0; i < before; i++ {
		positions = append(positions, publish(t, b, "t1", "deal.created", `{}`).Position)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < during; i++ {
			_, _ = b.Publish(context.Background(), Event{Topic: "deal.created", TenantID: "t1"})
		}
	}()

	after := positions[1]
	sub := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"deal.*"}, After: after})
	wg.Wait()

	want := before - 2 + during
	last := after
	for i := 0; i < want; i++ {
		env := recv(t, sub)
		require.Equal(t, last+1, env.Position, "gap or duplicate between replay and live")
		last = env.Position
	}
	expectNone(t, sub, 100*time.Millisecond)
}

func testReplayWindowBounded(t *testing.T, open openFunc) {
	b := open(t, Config{ReplayWindow: 2})
	first := publish(t, b, "t1", "deal.created", `{"n":1}`)
	publish(t, b, "t1", "deal.created", `{"n":2}`)
	e3 := publish(t, b, "t1", "deal.created", `{"n":3}`)
	e4 := publish(t, b, "t1", "deal.created", `{"n":4}`)

	sub := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"*"}, After: first.Position})
	assert.Equal(t, e3.Position, recv(t, sub).Position)
	assert.Equal(t, e4.Position, recv(t, sub).Position)
	expectNone(t, sub, 100*time.Millisecond)
}

// A busy tenant must not push another tenant's envelopes out of the
// replay window.
func testReplayWindowPerTenant(t *testing.T, open openFunc) {
	b := open(t, Config{ReplayWindow: 4})
	first := publish(t, b, "t1", "deal.created", `{"n":1}`)
	second := publish(t, b, "t1", "deal.created", `{"n":2}`)
	for i := 0; i < 10; i++ {
		publish(t, b, "t2", "deal.created", `{}`)
	}

	sub := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"*"}, After: first.Position})
	assert.Equal(t, second.Position, recv(t, sub).Position)
	expectNone(t, sub, 100*time.Millisecond)

	busy := subscribe(t, b, Filter{TenantID: "t2", Patterns: []string{"*"}, After: second.Position})
	for i := 0; i < 4; i++ {
		assert.Equal(t, "t2", recv(t, busy).TenantID)
	}
	expectNone(t, busy, 100*time.Millisecond)
}

func testInvalidFilter(t *testing.T, open openFunc) {
	b := open(t, Config{})
	_, err := b.Subscribe(context.Background(), Filter{Patterns: []string{"*"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = b.Subscribe(context.Background(), Filter{TenantID: "t1", Patterns: []string{"deal.*.x"}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func testSubscriptionClose(t *testing.T, open openFunc) {
	b := open(t, Config{})
	sub, err := b.Subscribe(context.Background(), Filter{TenantID: "t1", Patterns: []string{"*"}})
	require.NoError(t, err)
	assert.Equal(t, 1, SubscriberCount(b))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")
	assert.Equal(t, 0, SubscriberCount(b))

	_, ok := <-sub.C()
	assert.False(t, ok, "channel is closed")

	publish(t, b, "t1", "deal.created", `{}`)
}

func testSlowSubscriber(t *testing.T, open openFunc) {
	b := open(t, Config{SubscriberBuffer: 2})
	slow := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"*"}})
	fast := subscribe(t, b, Filter{TenantID: "t1", Patterns: []string{"*"}})

	// Publish must return even though slow never reads.
	for i := 0; i < 5; i++ {
		publish(t, b, "t1", "deal.created", `{}`)
		recv(t, fast)
	}

	require.Eventually(t, func() bool { return len(slow.C()) == 2 }, recvTimeout, 10*time.Millisecond)
	first := recv(t, slow)
	second := recv(t, slow)
	assert.Less(t, first.Position, second.Position)
	expectNone(t, slow, 100*time.Millisecond)
}

func testBusClose(t *testing.T, open openFunc) {
	b := open(t, Config{})
	sub, err := b.Subscribe(context.Background(), Filter{TenantID: "t1", Patterns: []string{"*"}})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, b.Health(context.Background()))

	require.NoError(t, b.Close())
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(recvTimeout):
		t.Fatal("subscription not closed with the bus")
	}

	_, err = b.Publish(context.Background(), Event{Topic: "deal.created", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Subscribe(context.Background(), Filter{TenantID: "t1", Patterns: []string{"*"}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StatusDown, b.Health(context.Background()))
	assert.NoError(t, sub.Close())
}
