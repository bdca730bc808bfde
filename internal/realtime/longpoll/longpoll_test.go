// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package longpoll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/crmrealtime/internal/auth"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
)

func setup(t *testing.T, cfg Config) (*Handler, bus.Bus) {
	t.Helper()
	b, err := bus.Open(context.Background(), bus.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	v, err := auth.NewStaticValidatorFromTokens([]auth.StaticToken{
		{Token: "tok-7", User: "alice", Tenant: "7"},
		{Token: "tok-8", User: "bob", Tenant: "8"},
	})
	require.NoError(t, err)
	return New(b, v, cfg), b
}

func pollRequest(ctx context.Context, token string, params url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/realtime/poll?"+params.Encode(), nil).WithContext(ctx)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func poll(t *testing.T, h *Handler, token string, params url.Values) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pollRequest(context.Background(), token, params))
	var resp Response
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func publish(t *testing.T, b bus.Bus, tenant, topicName, payload, key string) bus.Envelope {
	t.Helper()
	env, err := b.Publish(context.Background(), bus.Event{
		Topic: topicName, TenantID: tenant, Payload: json.RawMessage(payload), IdempotencyKey: key,
	})
	require.NoError(t, err)
	return env
}

func TestPoll_Unauthorized(t *testing.T) {
	h, _ := setup(t, Config{})

	for name, r := range map[string]*http.Request{
		"no token":    pollRequest(context.Background(), "", url.Values{"topics": {"*"}}),
		"bad token":   pollRequest(context.Background(), "nope", url.Values{"topics": {"*"}}),
		"query token": pollRequest(context.Background(), "", url.Values{"topics": {"*"}, "token": {"tok-7"}}),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestPoll_BadRequest(t *testing.T) {
	h, _ := setup(t, Config{})

	cases := map[string]url.Values{
		"missing topics": {},
		"invalid topics": {"topics": {"deal..x"}},
		"bad cursor":     {"topics": {"*"}, "cursor": {"zzz"}},
		"bad timeout":    {"topics": {"*"}, "timeout": {"soon"}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			code, _ := poll(t, h, "tok-7", params)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestPoll_TimeoutReturnsEmpty(t *testing.T) {
	h, b := setup(t, Config{})
	first := publish(t, b, "7", "deal.created", `{}`, "")

	start := time.Now()
	code, resp := poll(t, h, "tok-7", url.Values{"topics": {"deal.*"}, "timeout": {"1"}, "cursor": {first.Cursor()}})
	assert.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.NotNil(t, resp.Events)
	assert.Empty(t, resp.Events)
	assert.Equal(t, first.Cursor(), resp.NextCursor, "cursor echoed unchanged")
	assert.False(t, resp.HasMore)
}

func TestPoll_ResumeWithCursor(t *testing.T) {
	h, b := setup(t, Config{})
	c1 := publish(t, b, "7", "deal.stage.updated", `{"n":1}`, "")

	done := make(chan Response, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, pollRequest(context.Background(), "tok-7", url.Values{
			"topics": {"deal.stage.*"}, "timeout": {"5"}, "cursor": {c1.Cursor()},
		}))
		var resp Response
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		done <- resp
	}()

	time.Sleep(300 * time.Millisecond)
	c2 := publish(t, b, "7", "deal.stage.updated", `{"n":2}`, "")

	var resp Response
	select {
	case resp = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not return after publish")
	}
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "deal.stage.updated", resp.Events[0].Topic)
	assert.JSONEq(t, `{"n":2}`, string(resp.Events[0].Data))
	assert.Equal(t, c2.Cursor(), resp.Events[0].Position)
	assert.Equal(t, c2.Cursor(), resp.NextCursor)

	code, again := poll(t, h, "tok-7", url.Values{"topics": {"deal.stage.*"}, "timeout": {"1"}, "cursor": {resp.NextCursor}})
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, again.Events)
	assert.Equal(t, c2.Cursor(), again.NextCursor)
}

func TestPoll_ReplaysBufferedEventsImmediately(t *testing.T) {
	h, b := setup(t, Config{})
	c0 := publish(t, b, "7", "quote.sent", `{}`, "")
	publish(t, b, "7", "quote.sent", `{"n":1}`, "")
	publish(t, b, "7", "deal.created", `{}`, "")
	last := publish(t, b, "7", "quote.accepted", `{"n":2}`, "")

	start := time.Now()
	code, resp := poll(t, h, "tok-7", url.Values{"topics": {"quote.*"}, "cursor": {c0.Cursor()}})
	assert.Equal(t, http.StatusOK, code)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "quote.sent", resp.Events[0].Topic)
	assert.Equal(t, "quote.accepted", resp.Events[1].Topic)
	assert.Equal(t, last.Cursor(), resp.NextCursor)
}

func TestPoll_CursorMonotonic(t *testing.T) {
	h, b := setup(t, Config{})
	cursor := publish(t, b, "7", "deal.created", `{}`, "").Cursor()
	for i := 0; i < 5; i++ {
		publish(t, b, "7", "deal.created", `{}`, "")
	}

	var prev uint64
	for _, ev := range func() []Event {
		_, resp := poll(t, h, "tok-7", url.Values{"topics": {"*"}, "cursor": {cursor}})
		return resp.Events
	}() {
		pos, err := bus.DecodeCursor(ev.Position)
		require.NoError(t, err)
		assert.Greater(t, pos, prev)
		prev = pos
	}
	assert.NotZero(t, prev)
}

func TestPoll_BatchLimitSetsHasMore(t *testing.T) {
	h, b := setup(t, Config{MaxBatch: 2})
	c0 := publish(t, b, "7", "deal.created", `{}`, "")
	publish(t, b, "7", "deal.created", `{"n":1}`, "")
	second := publish(t, b, "7", "deal.created", `{"n":2}`, "")
	publish(t, b, "7", "deal.created", `{"n":3}`, "")

	_, resp := poll(t, h, "tok-7", url.Values{"topics": {"deal.*"}, "cursor": {c0.Cursor()}})
	require.Len(t, resp.Events, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, second.Cursor(), resp.NextCursor)

	_, rest := poll(t, h, "tok-7", url.Values{"topics": {"deal.*"}, "cursor": {resp.NextCursor}})
	require.Len(t, rest.Events, 1)
	assert.JSONEq(t, `{"n":3}`, string(rest.Events[0].Data))
	assert.False(t, rest.HasMore)
}

func TestPoll_DeduplicatesWithinResponse(t *testing.T) {
	h, b := setup(t, Config{})
	c0 := publish(t, b, "7", "deal.created", `{}`, "")
	publish(t, b, "7", "deal.created", `{"n":1}`, "k1")
	dup := publish(t, b, "7", "deal.created", `{"n":1}`, "k1")
	publish(t, b, "7", "deal.updated", `{"n":2}`, "k2")

	_, resp := poll(t, h, "tok-7", url.Values{"topics": {"deal.*"}, "cursor": {c0.Cursor()}})
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "deal.created", resp.Events[0].Topic)
	assert.Equal(t, "deal.updated", resp.Events[1].Topic)

	pos, err := bus.DecodeCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Greater(t, pos, dup.Position)
}

func TestPoll_TenantIsolation(t *testing.T) {
	h, b := setup(t, Config{})
	c0 := publish(t, b, "8", "deal.created", `{}`, "")
	publish(t, b, "7", "deal.created", `{"secret":true}`, "")

	code, resp := poll(t, h, "tok-8", url.Values{"topics": {"*"}, "timeout": {"1"}, "cursor": {c0.Cursor()}})
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Events)
}

func TestPoll_BusClosed(t *testing.T) {
	h, b := setup(t, Config{})
	require.NoError(t, b.Close())

	code, _ := poll(t, h, "tok-7", url.Values{"topics": {"*"}})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestParseTimeout(t *testing.T) {
	h := New(nil, nil, Config{DefaultTimeout: 30 * time.Second, MaxTimeout: 60 * time.Second})

	cases := map[string]time.Duration{
		"":    30 * time.Second,
		"0":   time.Second,
		"-5":  time.Second,
		"5":   5 * time.Second,
		"600": 60 * time.Second,
	}
	for in, want := range cases {
		got, err := h.parseTimeout(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := h.parseTimeout("1.5")
	assert.Error(t, err)
}

func TestPoll_DrainReleasesWaiters(t *testing.T) {
	h, b := setup(t, Config{})
	first := publish(t, b, "7", "deal.created", `{}`, "")

	done := make(chan Response, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, pollRequest(context.Background(), "tok-7", url.Values{
			"topics": {"*"}, "timeout": {"30"}, "cursor": {first.Cursor()},
		}))
		var resp Response
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		done <- resp
	}()

	require.Eventually(t, func() bool { return bus.SubscriberCount(b) == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Drain()
	h.Drain()

	select {
	case resp := <-done:
		assert.Empty(t, resp.Events)
		assert.Equal(t, first.Cursor(), resp.NextCursor)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not release the waiter")
	}

	start := time.Now()
	code, _ := poll(t, h, "tok-7", url.Values{"topics": {"*"}, "timeout": {"30"}})
	assert.Equal(t, http.StatusOK, code)
	assert.Less(t, time.Since(start), time.Second)
}
