// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/crmrealtime/internal/auth"
	"github.com/ManuGH/crmrealtime/internal/cache"
	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
	"github.com/ManuGH/crmrealtime/internal/topic"
)

const (
	inboxSize    = 16
	dropLogEvery = 100
)

type inbound struct {
	data   []byte
	binary bool
}

// session is one connection. It reaches its Subscription only through the
// registry by connection id. The run loop is the only writer of the
// subscription, dedupe and busSub; helper goroutines never touch them.
type session struct {
	g      *Gateway
	conn   *websocket.Conn
	id     auth.Identity
	connID string
	logger zerolog.Logger

	connectedAt time.Time

	out     *outbox
	dedupe  *cache.Window
	limiter *rate.Limiter
	retryBO *backoff.ExponentialBackOff
	busSub  bus.Subscription
	retry   <-chan time.Time
	drops   uint64

	ctx    context.Context
	cancel context.CancelFunc

	closeMu     sync.Mutex
	closeSet    bool
	closeCode   websocket.StatusCode
	closeReason string
}

func newSession(parent context.Context, g *Gateway, conn *websocket.Conn, id auth.Identity, connID string) *session {
	ctx, cancel := context.WithCancel(parent)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	return &session{
		g:      g,
		conn:   conn,
		id:     id,
		connID: connID,
		logger: log.WithContext(parent, g.logger).With().
			Str(log.FieldConnectionID, connID).
			Str(log.FieldTenantID, id.TenantID).
			Str(log.FieldUserID, id.UserID).
			Logger(),
		connectedAt: time.Now(),
		out:         newOutbox(g.cfg.SendBuffer),
		dedupe:      cache.NewWindow(g.cfg.DedupeWindow, g.cfg.DedupeSize),
		limiter:     rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst),
		retryBO:     bo,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// stop ends the session. The first close code recorded wins.
func (s *session) stop(code websocket.StatusCode, reason string) {
	s.closeMu.Lock()
	if !s.closeSet {
		s.closeSet = true
		s.closeCode = code
		s.closeReason = reason
	}
	s.closeMu.Unlock()
	s.cancel()
}

func (s *session) closeStatus() (websocket.StatusCode, string) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closeSet {
		return websocket.StatusNormalClosure, ""
	}
	return s.closeCode, s.closeReason
}

func (s *session) run() {
	if err := s.g.registry.Register(NewSubscription(s.connID, s.id.UserID, s.id.TenantID, s.connectedAt)); err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "ws.register_failed").Msg("could not register connection")
		_ = s.conn.Close(websocket.StatusInternalError, "internal error")
		s.cancel()
		return
	}
	metrics.GatewayConnections.Inc()
	s.logger.Info().Str(log.FieldEvent, "ws.connected").Msg("websocket connected")

	inbox := make(chan inbound, inboxSize)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.readLoop(inbox) }()
	go func() { defer wg.Done(); s.writeLoop() }()
	go func() { defer wg.Done(); s.heartbeat() }()

	s.loop(inbox)

	// Closing: the only path that removes the subscription.
	s.cancel()
	if s.busSub != nil {
		_ = s.busSub.Close()
		s.busSub = nil
	}
	var cursor uint64
	if sub := s.subscription(); sub != nil {
		cursor = sub.Cursor()
	}
	s.g.registry.Unregister(s.connID)
	metrics.GatewayConnections.Dec()

	code, reason := s.closeStatus()
	if code == websocket.StatusAbnormalClosure {
		_ = s.conn.CloseNow()
	} else {
		_ = s.conn.Close(code, reason)
	}
	wg.Wait()

	s.logger.Info().
		Str(log.FieldEvent, "ws.disconnected").
		Int(log.FieldCloseCode, int(code)).
		Str("reason", reason).
		Str(log.FieldCursor, bus.EncodeCursor(cursor)).
		Dur("duration", time.Since(s.connectedAt)).
		Msg("websocket disconnected")
}

func (s *session) subscription() *Subscription {
	sub, _ := s.g.registry.Get(s.connID)
	return sub
}

func (s *session) loop(inbox <-chan inbound) {
	s.subscribeBus()
	for {
		var busC <-chan bus.Envelope
		if s.busSub != nil {
			busC = s.busSub.C()
		}

		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			s.handleClient(msg)
		case env, ok := <-busC:
			if !ok {
				s.logger.Warn().Str(log.FieldEvent, "ws.bus_subscription_lost").Msg("bus subscription ended, resubscribing")
				_ = s.busSub.Close()
				s.busSub = nil
				s.scheduleResubscribe()
				continue
			}
			s.handleEnvelope(env)
		case <-s.retry:
			s.retry = nil
			s.subscribeBus()
		}
	}
}

func (s *session) subscribeBus() {
	sub, err := s.g.bus.Subscribe(s.ctx, bus.Filter{
		TenantID: s.id.TenantID,
		Patterns: []string{topic.Wildcard},
	})
	if err != nil {
		if errors.Is(err, bus.ErrClosed) {
			s.stop(CloseGoingAway, "server shutdown")
			return
		}
		s.logger.Warn().Err(err).Str(log.FieldEvent, "ws.bus_subscribe_failed").Msg("bus subscribe failed")
		s.scheduleResubscribe()
		return
	}
	s.retryBO.Reset()
	s.busSub = sub
}

func (s *session) scheduleResubscribe() {
	s.retry = time.After(s.retryBO.NextBackOff())
}

func (s *session) handleClient(msg inbound) {
	if !s.limiter.Allow() {
		s.g.audit.ClientRateLimited(s.id.TenantID, s.id.UserID, s.connID)
		s.sendError(reasonRateLimited)
		return
	}
	if msg.binary {
		s.sendError(reasonBinary)
		return
	}
	var m clientMessage
	if err := json.Unmarshal(msg.data, &m); err != nil {
		s.sendError(reasonMalformed)
		return
	}

	switch m.Type {
	case msgPing:
		s.send(framePong, pongFrame{Type: framePong})
	case msgSubscribe:
		s.handleSubscribe(m.Topics)
	case msgUnsubscribe:
		s.handleUnsubscribe(m.Topics)
	default:
		s.sendError(reasonUnknownType)
	}
}

func normalizeTopics(raw []string) ([]string, string) {
	if len(raw) == 0 {
		return nil, reasonMissingTopics
	}
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if err := topic.ValidatePattern(p); err != nil {
			return nil, reasonInvalidTopic
		}
		out = append(out, p)
	}
	return out, ""
}

func (s *session) handleSubscribe(raw []string) {
	patterns, reason := normalizeTopics(raw)
	if reason != "" {
		s.sendError(reason)
		return
	}
	sub := s.subscription()
	if sub == nil {
		return
	}

	merged := topic.NewSet(sub.Patterns()...)
	for _, p := range patterns {
		merged.Add(p)
	}
	if merged.Len() > s.g.cfg.MaxPatterns {
		s.sendError(reasonTooManyPatterns)
		return
	}

	effective := sub.Add(patterns...)
	s.logger.Debug().Str(log.FieldEvent, "ws.subscribed").Strs(log.FieldPatterns, effective).Msg("patterns updated")
	s.send(frameSubscribed, ackFrame{Type: frameSubscribed, Topics: effective})
}

func (s *session) handleUnsubscribe(raw []string) {
	patterns, reason := normalizeTopics(raw)
	if reason != "" {
		s.sendError(reason)
		return
	}
	sub := s.subscription()
	if sub == nil {
		return
	}
	effective := sub.Remove(patterns...)
	s.logger.Debug().Str(log.FieldEvent, "ws.unsubscribed").Strs(log.FieldPatterns, effective).Msg("patterns updated")
	s.send(frameUnsubscribed, ackFrame{Type: frameUnsubscribed, Topics: effective})
}

func (s *session) handleEnvelope(env bus.Envelope) {
	sub := s.subscription()
	if sub == nil || !sub.Matches(env.TenantID, env.Topic) {
		return
	}
	if s.dedupe.CheckAndAdd(env.IdempotencyKey) {
		metrics.IncGatewayDrop("duplicate")
		return
	}
	frame := eventFrame{Type: frameEvent, Topic: env.Topic, Data: env.Payload, Cursor: env.Cursor()}
	s.queue(frameEvent, frame, env.Position)
}

func (s *session) sendError(reason string) {
	s.send(frameError, errorFrame{Type: frameError, Reason: reason})
}

// send queues a frame under the overflow policy. It reports false when the
// frame was not queued.
func (s *session) send(frameType string, v any) bool {
	return s.queue(frameType, v, 0)
}

// queue is send for frames that carry a bus position. The subscription
// cursor moves to position once the frame is written, see delivered.
func (s *session) queue(frameType string, v any, position uint64) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "ws.encode_failed").Msg("failed to encode frame")
		return false
	}

	dropOldest := s.g.cfg.OverflowPolicy != OverflowDisconnect
	if full := s.out.push(outFrame{data: data, position: position}, dropOldest); full {
		if !dropOldest {
			metrics.IncGatewayDrop("slow_consumer")
			s.logger.Warn().Str(log.FieldEvent, "ws.slow_consumer").Msg("send buffer full, disconnecting")
			s.stop(CloseSlowConsumer, "slow consumer")
			return false
		}
		metrics.IncGatewayDrop(OverflowDropOldest)
		s.drops++
		if s.drops%dropLogEvery == 1 {
			s.logger.Warn().
				Str(log.FieldEvent, "ws.backpressure").
				Uint64("dropped", s.drops).
				Msg("send buffer full, dropped oldest frame")
		}
	}
	metrics.IncFrame(frameType)
	return true
}

// readLoop forwards client frames until the connection fails. It reads
// without the session context: cancelling a read closes the socket, and the
// closing path needs it open for the close handshake.
func (s *session) readLoop(inbox chan<- inbound) {
	defer close(inbox)
	for {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				s.stop(status, "")
			} else {
				s.stop(websocket.StatusAbnormalClosure, "")
			}
			return
		}
		select {
		case inbox <- inbound{data: data, binary: typ == websocket.MessageBinary}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.out.notify:
		}
		for _, frame := range s.out.drain() {
			if s.ctx.Err() != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.g.cfg.WriteTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, frame.data)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Str(log.FieldEvent, "ws.write_failed").Msg("write failed")
				s.stop(websocket.StatusAbnormalClosure, "")
				return
			}
			s.delivered(frame)
		}
	}
}

// delivered advances the resume cursor past a written event frame. Frames
// evicted from the outbox never get here.
func (s *session) delivered(frame outFrame) {
	if frame.position == 0 {
		return
	}
	if sub := s.subscription(); sub != nil {
		sub.Advance(frame.position)
	}
}

func (s *session) heartbeat() {
	ticker := time.NewTicker(s.g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.g.cfg.PongTimeout)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Info().Err(err).Str(log.FieldEvent, "ws.heartbeat_timeout").Msg("no pong, closing connection")
				}
				s.stop(websocket.StatusPolicyViolation, "heartbeat timeout")
				_ = s.conn.CloseNow()
				return
			}
		}
	}
}
