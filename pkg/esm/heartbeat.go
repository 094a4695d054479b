package esm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Bot heartbeat timings. These are independent of the per-client liveness
// timings in ClientManager and deliberately do not share a timer with them.
const (
	botHeartbeatInterval = 500 * time.Millisecond
	botHeartbeatWindow   = 200 * time.Millisecond
	botHeartbeatPoll     = 1 * time.Millisecond
)

// BotHeartbeat is the process-wide ping loop driving the global
// bot_connected flag. One in-flight ping at a time with a fixed drop
// deadline: if the latch is still unset when a tick fires, that tick is
// skipped rather than queuing a second ping.
type BotHeartbeat struct {
	log       zerolog.Logger
	router    *Router
	admission *Admission
	metrics   *Metrics

	pongReceived atomic.Bool
}

// NewBotHeartbeat constructs a BotHeartbeat wired to router and admission.
func NewBotHeartbeat(log zerolog.Logger, router *Router, admission *Admission, m *Metrics) *BotHeartbeat {
	if m == nil {
		m = NewMetrics(nil)
	}
	h := &BotHeartbeat{
		log:       log.With().Str("component", "heartbeat").Logger(),
		router:    router,
		admission: admission,
		metrics:   m,
	}
	h.pongReceived.Store(true)
	return h
}

// Pong flips the latch in response to a Pong observed from the bot.
func (h *BotHeartbeat) Pong() {
	h.pongReceived.Store(true)
}

// Run ticks every botHeartbeatInterval until ctx is cancelled.
func (h *BotHeartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(botHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *BotHeartbeat) tick(ctx context.Context) {
	if !h.pongReceived.Load() {
		return
	}
	h.pongReceived.Store(false)

	h.router.routeToBot(brPing{})

	currentlyAlive := false
	deadline := time.After(botHeartbeatWindow)
	ticker := time.NewTicker(botHeartbeatPoll)
	defer ticker.Stop()

poll:
	for {
		if h.pongReceived.Load() {
			currentlyAlive = true
			break poll
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			break poll
		case <-ticker.C:
		}
	}

	if changed := h.admission.SetBotConnected(currentlyAlive); !changed {
		return
	}
	h.metrics.observeBotConnected(currentlyAlive)

	if currentlyAlive {
		h.log.Info().Msg("bot connected")
		return
	}

	h.log.Warn().Msg("bot disconnected")
	h.router.submit(srDisconnect{})
}
