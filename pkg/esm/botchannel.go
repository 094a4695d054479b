package esm

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis list names bridging the server and the bot, matching the external
// interface exactly.
const (
	listServerOutbound = "server_outbound"
	listBotOutbound    = "bot_outbound"
	listServerInbound  = "server_inbound"
)

// BotChannel is the serialized outbound/inbound bridge to the external bot
// via a Redis-backed work queue. It runs three independent workers: one
// drains the router's bot-outbound channel and RPUSHes to server_outbound,
// one BLPOPs server_inbound and dispatches into the router (or flips the
// heartbeat latch), and one BLMOVEs bot_outbound into server_inbound so the
// bot's producer is decoupled from the server's consumer.
type BotChannel struct {
	log       zerolog.Logger
	rdb       *redis.Client
	router    *Router
	heartbeat *BotHeartbeat
}

// NewBotChannel constructs a BotChannel wired to router and heartbeat. rdb
// is expected to already be reachable; Run is where the blocking work
// happens.
func NewBotChannel(log zerolog.Logger, rdb *redis.Client, router *Router, heartbeat *BotHeartbeat) *BotChannel {
	return &BotChannel{
		log:       log.With().Str("component", "botchannel").Logger(),
		rdb:       rdb,
		router:    router,
		heartbeat: heartbeat,
	}
}

// Run starts the three workers and blocks until ctx is cancelled.
func (b *BotChannel) Run(ctx context.Context) {
	done := make(chan struct{}, 3)
	go func() { b.outboundWorker(ctx); done <- struct{}{} }()
	go func() { b.inboundWorker(ctx); done <- struct{}{} }()
	go func() { b.delegationWorker(ctx); done <- struct{}{} }()
	<-done
	<-done
	<-done
}

// outboundWorker serializes messages the router and heartbeat push onto the
// bot-outbound channel and RPUSHes them onto server_outbound. A
// serialization failure drops the message with a logged error; the bot is
// the authoritative store of intent, so we do not retry locally.
func (b *BotChannel) outboundWorker(ctx context.Context) {
	ch := b.router.BotOutbound()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ch:
			json, err := marshalBotRequest(req)
			if err != nil {
				b.log.Error().Err(err).Msg("failed to marshal outbound bot request")
				continue
			}
			if err := b.rdb.RPush(ctx, listServerOutbound, json).Err(); err != nil {
				b.log.Error().Err(err).Msg("failed to RPUSH server_outbound")
			}
		}
	}
}

// inboundWorker blocks on server_inbound, parses a BotRequest, and
// dispatches it to the router or the heartbeat. Deserialization failures
// are logged and the payload dropped.
func (b *BotChannel) inboundWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := b.rdb.BLPop(ctx, 0, listServerInbound).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error().Err(err).Msg("server_inbound blpop failed")
			continue
		}
		if len(res) != 2 {
			continue
		}
		req, isPong, ok, err := unmarshalBotWire([]byte(res[1]))
		if err != nil {
			b.log.Error().Err(err).Str("payload", res[1]).Msg("failed to parse inbound bot request")
			continue
		}
		if !ok {
			b.log.Warn().Str("payload", res[1]).Msg("unsupported inbound bot request")
			continue
		}
		if isPong {
			b.heartbeat.Pong()
			continue
		}
		b.router.submit(req)
	}
}

// delegationWorker moves messages from the bot's own outbound queue into the
// server's inbound queue, decoupling the bot's producer from our consumer.
func (b *BotChannel) delegationWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.rdb.BLMove(ctx, listBotOutbound, listServerInbound, "left", "right", 0).Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Error().Err(err).Msg("failed to BLMOVE bot_outbound -> server_inbound")
		}
	}
}

// Ping checks connectivity to the queue store; used at boot to fail fast per
// the "fatal only on initial connect" rule for QueueUnavailable.
func (b *BotChannel) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}
