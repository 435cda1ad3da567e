package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// Delivery is one dequeued job id. Ack must be called after the
// processor returns — never before — so a crash mid-processing leaves
// the entry pending and Redis redelivers it.
type Delivery struct {
	JobID       uuid.UUID
	Destination string

	stream string
	msgID  string
}

// ErrDeferDelivery, returned from a HandleFunc, leaves the entry
// unacked so a later autoclaim pass redelivers it. For handlers that
// could not record any durable outcome for the delivery.
var ErrDeferDelivery = errors.New("defer delivery")

// HandleFunc processes one delivery. A non-nil error sends the raw
// message to the DLQ stream before acking (permanent failures only;
// retries are scheduled through the store, not the broker), except
// ErrDeferDelivery, which keeps the entry pending instead.
type HandleFunc func(ctx context.Context, d Delivery) error

// Consumer reads job ids from destination streams as part of a
// competing consumer group.
type Consumer struct {
	client       *redis.Client
	group        string
	consumerName string
	destinations []string
	logger       *slog.Logger

	// Claim entries idle longer than this from crashed consumers.
	autoClaimMinIdle time.Duration
}

func NewConsumer(client *redis.Client, group, consumerName string, destinations []string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:           client,
		group:            group,
		consumerName:     consumerName,
		destinations:     destinations,
		logger:           logger,
		autoClaimMinIdle: 30 * time.Second,
	}
}

// EnsureGroups creates the consumer group on every destination stream.
// BUSYGROUP answers are expected on restart.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, dest := range c.destinations {
		err := c.client.XGroupCreateMkStream(ctx, StreamKey(dest), c.group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("create group on %s: %w", dest, err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Run blocks, delivering messages to handle until ctx is canceled.
// Every pass also reclaims entries abandoned by crashed consumers.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) {
	streams := make([]string, 0, len(c.destinations)*2)
	for _, dest := range c.destinations {
		streams = append(streams, StreamKey(dest))
	}
	for range c.destinations {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			return
		}

		c.reclaimAbandoned(ctx, handle)

		entries, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  streams,
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.logger.Error("stream read failed", "err", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range entries {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, handle, stream.Stream, msg)
			}
		}
	}
}

// reclaimAbandoned picks up pending entries whose consumer died before
// acking. This is the broker half of crash recovery; the store-side
// lease reaper unlocks the job row itself.
func (c *Consumer) reclaimAbandoned(ctx context.Context, handle HandleFunc) {
	for _, dest := range c.destinations {
		msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKey(dest),
			Group:    c.group,
			Consumer: c.consumerName,
			MinIdle:  c.autoClaimMinIdle,
			Start:    "0-0",
			Count:    10,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() == nil {
				c.logger.Warn("autoclaim failed", "destination", dest, "err", err)
			}
			continue
		}
		for _, msg := range msgs {
			c.dispatch(ctx, handle, StreamKey(dest), msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, handle HandleFunc, stream string, msg redis.XMessage) {
	raw, ok := msg.Values[msgField].(string)
	if !ok {
		c.logger.Error("malformed stream entry", "stream", stream, "msg_id", msg.ID)
		c.ack(ctx, stream, msg.ID)
		return
	}

	qm, err := domain.DecodeQueueMessage([]byte(raw))
	if err != nil {
		c.logger.Error("undecodable queue message", "stream", stream, "msg_id", msg.ID, "err", err)
		c.deadLetter(ctx, raw, err)
		c.ack(ctx, stream, msg.ID)
		return
	}

	d := Delivery{
		JobID:       qm.JobID,
		Destination: destinationOf(stream),
		stream:      stream,
		msgID:       msg.ID,
	}

	err = handle(ctx, d)
	if !shouldAck(err) {
		// Nothing durable was recorded for this delivery; keep the
		// entry pending so autoclaim hands it to another consumer.
		return
	}
	if err != nil {
		c.deadLetter(ctx, raw, err)
	}
	// The processor has already recorded the outcome durably
	// (completed, retry-scheduled, waiting, or failed+DLQ).
	c.ack(ctx, stream, msg.ID)
}

func shouldAck(err error) bool {
	return !errors.Is(err, ErrDeferDelivery)
}

func (c *Consumer) ack(ctx context.Context, stream, msgID string) {
	if err := c.client.XAck(ctx, stream, c.group, msgID).Err(); err != nil && ctx.Err() == nil {
		c.logger.Error("ack failed", "stream", stream, "msg_id", msgID, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, raw string, cause error) {
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]any{
			msgField: raw,
			"error":  cause.Error(),
		},
	}).Err()
	if err != nil && ctx.Err() == nil {
		c.logger.Error("dead-letter push failed", "err", err)
	}
}

func destinationOf(stream string) string {
	if len(stream) > len(streamPrefix) {
		return stream[len(streamPrefix):]
	}
	return stream
}
