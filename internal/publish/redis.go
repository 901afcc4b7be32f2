// Package publish hands ranked worklists to the dashboard over Redis.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ckd-screening-service/internal/domain"
)

// EventWorklistPublished is the only event type sent on the events channel.
const EventWorklistPublished = "worklist.published"

// WorklistEvent is the notification published after the latest worklist is replaced.
type WorklistEvent struct {
	Type        string                        `json:"type"`
	RunID       string                        `json:"run_id"`
	EvaluatedOn string                        `json:"evaluated_on"`
	GeneratedAt time.Time                     `json:"generated_at"`
	Entries     int                           `json:"entries"`
	ByAction    map[domain.ActionCategory]int `json:"by_action"`
}

// RedisPublisher stores the latest worklist under a key and announces it on a channel.
type RedisPublisher struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       *logrus.Logger
}

// NewRedisClient builds a client from the cache configuration.
func NewRedisClient(cfg domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	return redis.NewClient(opts), nil
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, cfg domain.CacheConfig, logger *logrus.Logger) *RedisPublisher {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ckd"
	}
	return &RedisPublisher{
		client:    client,
		keyPrefix: prefix,
		ttl:       cfg.WorklistTTL,
		log:       logger,
	}
}

// LatestKey is the key holding the most recent worklist.
func (p *RedisPublisher) LatestKey() string {
	return p.keyPrefix + ":worklist:latest"
}

// EventsChannel is the pub/sub channel announcing new worklists.
func (p *RedisPublisher) EventsChannel() string {
	return p.keyPrefix + ":worklist:events"
}

// Publish replaces the latest worklist and notifies subscribers in one transaction.
func (p *RedisPublisher) Publish(ctx context.Context, worklist *domain.Worklist) error {
	if worklist == nil {
		return domain.NewValidationError("worklist", "worklist is required", nil)
	}

	payload, err := json.Marshal(worklist)
	if err != nil {
		return fmt.Errorf("encoding worklist: %w", err)
	}
	event, err := json.Marshal(WorklistEvent{
		Type:        EventWorklistPublished,
		RunID:       worklist.RunID,
		EvaluatedOn: worklist.EvaluatedOn.Format(domain.DateLayout),
		GeneratedAt: worklist.GeneratedAt,
		Entries:     len(worklist.Entries),
		ByAction:    worklist.ByAction,
	})
	if err != nil {
		return fmt.Errorf("encoding worklist event: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.LatestKey(), payload, p.ttl)
		pipe.Publish(ctx, p.EventsChannel(), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing worklist %s: %w", worklist.RunID, err)
	}

	p.log.WithFields(logrus.Fields{
		"run_id":  worklist.RunID,
		"entries": len(worklist.Entries),
		"key":     p.LatestKey(),
	}).Info("Published worklist")
	return nil
}

// Latest returns the most recently published worklist, or domain.ErrNotFound
// once it has expired or before anything was published.
func (p *RedisPublisher) Latest(ctx context.Context) (*domain.Worklist, error) {
	data, err := p.client.Get(ctx, p.LatestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest worklist: %w", err)
	}

	var worklist domain.Worklist
	if err := json.Unmarshal(data, &worklist); err != nil {
		return nil, fmt.Errorf("decoding latest worklist: %w", err)
	}
	return &worklist, nil
}

// Ping checks the connection for health reporting.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
