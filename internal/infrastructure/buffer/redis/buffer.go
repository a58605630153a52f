// Package redis implements the overflow group buffer: groups admitted
// beyond a step's quota are parked in a Redis list and drained first by the
// next step, in arrival order.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ZefanW/verl-prime/internal/core/trajectory"
	"github.com/ZefanW/verl-prime/internal/observability/logging"
	"github.com/ZefanW/verl-prime/pkg/config"
	"github.com/ZefanW/verl-prime/pkg/errors"
)

// GroupBuffer is a FIFO buffer of serialized prompt groups keyed by run
type GroupBuffer struct {
	client *redis.Client
	cfg    config.RedisConfig
	key    string
	logger logging.Logger
}

// NewGroupBuffer connects to Redis and verifies the connection
func NewGroupBuffer(cfg config.RedisConfig, runID string, logger logging.Logger) (*GroupBuffer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to connect to redis")
	}
	return &GroupBuffer{
		client: client,
		cfg:    cfg,
		key:    fmt.Sprintf("verl-prime:buffer:%s", runID),
		logger: logger,
	}, nil
}

// Park appends groups to the tail of the buffer
func (b *GroupBuffer) Park(ctx context.Context, groups []*trajectory.Group) error {
	if len(groups) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(groups))
	for _, g := range groups {
		data, err := json.Marshal(g)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to serialize group")
		}
		payloads = append(payloads, data)
	}
	if err := b.client.RPush(ctx, b.key, payloads...).Err(); err != nil {
		return errors.Wrap(err, errors.CodeInfrastructure, "failed to park groups")
	}
	if b.cfg.KeyTTL > 0 {
		b.client.Expire(ctx, b.key, b.cfg.KeyTTL)
	}
	b.logger.Debug("parked surplus groups",
		logging.Int("count", len(groups)),
		logging.String("key", b.key))
	return nil
}

// Drain pops up to maxGroups from the head of the buffer. An undecodable
// entry is dropped with a warning rather than poisoning the step.
func (b *GroupBuffer) Drain(ctx context.Context, maxGroups int) ([]*trajectory.Group, error) {
	if maxGroups < 1 {
		return nil, nil
	}
	raw, err := b.client.LPopCount(ctx, b.key, maxGroups).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInfrastructure, "failed to drain groups")
	}

	groups := make([]*trajectory.Group, 0, len(raw))
	for _, entry := range raw {
		var g trajectory.Group
		if err := json.Unmarshal([]byte(entry), &g); err != nil {
			b.logger.Warn("dropping undecodable buffered group", logging.Error(err))
			continue
		}
		groups = append(groups, &g)
	}
	return groups, nil
}

// Len returns the number of parked groups
func (b *GroupBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInfrastructure, "failed to read buffer length")
	}
	return n, nil
}

// Close releases the Redis connection
func (b *GroupBuffer) Close() error {
	return b.client.Close()
}
