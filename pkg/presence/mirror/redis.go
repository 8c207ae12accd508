package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const onlineSetKey = "presence:online"

func userConnsKey(userID string) string {
	return "presence:conns:" + userID
}

// RedisMirror keeps two structures:
//  1. `presence:conns:{userID}`: the set of live connection ids for a user,
//     written to by every server instance holding one of them.
//  2. `presence:online`: the set of user ids with at least one connection.
type RedisMirror struct {
	client redisClient
	logger *slog.Logger
}

var _ Mirror = (*RedisMirror)(nil)

func NewRedisMirror(client redisClient, logger *slog.Logger) (*RedisMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisMirror{
		client: client,
		logger: logger.With(slog.String("component", "presence_mirror")),
	}, nil
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID, connID string) error {
	key := userConnsKey(userID)
	if err := m.client.SAdd(ctx, key, connID).Err(); err != nil {
		return fmt.Errorf("failed to add connection to %s: %w", key, err)
	}
	if err := m.client.SAdd(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to add user to online set: %w", err)
	}
	m.logger.Debug("Mirrored connection online", slog.String("userID", userID), slog.String("connID", connID))
	return nil
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID, connID string) error {
	key := userConnsKey(userID)
	if err := m.client.SRem(ctx, key, connID).Err(); err != nil {
		return fmt.Errorf("failed to remove connection from %s: %w", key, err)
	}

	remaining, err := m.client.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to count remaining connections for %s: %w", userID, err)
	}
	if remaining > 0 {
		return nil
	}

	// Last connection anywhere: drop the per-user set and the online flag.
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete empty connection set for %s: %w", userID, err)
	}
	if err := m.client.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove user from online set: %w", err)
	}
	m.logger.Debug("Mirrored user offline", slog.String("userID", userID))
	return nil
}

func (m *RedisMirror) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read online set: %w", err)
	}
	return ids, nil
}
