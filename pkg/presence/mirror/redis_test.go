package mirror

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements redisClient with plain in-memory sets.
type fakeRedis struct {
	sets map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]struct{})}
}

func (f *fakeRedis) set(key string) map[string]struct{} {
	s, ok := f.sets[key]
	if !ok {
		s = make(map[string]struct{})
		f.sets[key] = s
	}
	return s
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s := f.set(key)
	var added int64
	for _, m := range members {
		mk := m.(string)
		if _, ok := s[mk]; !ok {
			s[mk] = struct{}{}
			added++
		}
	}
	cmd.SetVal(added)
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	s := f.set(key)
	var removed int64
	for _, m := range members {
		mk := m.(string)
		if _, ok := s[mk]; ok {
			delete(s, mk)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedis) SCard(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.sets[key])))
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	cmd.SetVal(members)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var deleted int64
	for _, k := range keys {
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			deleted++
		}
	}
	cmd.SetVal(deleted)
	return cmd
}

func newTestMirror(t *testing.T) (*RedisMirror, *fakeRedis) {
	t.Helper()
	fake := newFakeRedis()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	m, err := NewRedisMirror(fake, logger)
	require.NoError(t, err)
	return m, fake
}

func TestRedisMirror_OnlineOffline(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestMirror(t)

	require.NoError(t, m.SetOnline(ctx, "alice", "c1"))
	require.NoError(t, m.SetOnline(ctx, "alice", "c2"))
	require.NoError(t, m.SetOnline(ctx, "bob", "c3"))

	ids, err := m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	// Dropping one of two connections keeps the user online.
	require.NoError(t, m.SetOffline(ctx, "alice", "c1"))
	ids, err = m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	// Dropping the last connection removes the user and its key.
	require.NoError(t, m.SetOffline(ctx, "alice", "c2"))
	ids, err = m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob"}, ids)
	_, exists := fake.sets[userConnsKey("alice")]
	assert.False(t, exists, "empty per-user connection set should be deleted")
}

func TestRedisMirror_OfflineUnknownConnection(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMirror(t)

	// Removing a connection that was never added must not fail.
	require.NoError(t, m.SetOffline(ctx, "ghost", "c9"))
	ids, err := m.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisMirror_RequiresClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	_, err := NewRedisMirror(nil, logger)
	assert.Error(t, err)
}
