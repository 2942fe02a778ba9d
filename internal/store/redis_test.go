// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsift/matchtrail/internal/events"
)

func setupInterim(t *testing.T) (*miniredis.Miniredis, *RedisInterim) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisInterimFromClient(client, zerolog.Nop())
}

func interimFixture(correlationID string, ttl time.Duration) InterimRecord {
	return InterimRecord{
		CorrelationID: correlationID,
		Snapshot: events.QueryEvent{
			CorrelationID: correlationID,
			OccurredAt:    time.Now().UnixMilli(),
			Query:         "Kubernetes experience?",
		},
		ExpiresAt: time.Now().Add(ttl),
	}
}

func TestRedisInterim_UpsertGet(t *testing.T) {
	_, s := setupInterim(t)
	ctx := context.Background()

	rec := interimFixture("c1", time.Minute)
	require.NoError(t, s.Upsert(ctx, rec))

	got, found, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.CorrelationID, got.CorrelationID)
	assert.Equal(t, rec.Snapshot.Query, got.Snapshot.Query)
}

func TestRedisInterim_GetMissing(t *testing.T) {
	_, s := setupInterim(t)

	_, found, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisInterim_UpsertIsIdempotent(t *testing.T) {
	mr, s := setupInterim(t)
	ctx := context.Background()

	rec := interimFixture("c1", time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, rec))
	}

	// One key, not five.
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisInterim_TTLExpiry(t *testing.T) {
	mr, s := setupInterim(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, interimFixture("c1", time.Minute)))

	mr.FastForward(2 * time.Minute)

	_, found, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found, "record must vanish via native TTL")
	assert.Empty(t, mr.Keys(), "no leaked keys after expiry")
}

func TestRedisInterim_RedeliveryRefreshesTTL(t *testing.T) {
	mr, s := setupInterim(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, interimFixture("c1", time.Minute)))
	mr.FastForward(45 * time.Second)

	// Redelivered query, fresh window.
	require.NoError(t, s.Upsert(ctx, interimFixture("c1", time.Minute)))
	mr.FastForward(45 * time.Second)

	_, found, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, found, "refreshed TTL must keep the record alive")
}

func TestRedisInterim_Delete(t *testing.T) {
	_, s := setupInterim(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, interimFixture("c1", time.Minute)))
	require.NoError(t, s.Delete(ctx, "c1"))

	_, found, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent record is not an error.
	assert.NoError(t, s.Delete(ctx, "c1"))
}

func TestRedisInterim_ExpiredUpsertIsNoop(t *testing.T) {
	mr, s := setupInterim(t)

	rec := interimFixture("c1", time.Minute)
	rec.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, s.Upsert(context.Background(), rec))

	assert.Empty(t, mr.Keys())
}
