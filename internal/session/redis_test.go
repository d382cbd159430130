package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

func setupRedisStore(t *testing.T, clock domain.Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, DefaultPolicy(5*time.Minute), clock), mr
}

func TestRedisStoreRoundTripsEveryKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := setupRedisStore(t, newManualClock())

	payloads := []Payload{
		withdraw(2_500),
		RefundConfirmation{Candidates: []RefundCandidate{{ID: "tx1", Amount: 300}}, RefundAmount: 100},
		KeyTypeDisambiguation{Command: domain.Command{TargetKey: "52998224725", KeyType: domain.KeyCPFOrPhone}},
		AudioCommandConfirmation{Transcription: "manda dez reais", Command: domain.Command{Action: domain.ActionWithdraw, Amount: 1_000}},
		ImageKeyContext{Key: "a@b.c", KeyType: domain.KeyEmail},
	}
	for _, p := range payloads {
		_, err := store.Put(ctx, "5511", p)
		require.NoError(t, err)

		e, ok, err := store.Get(ctx, "5511")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, p.Kind(), e.Kind)
		assert.Equal(t, p, e.Payload)
	}
}

func TestRedisStoreKeyExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := setupRedisStore(t, domain.SystemClock{})

	_, err := store.Put(ctx, "5511", withdraw(100))
	require.NoError(t, err)

	mr.FastForward(5*time.Minute + time.Second)

	_, ok, err := store.Get(ctx, "5511")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUpdateClaimsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := setupRedisStore(t, newManualClock())
	_, err := store.Put(ctx, "u", withdraw(100))
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var claimed bool
			err := store.Update(ctx, "u", func(_ Entry, live bool) (Change, error) {
				claimed = live
				if !live {
					return Keep(), nil
				}
				return Delete(), nil
			})
			if err == nil && claimed {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	_, ok, err := store.Get(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, claims)
}
