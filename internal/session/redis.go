package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

const (
	redisKeyPrefix     = "chatpay:pending:"
	redisUpdateRetries = 5
)

// RedisStore shares pending actions between replicas. Redis key expiry does
// the sweeping; every mutation of one identity goes through WATCH/MULTI.
type RedisStore struct {
	client redis.UniversalClient
	policy Policy
	clock  domain.Clock
}

func NewRedisStore(client redis.UniversalClient, policy Policy, clock domain.Clock) *RedisStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if policy == nil {
		policy = DefaultPolicy(DefaultConfirmationTTL)
	}
	return &RedisStore{client: client, policy: policy, clock: clock}
}

type redisRecord struct {
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *RedisStore) key(id domain.Identity) string {
	return redisKeyPrefix + string(id)
}

func (s *RedisStore) Put(ctx context.Context, id domain.Identity, p Payload) (Entry, error) {
	e := Entry{Kind: p.Kind(), Payload: p, CreatedAt: s.clock.Now()}
	data, err := encodeEntry(e)
	if err != nil {
		return Entry{}, err
	}
	if err := s.client.Set(ctx, s.key(id), data, s.policy.TTL(e.Kind)).Err(); err != nil {
		return Entry{}, fmt.Errorf("redis set pending: %w", err)
	}
	return e, nil
}

func (s *RedisStore) Get(ctx context.Context, id domain.Identity) (Entry, bool, error) {
	return s.load(ctx, s.client, s.key(id))
}

func (s *RedisStore) Remove(ctx context.Context, id domain.Identity) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del pending: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id domain.Identity, fn UpdateFunc) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		cur, live, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		change, err := fn(cur, live)
		if err != nil {
			return err
		}

		switch change.op {
		case opKeep:
			return nil
		case opDelete:
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		default:
			next := Entry{Kind: change.payload.Kind(), Payload: change.payload, CreatedAt: s.clock.Now()}
			data, err := encodeEntry(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, s.policy.TTL(next.Kind))
				return nil
			})
			return err
		}
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update pending for %s: %w", id, domain.ErrConcurrencyConflict)
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *RedisStore) Sweep(time.Time) int { return 0 }

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) (Entry, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get pending: %w", err)
	}
	e, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, err
	}
	if s.policy.expired(e, s.clock.Now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func encodeEntry(e Entry) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	return json.Marshal(redisRecord{Kind: e.Kind, CreatedAt: e.CreatedAt, Payload: payload})
}

func decodeEntry(data []byte) (Entry, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Entry{}, fmt.Errorf("decode pending entry: %w", err)
	}

	var (
		p   Payload
		err error
	)
	switch rec.Kind {
	case KindWithdrawConfirmation:
		var v WithdrawConfirmation
		err = json.Unmarshal(rec.Payload, &v)
		p = v
	case KindRefundConfirmation:
		var v RefundConfirmation
		err = json.Unmarshal(rec.Payload, &v)
		p = v
	case KindKeyTypeDisambiguation:
		var v KeyTypeDisambiguation
		err = json.Unmarshal(rec.Payload, &v)
		p = v
	case KindAudioCommandConfirmation:
		var v AudioCommandConfirmation
		err = json.Unmarshal(rec.Payload, &v)
		p = v
	case KindImageKeyContext:
		var v ImageKeyContext
		err = json.Unmarshal(rec.Payload, &v)
		p = v
	default:
		return Entry{}, fmt.Errorf("decode pending entry: unknown kind %q", rec.Kind)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
	}
	return Entry{Kind: rec.Kind, Payload: p, CreatedAt: rec.CreatedAt}, nil
}
