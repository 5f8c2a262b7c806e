package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisStore keeps sessions in Redis so several tagview processes can sit
// behind one load balancer.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "tagview:session:"}
}

// DialRedis connects and pings with a bounded timeout.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 20 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisStore) stateKey(id string) string { return r.prefix + id + ":state" }
func (r *RedisStore) imageKey(id string, gen uint64) string {
	return fmt.Sprintf("%s%s:image:%d", r.prefix, id, gen)
}

func (r *RedisStore) Get(ctx context.Context, id string) (State, error) {
	b, err := r.rdb.Get(ctx, r.stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("reading session %s: %w", id, err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return s, nil
}

// Update runs fn inside WATCH/MULTI so concurrent writers to the same
// session retry instead of overwriting each other.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*State)) (State, error) {
	key := r.stateKey(id)
	var out State
	txf := func(tx *redis.Tx) error {
		var s State
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(b, &s); err != nil {
				return fmt.Errorf("decoding session %s: %w", id, err)
			}
		}
		fn(&s)
		s.UpdatedAt = time.Now()
		nb, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, r.ttl)
			if s.ImageGeneration != 0 {
				pipe.Expire(ctx, r.imageKey(id, s.ImageGeneration), r.ttl)
			}
			return nil
		})
		if err == nil {
			out = s
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, fmt.Errorf("updating session %s: %w", id, err)
	}
	return State{}, fmt.Errorf("updating session %s: too much contention", id)
}

func (r *RedisStore) PutImage(ctx context.Context, id string, gen uint64, img Image) error {
	b, err := json.Marshal(img)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.imageKey(id, gen), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("storing image for session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Image(ctx context.Context, id string, gen uint64) (*Image, error) {
	b, err := r.rdb.Get(ctx, r.imageKey(id, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoImage
	}
	if err != nil {
		return nil, fmt.Errorf("reading image for session %s: %w", id, err)
	}
	var img Image
	if err := json.Unmarshal(b, &img); err != nil {
		return nil, fmt.Errorf("decoding image for session %s: %w", id, err)
	}
	return &img, nil
}

func (r *RedisStore) DeleteImage(ctx context.Context, id string, gen uint64) error {
	if err := r.rdb.Del(ctx, r.imageKey(id, gen)).Err(); err != nil {
		return fmt.Errorf("deleting image for session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
