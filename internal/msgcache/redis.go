package msgcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "slidecast:cache:"
	// maxWatchAttempts bounds optimistic transactions that lose a race.
	maxWatchAttempts = 5
)

// RedisStore shares cache entries between broadcaster processes.
type RedisStore struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

// NewRedisStore connects to url and verifies connectivity. ttl 0 means no expiry.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl, clock: time.Now}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Get(ctx context.Context, language, fingerprint string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, redisPrefix+Key(language, fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.Message == "" {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put keeps an audio URL already stored under the same key when entry has none.
func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	if entry.AudioURL == "" {
		if existing, ok, err := s.Get(ctx, entry.LanguageCode, entry.ContextHash); err == nil && ok {
			entry.AudioURL = existing.AudioURL
		}
	}
	entry.UpdatedAt = s.clock().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisPrefix+Key(entry.LanguageCode, entry.ContextHash), data, s.ttl).Err()
}

func (s *RedisStore) SetAudioURL(ctx context.Context, language, fingerprint, audioURL string) error {
	key := redisPrefix + Key(language, fingerprint)
	return retryTxFailed(ctx, maxWatchAttempts, func() error {
		return s.rdb.Watch(ctx, s.audioURLTx(ctx, key, language, fingerprint, audioURL), key)
	})
}

func (s *RedisStore) audioURLTx(ctx context.Context, key, language, fingerprint, audioURL string) func(*redis.Tx) error {
	return func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		var entry Entry
		switch {
		case errors.Is(err, redis.Nil):
			entry = Entry{LanguageCode: Language(language), ContextHash: fingerprint}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("decode cache entry: %w", err)
			}
		}
		entry.AudioURL = audioURL
		entry.UpdatedAt = s.clock().UTC()
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}
}

// retryTxFailed reruns fn while it reports redis.TxFailedErr, at most attempts
// times in total.
func retryTxFailed(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for range max(attempts, 1) {
		if err = fn(); !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("cache entry kept changing after %d attempts: %w", attempts, err)
}
