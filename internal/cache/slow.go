package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slowTier is the optional external key-value backing store. It is
// wrapped so the Manager can degrade to fast-only when it is unreachable
// and reconnect later with exponential backoff.
type slowTier struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger

	connected atomic.Bool

	mu           sync.Mutex
	reconnecting bool
}

func newSlowTier(cfg Config, logger *slog.Logger) *slowTier {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.SlowAddr,
		Password:     cfg.SlowPassword,
		DB:           cfg.SlowDB,
		PoolSize:     cfg.SlowPoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &slowTier{client: client, keyPrefix: cfg.KeyPrefix, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("slow cache tier unreachable at startup, degrading to fast-only", "error", err)
		s.connected.Store(false)
	} else {
		s.connected.Store(true)
	}
	return s
}

func (s *slowTier) key(tag ContentType, id string) string {
	return s.keyPrefix + string(tag) + ":" + id
}

func (s *slowTier) isConnected() bool { return s.connected.Load() }

func (s *slowTier) get(ctx context.Context, tag ContentType, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(tag, id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		s.markDegraded()
		return nil, err
	}
	return decompress(data)
}

func (s *slowTier) set(ctx context.Context, tag ContentType, id string, value []byte, ttl time.Duration) error {
	compressed, err := compress(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(tag, id), compressed, ttl).Err(); err != nil {
		s.markDegraded()
		return err
	}
	return nil
}

func (s *slowTier) delete(ctx context.Context, tag ContentType, id string) error {
	if err := s.client.Del(ctx, s.key(tag, id)).Err(); err != nil {
		s.markDegraded()
		return err
	}
	return nil
}

func (s *slowTier) markDegraded() {
	if s.connected.CompareAndSwap(true, false) {
		s.logger.Warn("slow cache tier degraded, falling back to fast-only")
	}
}

// reconnectLoop retries the connection with exponential backoff (initial
// 1s, multiplier 2, cap 30s, max 5 attempts) until the next health cycle
// picks it back up. It is safe to call repeatedly; concurrent calls
// collapse into one attempt.
func (s *slowTier) reconnectLoop(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting || s.connected.Load() {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := s.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			s.connected.Store(true)
			s.logger.Info("slow cache tier reconnected", "attempt", attempt)
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	s.logger.Warn("slow cache tier reconnect attempts exhausted, waiting for next health cycle")
}

func (s *slowTier) close() error {
	return s.client.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}
