package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/rueidis"

	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
)

// RedisStore keeps documents in Redis keyed by document ref.
type RedisStore struct {
	client rueidis.Client
	prefix string
}

// NewRedis connects a Redis-backed document store.
func NewRedis(addrs []string, password, prefix string) (*RedisStore, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  addrs,
		Password:     password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// Put stores a document blob at the given key.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	cmd := s.client.B().Set().Key(s.prefix + key).Value(rueidis.BinaryString(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isTimeout(err) {
			return faults.Transient(fmt.Errorf("put document %s: %w", key, err))
		}
		return fmt.Errorf("put document %s: %w", key, err)
	}
	return nil
}

// Get retrieves a document blob by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.B().Get().Key(s.prefix + key).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, faults.NotFound("document %s", key)
		}
		if isTimeout(err) {
			return nil, faults.Transient(fmt.Errorf("get document %s: %w", key, err))
		}
		return nil, fmt.Errorf("get document %s: %w", key, err)
	}
	return data, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *RedisStore) Close() {
	s.client.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
