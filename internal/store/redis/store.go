package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps the settings document in a single redis key.
type Store struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewStore creates a settings backend on key (DefaultSettingsKey when empty).
func NewStore(client *redis.Client, key string) *Store {
	return &Store{
		client: client,
		key:    SettingsKey(key),
		now:    time.Now,
	}
}

// Load returns the stored document, or nil when the key does not exist.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return data, nil
}

// Save replaces the document in one MULTI/EXEC transaction. The replaced
// document is kept under PreviousKey.
func (s *Store) Save(ctx context.Context, data []byte) error {
	previous, err := s.Load(ctx)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil {
			pipe.Set(ctx, PreviousKey(s.key), previous, 0)
		}
		pipe.Set(ctx, s.key, data, 0)
		pipe.Set(ctx, UpdatedAtKey(s.key), s.now().Unix(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// UpdatedAt returns the time of the last save, zero if never saved.
func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	ts, err := s.client.Get(ctx, UpdatedAtKey(s.key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get settings timestamp: %w", err)
	}
	return time.Unix(ts, 0), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
