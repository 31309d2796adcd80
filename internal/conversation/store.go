package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eleven-am/vision-chat/internal/shared"
	"github.com/redis/go-redis/v9"
)

const DefaultSnapshotTTL = 24 * time.Hour

func snapshotKey(id string) string {
	return "conversation:" + id
}

// Store keeps the latest snapshot of each conversation in redis so that
// transcripts outlive a restart.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, snapshotKey(snap.ID), data, s.ttl).Err()
}

func (s *Store) Load(ctx context.Context, id string) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(id)).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, snapshotKey(id)).Err()
}
