package badges

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKey    = "wms:badges:snapshot"
	updatesChannel = "wms.badges"
)

// ErrNoSnapshot indicates nothing was computed yet.
var ErrNoSnapshot = errors.New("badges: no snapshot stored")

// Store keeps the latest snapshot in redis and fans updates out over pub/sub.
type Store struct {
	client *redis.Client
}

// NewStore constructs Store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Save stores the snapshot and publishes it to subscribers.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, updatesChannel, raw).Err()
}

// Load returns the stored snapshot.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	raw, err := s.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Subscribe listens for published snapshots. Callers must close the returned PubSub.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, updatesChannel)
}
