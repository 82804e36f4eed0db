package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlatStore is the legacy single-blob storage: one JSON payload holding the
// full Product+Sale+Setting triple under one key, plus the sentinel date
// markers owned by the external migration trigger. The degraded fallback mode
// round-trips the same blob.
type FlatStore interface {
	Load(ctx context.Context) (SystemData, bool, error)
	Save(ctx context.Context, data SystemData) error
	// Delete removes the blob. Only the external "final migration" step
	// calls this; the migration coordinator never does.
	Delete(ctx context.Context) error
	Marker(ctx context.Context, name string) (time.Time, bool, error)
	SetMarker(ctx context.Context, name string, at time.Time) error
}

// Flat-storage marker names.
const (
	MarkerMigrated          = "migrated"
	MarkerMigrationComplete = "migration_complete"
)

const (
	flatDataKey      = "meridian:flat:data"
	flatMarkerPrefix = "meridian:flat:marker:"
)

type redisFlatStore struct {
	client *redis.Client
}

// NewFlatStore binds flat storage to Redis.
func NewFlatStore(client *redis.Client) FlatStore {
	return &redisFlatStore{client: client}
}

func (f *redisFlatStore) Load(ctx context.Context) (SystemData, bool, error) {
	payload, err := f.client.Get(ctx, flatDataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return SystemData{}, false, nil
	}
	if err != nil {
		return SystemData{}, false, fmt.Errorf("store: load flat blob: %w", err)
	}
	var data SystemData
	if err := json.Unmarshal(payload, &data); err != nil {
		return SystemData{}, false, fmt.Errorf("store: decode flat blob: %w", err)
	}
	return data, true, nil
}

func (f *redisFlatStore) Save(ctx context.Context, data SystemData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("store: encode flat blob: %w", err)
	}
	if err := f.client.Set(ctx, flatDataKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("store: save flat blob: %w", err)
	}
	return nil
}

func (f *redisFlatStore) Delete(ctx context.Context) error {
	if err := f.client.Del(ctx, flatDataKey).Err(); err != nil {
		return fmt.Errorf("store: delete flat blob: %w", err)
	}
	return nil
}

func (f *redisFlatStore) Marker(ctx context.Context, name string) (time.Time, bool, error) {
	raw, err := f.client.Get(ctx, flatMarkerPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: load marker %s: %w", name, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse marker %s: %w", name, err)
	}
	return at, true, nil
}

func (f *redisFlatStore) SetMarker(ctx context.Context, name string, at time.Time) error {
	if err := f.client.Set(ctx, flatMarkerPrefix+name, at.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("store: set marker %s: %w", name, err)
	}
	return nil
}
