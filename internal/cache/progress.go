package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// ProgressCache keeps the latest snapshot seen for each job so other readers
// can show it without hitting the backend. Completed jobs expire quickly.
type ProgressCache struct {
	cache        Cache
	ttl          time.Duration
	completedTTL time.Duration
}

// NewProgressCache wraps c. completedTTL applies once a snapshot reports completion.
func NewProgressCache(c Cache, ttl, completedTTL time.Duration) *ProgressCache {
	return &ProgressCache{cache: c, ttl: ttl, completedTTL: completedTTL}
}

type cachedProgress struct {
	Snapshot *models.ProgressSnapshot `json:"snapshot"`
	StoredAt time.Time                `json:"stored_at"`
}

// Put stores snap as the latest snapshot for jobID.
func (p *ProgressCache) Put(ctx context.Context, jobID string, snap *models.ProgressSnapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(cachedProgress{Snapshot: snap, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	ttl := p.ttl
	if snap.Completed {
		ttl = p.completedTTL
	}
	return p.cache.Set(ctx, ProgressKey(jobID), data, ttl)
}

// Latest returns the cached snapshot for jobID and when it was stored.
func (p *ProgressCache) Latest(ctx context.Context, jobID string) (*models.ProgressSnapshot, time.Time, bool, error) {
	data, found, err := p.cache.Get(ctx, ProgressKey(jobID))
	if err != nil || !found {
		return nil, time.Time{}, false, err
	}
	var cp cachedProgress
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode progress: %w", err)
	}
	return cp.Snapshot, cp.StoredAt, cp.Snapshot != nil, nil
}

// Forget drops the cached snapshot for jobID.
func (p *ProgressCache) Forget(ctx context.Context, jobID string) error {
	return p.cache.Delete(ctx, ProgressKey(jobID))
}
