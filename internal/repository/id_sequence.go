package repository

import (
	"context"
	"fmt"

	"MergeWatch/pkg/cache"
)

const anomalyIDKey = "anomaly:id"

// CacheIDSequence hands out anomaly ids from a shared counter. Seed must run
// once at startup so the counter never falls below ids already on file.
type CacheIDSequence struct {
	c cache.Service
}

func NewCacheIDSequence(c cache.Service) *CacheIDSequence {
	return &CacheIDSequence{c: c}
}

// Seed raises the counter to maxID.
func (s *CacheIDSequence) Seed(ctx context.Context, maxID int64) error {
	if err := s.c.RaiseTo(ctx, anomalyIDKey, maxID); err != nil {
		return fmt.Errorf("seed anomaly id sequence: %w", err)
	}
	return nil
}

func (s *CacheIDSequence) NextID(ctx context.Context) (int64, error) {
	id, err := s.c.Increment(ctx, anomalyIDKey)
	if err != nil {
		return 0, fmt.Errorf("next anomaly id: %w", err)
	}
	return id, nil
}
