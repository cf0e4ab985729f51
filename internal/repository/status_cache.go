package repository

import (
	"context"
	"errors"
	"time"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/pkg/cache"
)

// CacheStatusStore keeps the last ReconcileStatus of each series in the cache.
type CacheStatusStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheStatusStore(c cache.Service, ttl time.Duration) *CacheStatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheStatusStore{c: c, ttl: ttl}
}

func statusKey(alertID, enumerationItemID int64) string {
	return cache.Key("status", alertID, enumerationItemID)
}

func (s *CacheStatusStore) Put(ctx context.Context, status models.ReconcileStatus) error {
	return s.c.Set(ctx, statusKey(status.AlertID, status.EnumerationItemID), status, s.ttl)
}

func (s *CacheStatusStore) Get(ctx context.Context, alertID, enumerationItemID int64) (models.ReconcileStatus, error) {
	var status models.ReconcileStatus
	err := s.c.Get(ctx, statusKey(alertID, enumerationItemID), &status)
	if errors.Is(err, cache.ErrCacheMiss) {
		return status, domrepo.ErrStatusNotFound
	}
	return status, err
}
