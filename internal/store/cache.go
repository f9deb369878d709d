package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/xiy/persona-memory/pkg/types"
)

// CachedStore layers a ristretto read cache over GetRecord. Every mutation
// drops the affected ids so readers never observe a stale tier transition.
type CachedStore struct {
	Store
	cache *ristretto.Cache
}

// NewCachedStore wraps inner with a record cache holding up to maxRecords
// entries.
func NewCachedStore(inner Store, maxRecords int64) (*CachedStore, error) {
	if maxRecords <= 0 {
		maxRecords = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxRecords * 10,
		MaxCost:     maxRecords,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init record cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: cache}, nil
}

func (c *CachedStore) GetRecord(ctx context.Context, id string) (types.MemoryRecord, error) {
	if v, ok := c.cache.Get(id); ok {
		if rec, ok := v.(types.MemoryRecord); ok {
			return rec, nil
		}
	}
	rec, err := c.Store.GetRecord(ctx, id)
	if err != nil {
		return rec, err
	}
	// Wait flushes the admission buffer so a Del issued after this call
	// cannot lose the race against an async Set.
	c.cache.Set(id, rec, 1)
	c.cache.Wait()
	return rec, nil
}

func (c *CachedStore) InsertRecord(ctx context.Context, rec types.MemoryRecord) error {
	err := c.Store.InsertRecord(ctx, rec)
	c.cache.Del(rec.ID)
	return err
}

func (c *CachedStore) TouchRecords(ctx context.Context, ids []string, now time.Time) error {
	err := c.Store.TouchRecords(ctx, ids, now)
	c.drop(ids)
	return err
}

func (c *CachedStore) Reinforce(ctx context.Context, id string, now time.Time) (types.MemoryRecord, error) {
	rec, err := c.Store.Reinforce(ctx, id, now)
	c.cache.Del(id)
	return rec, err
}

func (c *CachedStore) PromoteBatch(ctx context.Context, ids []string, now time.Time) error {
	err := c.Store.PromoteBatch(ctx, ids, now)
	c.drop(ids)
	return err
}

func (c *CachedStore) ArchiveBatch(ctx context.Context, ids []string) error {
	err := c.Store.ArchiveBatch(ctx, ids)
	c.drop(ids)
	return err
}

func (c *CachedStore) Merge(ctx context.Context, op MergeOp) error {
	// The merge re-points the loser's edges, so its neighbors' cached
	// association lists go stale along with the two principals.
	neighbors, err := c.Store.Neighbors(ctx, op.LoserID)
	if err != nil {
		return err
	}
	if err := c.Store.Merge(ctx, op); err != nil {
		return err
	}
	c.cache.Del(op.Survivor.ID)
	c.cache.Del(op.LoserID)
	c.drop(neighbors)
	return nil
}

func (c *CachedStore) InsertEdge(ctx context.Context, a, b string, now time.Time) error {
	err := c.Store.InsertEdge(ctx, a, b, now)
	// GetRecord embeds neighbor ids, so both endpoints go stale.
	c.cache.Del(a)
	c.cache.Del(b)
	return err
}

func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Store.Close()
}

func (c *CachedStore) drop(ids []string) {
	for _, id := range ids {
		c.cache.Del(id)
	}
}
