// Package store provides durable persistence for memory records, association
// edges and conversation logs.
package store

import (
	"context"
	"time"

	"github.com/xiy/persona-memory/pkg/types"
)

// MergeOp describes one dedup merge applied by a sweep. Survivor carries the
// already-combined field values; the loser is archived with a back-reference.
type MergeOp struct {
	Survivor types.MemoryRecord
	LoserID  string
}

// Stats summarizes database counters for the CLI and admin dashboard.
type Stats struct {
	Total         int64
	ShortTerm     int64
	LongTerm      int64
	Archived      int64
	PendingExpiry int64
	Edges         int64
	Turns         int64
}

// SweepLog captures one completed consolidation pass.
type SweepLog struct {
	ID         int64
	SweptAt    time.Time
	Report     types.SweepReport
	DurationMS int64
}

// Store represents persistence operations used by the memory service.
//
// List-shaped reads return records without their Associations populated;
// GetRecord resolves edges. Batch mutations commit or roll back as a unit.
type Store interface {
	InsertRecord(ctx context.Context, rec types.MemoryRecord) error
	GetRecord(ctx context.Context, id string) (types.MemoryRecord, error)
	TouchRecords(ctx context.Context, ids []string, now time.Time) error
	Reinforce(ctx context.Context, id string, now time.Time) (types.MemoryRecord, error)

	SearchCandidates(ctx context.Context, terms []string, limit int, now time.Time) ([]types.MemoryRecord, error)
	RecordsByTag(ctx context.Context, tags []string, limit int, now time.Time) ([]types.MemoryRecord, error)
	RecentRecords(ctx context.Context, limit int, now time.Time) ([]types.MemoryRecord, error)
	RecordsByAge(ctx context.Context, newestFirst bool, limit int, now time.Time) ([]types.MemoryRecord, error)
	RecordsInTier(ctx context.Context, tier types.Tier) ([]types.MemoryRecord, error)
	TierCount(ctx context.Context, tier types.Tier) (int64, error)

	PromoteBatch(ctx context.Context, ids []string, now time.Time) error
	ArchiveBatch(ctx context.Context, ids []string) error
	Merge(ctx context.Context, op MergeOp) error

	InsertEdge(ctx context.Context, a, b string, now time.Time) error
	Neighbors(ctx context.Context, id string) ([]string, error)

	CreateSession(ctx context.Context, s types.Session) error
	GetSession(ctx context.Context, id string) (types.Session, error)
	AppendTurn(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, error)
	SessionTurns(ctx context.Context, sessionID string) ([]types.ConversationTurn, error)

	InsertSweepLog(ctx context.Context, rec SweepLog) error
	RecentSweepLogs(ctx context.Context, limit int) ([]SweepLog, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)

	Close() error
}
