// Package memory coordinates the tiered memory pipeline: ingestion scoring,
// tier placement, association linking, ranked retrieval and consolidation
// sweeps.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/xiy/persona-memory/internal/assoc"
	"github.com/xiy/persona-memory/internal/config"
	"github.com/xiy/persona-memory/internal/scorer"
	"github.com/xiy/persona-memory/internal/store"
	"github.com/xiy/persona-memory/pkg/types"
)

// Service owns the single logical writer pipeline over one store instance.
// Ingest, Reinforce and Sweep serialize against each other; Retrieve reads
// concurrently and only ever observes fully committed record batches.
type Service struct {
	store  store.Store
	cfg    config.Config
	logger *log.Logger
	scorer *scorer.Scorer
	index  *assoc.Index

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	nowFn   func() time.Time
}

// NewService constructs the memory service.
func NewService(st store.Store, cfg config.Config, logger *log.Logger) *Service {
	return &Service{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		scorer:  scorer.New(),
		index:   assoc.New(st, cfg.LinkJaccard, cfg.MaxAssociations),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock injects a clock; sweeps additionally take an explicit now so the
// core stays deterministic under test.
func (s *Service) SetClock(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

func (s *Service) newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// OpenSession creates a new conversation session.
func (s *Service) OpenSession(ctx context.Context) (types.Session, error) {
	sess := types.Session{ID: uuid.NewString(), StartedAt: s.now()}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return types.Session{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sess, nil
}

// Ingest scores one interaction, places the resulting record in its tier,
// links associations and appends the interaction to the session log. Records
// meeting the promotion threshold enter long_term immediately.
func (s *Service) Ingest(ctx context.Context, in types.IngestInput) (types.MemoryRecord, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return types.MemoryRecord{}, fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	if len(text) > s.cfg.MaxContentLength {
		return types.MemoryRecord{}, fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidInput, s.cfg.MaxContentLength)
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return types.MemoryRecord{}, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Explicit references must resolve to live records before anything is
	// persisted; a bad reference rejects the whole ingestion.
	refs := make([]types.MemoryRecord, 0, len(in.References))
	for _, id := range in.References {
		ref, err := s.store.GetRecord(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.MemoryRecord{}, fmt.Errorf("%w: reference %s", ErrNotFound, id)
			}
			return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if ref.Tier == types.TierArchived {
			return types.MemoryRecord{}, fmt.Errorf("%w: reference %s is archived", ErrNotFound, id)
		}
		refs = append(refs, ref)
	}

	if err := s.ensureSession(ctx, in.SessionID, now); err != nil {
		return types.MemoryRecord{}, err
	}

	res := s.scorer.Score(text, scorer.Context{Speaker: in.Speaker})

	rec := types.MemoryRecord{
		ID:             s.newID(now),
		SessionID:      in.SessionID,
		Kind:           res.Kind,
		Content:        text,
		Importance:     res.Importance,
		Confidence:     res.Confidence,
		Tags:           res.Tags,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if res.Importance >= s.cfg.PromoteImportance && s.allowPromotion(ctx, now) {
		rec.Tier = types.TierLongTerm
		promotedAt := now
		rec.PromotedAt = &promotedAt
	} else {
		rec.Tier = types.TierShortTerm
		deadline := now.Add(s.cfg.DecayTTL())
		rec.DecayDeadline = &deadline
	}

	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	for _, ref := range refs {
		if err := s.index.Link(ctx, rec.ID, ref.ID, now); err != nil {
			return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	linked, err := s.index.LinkByTags(ctx, rec, now)
	if err != nil {
		return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	speaker := in.Speaker
	if speaker == "" {
		speaker = "user"
	}
	turn := types.ConversationTurn{
		SessionID:  in.SessionID,
		Timestamp:  now,
		Speaker:    speaker,
		Text:       text,
		MemoryRefs: []string{rec.ID},
	}
	if _, err := s.store.AppendTurn(ctx, turn); err != nil {
		return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info("ingested memory",
		"id", rec.ID, "kind", rec.Kind, "tier", rec.Tier,
		"importance", rec.Importance, "rule", res.Rule, "linked", len(linked)+len(refs))

	rec.Associations = append(referenceIDs(refs), linked...)
	return rec, nil
}

// allowPromotion reports whether an ingestion-time promotion may enter the
// long-term partition. At capacity with every resident inside the eviction
// grace window, ingestion degrades to short_term and defers to the next sweep.
func (s *Service) allowPromotion(ctx context.Context, now time.Time) bool {
	count, err := s.store.TierCount(ctx, types.TierLongTerm)
	if err != nil {
		s.logger.Warn("long-term count failed; placing in short_term", "error", err)
		return false
	}
	if count < int64(s.cfg.LongTermCapacity) {
		return true
	}
	residents, err := s.store.RecordsInTier(ctx, types.TierLongTerm)
	if err != nil {
		s.logger.Warn("long-term scan failed; placing in short_term", "error", err)
		return false
	}
	grace := s.cfg.EvictionGrace()
	for _, r := range residents {
		if r.PromotedAt == nil || now.Sub(*r.PromotedAt) > grace {
			// An eviction candidate exists; the next sweep restores the cap.
			return true
		}
	}
	s.logger.Warn("long-term at capacity with no eviction candidate; degrading to short_term")
	return false
}

func (s *Service) ensureSession(ctx context.Context, id string, now time.Time) error {
	_, err := s.store.GetSession(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.store.CreateSession(ctx, types.Session{ID: id, StartedAt: now}); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Reinforce increments the reinforcement counter and touches last_accessed.
// Promotion by reinforcement is discovered during the next sweep, not here.
func (s *Service) Reinforce(ctx context.Context, id string) (types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Reinforce(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MemoryRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

// GetRecord returns one record with its association ids resolved.
func (s *Service) GetRecord(ctx context.Context, id string) (types.MemoryRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MemoryRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return types.MemoryRecord{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

// LogTurn appends a turn to the session log without creating a memory record.
// Collaborators use it to record assistant output alongside consulted ids.
func (s *Service) LogTurn(ctx context.Context, sessionID, speaker, text string, memoryRefs []string) (types.ConversationTurn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return types.ConversationTurn{}, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	now := s.now()
	if err := s.ensureSession(ctx, sessionID, now); err != nil {
		return types.ConversationTurn{}, err
	}
	turn, err := s.store.AppendTurn(ctx, types.ConversationTurn{
		SessionID:  sessionID,
		Timestamp:  now,
		Speaker:    speaker,
		Text:       text,
		MemoryRefs: memoryRefs,
	})
	if err != nil {
		return types.ConversationTurn{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return turn, nil
}

// GetSessionLog returns the append-only turn sequence, oldest first.
func (s *Service) GetSessionLog(ctx context.Context, sessionID string) ([]types.ConversationTurn, error) {
	turns, err := s.store.SessionTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return turns, nil
}

// Stats exposes store counters for the CLI and admin dashboard.
func (s *Service) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx, s.now())
}

func referenceIDs(refs []types.MemoryRecord) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}
