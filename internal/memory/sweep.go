package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xiy/persona-memory/internal/store"
	"github.com/xiy/persona-memory/pkg/types"
)

// Sweep runs one consolidation pass at the injected instant: promotions and
// expirations over the short_term partition, a same-session dedup merge pass,
// then capacity eviction from long_term. Each record batch commits or rolls
// back as a unit, so cancellation mid-pass leaves the last fully committed
// batch state.
func (s *Service) Sweep(ctx context.Context, now time.Time) (types.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	now = now.UTC()
	var report types.SweepReport

	shortTerm, err := s.store.RecordsInTier(ctx, types.TierShortTerm)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var promote, expire []string
	for _, rec := range shortTerm {
		if rec.Importance >= s.cfg.PromoteImportance || rec.ReinforcementCount >= s.cfg.PromoteReinforcement {
			promote = append(promote, rec.ID)
			continue
		}
		if rec.DecayDeadline != nil && now.After(*rec.DecayDeadline) {
			expire = append(expire, rec.ID)
		}
	}

	if err := s.store.PromoteBatch(ctx, promote, now); err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	report.Promoted = len(promote)

	if err := s.store.ArchiveBatch(ctx, expire); err != nil {
		return report, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	report.Expired = len(expire)

	merged, promotedAfterMerge, err := s.dedupPass(ctx, now)
	if err != nil {
		return report, err
	}
	report.Merged = merged
	report.Promoted += promotedAfterMerge

	evicted, err := s.evictPass(ctx, now)
	if err != nil {
		return report, err
	}
	report.Archived = evicted

	if err := s.store.InsertSweepLog(ctx, store.SweepLog{
		SweptAt:    now,
		Report:     report,
		DurationMS: time.Since(started).Milliseconds(),
	}); err != nil {
		s.logger.Warn("sweep log insert failed", "error", err)
	}

	if !report.Empty() {
		s.logger.Info("sweep complete",
			"promoted", report.Promoted, "expired", report.Expired,
			"merged", report.Merged, "archived", report.Archived)
	}
	return report, nil
}

// dedupPass merges near-duplicate records ingested within the same session.
// The earlier record survives with the higher importance and confidence, the
// union of tags and associations, the summed reinforcement count and the
// earlier created_at; the loser is archived with a back-reference.
func (s *Service) dedupPass(ctx context.Context, now time.Time) (merged, promoted int, err error) {
	shortTerm, err := s.store.RecordsInTier(ctx, types.TierShortTerm)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	longTerm, err := s.store.RecordsInTier(ctx, types.TierLongTerm)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	bySession := make(map[string][]types.MemoryRecord)
	for _, rec := range append(shortTerm, longTerm...) {
		bySession[rec.SessionID] = append(bySession[rec.SessionID], rec)
	}
	sessionIDs := make([]string, 0, len(bySession))
	for id := range bySession {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	var promoteIDs []string
	for _, sid := range sessionIDs {
		group := bySession[sid]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		consumed := make(map[string]bool, len(group))
		for i := 0; i < len(group); i++ {
			if consumed[group[i].ID] {
				continue
			}
			survivor := group[i]
			for j := i + 1; j < len(group); j++ {
				loser := group[j]
				if consumed[loser.ID] {
					continue
				}
				if contentSimilarity(survivor.Content, loser.Content) < s.cfg.MergeSimilarity {
					continue
				}

				survivor.Importance = maxFloat(survivor.Importance, loser.Importance)
				survivor.Confidence = maxFloat(survivor.Confidence, loser.Confidence)
				survivor.Tags = unionTags(survivor.Tags, loser.Tags)
				survivor.ReinforcementCount += loser.ReinforcementCount
				if loser.CreatedAt.Before(survivor.CreatedAt) {
					survivor.CreatedAt = loser.CreatedAt
				}

				if err := s.store.Merge(ctx, store.MergeOp{Survivor: survivor, LoserID: loser.ID}); err != nil {
					return merged, promoted, fmt.Errorf("%w: %v", ErrPersistence, err)
				}
				consumed[loser.ID] = true
				merged++
			}

			// A merge can lift a short_term survivor over the promotion bar;
			// promoting here keeps a follow-up sweep a no-op.
			if survivor.Tier == types.TierShortTerm &&
				(survivor.Importance >= s.cfg.PromoteImportance ||
					survivor.ReinforcementCount >= s.cfg.PromoteReinforcement) {
				promoteIDs = append(promoteIDs, survivor.ID)
			}
		}
	}

	if err := s.store.PromoteBatch(ctx, promoteIDs, now); err != nil {
		return merged, promoted, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return merged, len(promoteIDs), nil
}

// evictPass archives the lowest composite-score long_term records until the
// partition is back under capacity. Records promoted within the grace window
// are never victims.
func (s *Service) evictPass(ctx context.Context, now time.Time) (int, error) {
	longTerm, err := s.store.RecordsInTier(ctx, types.TierLongTerm)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	over := len(longTerm) - s.cfg.LongTermCapacity
	if over <= 0 {
		return 0, nil
	}

	grace := s.cfg.EvictionGrace()
	candidates := make([]types.MemoryRecord, 0, len(longTerm))
	for _, rec := range longTerm {
		if rec.PromotedAt != nil && now.Sub(*rec.PromotedAt) <= grace {
			continue
		}
		candidates = append(candidates, rec)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		as := s.cfg.ImportanceWeight*a.Importance + s.cfg.RecencyWeight*s.recencyDecay(now.Sub(a.LastAccessedAt))
		bs := s.cfg.ImportanceWeight*b.Importance + s.cfg.RecencyWeight*s.recencyDecay(now.Sub(b.LastAccessedAt))
		if as != bs {
			return as < bs
		}
		return a.ID < b.ID
	})

	if over > len(candidates) {
		over = len(candidates)
	}
	victims := make([]string, 0, over)
	for _, rec := range candidates[:over] {
		victims = append(victims, rec.ID)
	}
	if err := s.store.ArchiveBatch(ctx, victims); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return len(victims), nil
}

// contentSimilarity is token-set Jaccard over normalized words.
func contentSimilarity(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if w == "" {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range b {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
