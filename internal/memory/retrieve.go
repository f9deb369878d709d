package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xiy/persona-memory/internal/scorer"
	"github.com/xiy/persona-memory/pkg/types"
)

// temporalCues route queries about conversational chronology to a
// chronological scan instead of ranked retrieval.
var temporalCues = []struct {
	cue         string
	newestFirst bool
}{
	{"earliest", false},
	{"first time", false},
	{"oldest", false},
	{"beginning", false},
	{"when did", true},
	{"last time", true},
	{"last thing", true},
	{"most recent", true},
	{"just talked", true},
	{"we discussed", true},
	{"previously", true},
}

// Retrieve ranks candidate records against the query. It is read-only apart
// from touching last_accessed on the returned records. Candidate generation
// unions keyword match, tag overlap, one-hop association expansion and a
// recency fallback, so results are never empty while any live memory exists.
func (s *Service) Retrieve(ctx context.Context, in types.RetrieveInput) ([]types.ScoredRecord, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultRetrieveLimit
	}
	if limit > 100 {
		limit = 100
	}
	now := s.now()
	query := strings.ToLower(strings.TrimSpace(in.Query))

	if newestFirst, ok := temporalCue(query); ok {
		return s.retrieveChronological(ctx, newestFirst, limit, now)
	}

	terms := scorer.Keywords(in.Query, 8)

	candidates := make(map[string]types.MemoryRecord)
	addAll := func(recs []types.MemoryRecord) {
		for _, r := range recs {
			if _, ok := candidates[r.ID]; !ok {
				candidates[r.ID] = r
			}
		}
	}

	matched, err := s.store.SearchCandidates(ctx, terms, limit*3, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	addAll(matched)

	tagged, err := s.store.RecordsByTag(ctx, terms, limit*3, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	addAll(tagged)

	// One-hop association expansion from every direct hit. Depth is capped at
	// one regardless of graph density.
	hitIDs := make([]string, 0, len(candidates))
	for id := range candidates {
		hitIDs = append(hitIDs, id)
	}
	sort.Strings(hitIDs)
	for _, id := range hitIDs {
		neighbors, err := s.index.Neighbors(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		for _, nid := range neighbors {
			if _, ok := candidates[nid]; ok {
				continue
			}
			rec, err := s.store.GetRecord(ctx, nid)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			if !live(rec, now) {
				continue
			}
			candidates[nid] = rec
		}
	}

	// Recency fallback pads under-produced results up to the limit.
	if len(candidates) < limit {
		recent, err := s.store.RecentRecords(ctx, limit, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		addAll(recent)
	}

	scored := make([]types.ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		match := matchScore(query, terms, rec)
		recency := s.recencyDecay(now.Sub(rec.LastAccessedAt))
		scored = append(scored, types.ScoredRecord{
			Record:     rec,
			MatchScore: match,
			Recency:    recency,
			Score: s.cfg.MatchWeight*match +
				s.cfg.ImportanceWeight*rec.Importance +
				s.cfg.RecencyWeight*recency,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Importance != b.Record.Importance {
			return a.Record.Importance > b.Record.Importance
		}
		if !a.Record.LastAccessedAt.Equal(b.Record.LastAccessedAt) {
			return a.Record.LastAccessedAt.After(b.Record.LastAccessedAt)
		}
		return a.Record.ID < b.Record.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	ids := make([]string, 0, len(scored))
	for _, sr := range scored {
		ids = append(ids, sr.Record.ID)
	}
	if err := s.store.TouchRecords(ctx, ids, now); err != nil {
		s.logger.Warn("touch after retrieval failed", "error", err)
	}
	return scored, nil
}

func (s *Service) retrieveChronological(ctx context.Context, newestFirst bool, limit int, now time.Time) ([]types.ScoredRecord, error) {
	recs, err := s.store.RecordsByAge(ctx, newestFirst, limit, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	scored := make([]types.ScoredRecord, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		recency := s.recencyDecay(now.Sub(rec.LastAccessedAt))
		scored = append(scored, types.ScoredRecord{
			Record:  rec,
			Recency: recency,
			Score:   s.cfg.ImportanceWeight*rec.Importance + s.cfg.RecencyWeight*recency,
		})
		ids = append(ids, rec.ID)
	}
	if err := s.store.TouchRecords(ctx, ids, now); err != nil {
		s.logger.Warn("touch after retrieval failed", "error", err)
	}
	return scored, nil
}

func temporalCue(query string) (newestFirst, ok bool) {
	for _, tc := range temporalCues {
		if strings.Contains(query, tc.cue) {
			return tc.newestFirst, true
		}
	}
	return false, false
}

// matchScore measures lexical affinity between query and record: a full
// substring hit scores 1, otherwise the fraction of query terms found in the
// content or tags.
func matchScore(query string, terms []string, rec types.MemoryRecord) float64 {
	content := strings.ToLower(rec.Content)
	if query != "" && strings.Contains(content, query) {
		return 1
	}
	if len(terms) == 0 {
		return 0
	}
	tagSet := make(map[string]struct{}, len(rec.Tags))
	for _, t := range rec.Tags {
		tagSet[strings.ToLower(t)] = struct{}{}
	}
	hits := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			hits++
			continue
		}
		if _, ok := tagSet[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// recencyDecay is an exponential half-life over elapsed time since the record
// was last touched.
func (s *Service) recencyDecay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	half := s.cfg.RecencyHalfLife()
	return math.Exp(-math.Ln2 * elapsed.Hours() / half.Hours())
}

func live(rec types.MemoryRecord, now time.Time) bool {
	if rec.Tier == types.TierArchived {
		return false
	}
	if rec.DecayDeadline != nil && now.After(*rec.DecayDeadline) {
		return false
	}
	return true
}
