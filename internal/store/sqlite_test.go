package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/persona-memory/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	dbPath := filepath.Join(t.TempDir(), "memories.db")

	st, err := OpenSQLite(ctx, dbPath, logger)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func shortRecord(id, sessionID, content string, now time.Time) types.MemoryRecord {
	deadline := now.Add(time.Hour)
	return types.MemoryRecord{
		ID:             id,
		SessionID:      sessionID,
		Tier:           types.TierShortTerm,
		Kind:           types.KindExperience,
		Content:        content,
		Importance:     0.3,
		Confidence:     0.6,
		CreatedAt:      now,
		LastAccessedAt: now,
		DecayDeadline:  &deadline,
	}
}

func TestSQLiteStore_RoundTripAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	deadline := now.Add(time.Hour)
	short := types.MemoryRecord{
		ID:             "m-short",
		SessionID:      "s1",
		Tier:           types.TierShortTerm,
		Kind:           types.KindExperience,
		Content:        "watched the alpha deployment fail twice",
		Importance:     0.3,
		Confidence:     0.6,
		Tags:           []string{"experience", "deployment"},
		CreatedAt:      now,
		LastAccessedAt: now,
		DecayDeadline:  &deadline,
	}
	if err := st.InsertRecord(ctx, short); err != nil {
		t.Fatalf("InsertRecord(short) error = %v", err)
	}

	promotedAt := now
	long := types.MemoryRecord{
		ID:             "m-long",
		SessionID:      "s1",
		Tier:           types.TierLongTerm,
		Kind:           types.KindFact,
		Content:        "my name is alex",
		Importance:     0.95,
		Confidence:     0.95,
		Tags:           []string{"name", "identity"},
		CreatedAt:      now,
		LastAccessedAt: now,
		PromotedAt:     &promotedAt,
	}
	if err := st.InsertRecord(ctx, long); err != nil {
		t.Fatalf("InsertRecord(long) error = %v", err)
	}

	got, err := st.GetRecord(ctx, "m-short")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Tier != types.TierShortTerm || got.Kind != types.KindExperience {
		t.Fatalf("unexpected tier/kind: %q/%q", got.Tier, got.Kind)
	}
	if got.DecayDeadline == nil || !got.DecayDeadline.Equal(deadline) {
		t.Fatalf("expected decay deadline %v, got %v", deadline, got.DecayDeadline)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "experience" {
		t.Fatalf("unexpected tags %v", got.Tags)
	}

	cands, err := st.SearchCandidates(ctx, []string{"deployment"}, 10, now)
	if err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	if len(cands) != 1 || cands[0].ID != "m-short" {
		t.Fatalf("expected [m-short], got %v", cands)
	}

	// Hyphenated terms must not break the search path.
	hyphen := shortRecord("m-hyphen", "s1", "shared-memory startup verification completed", now)
	if err := st.InsertRecord(ctx, hyphen); err != nil {
		t.Fatalf("InsertRecord(hyphen) error = %v", err)
	}
	hyphenCands, err := st.SearchCandidates(ctx, []string{"shared-memory", "verification"}, 10, now)
	if err != nil {
		t.Fatalf("SearchCandidates(hyphen) error = %v", err)
	}
	if len(hyphenCands) == 0 {
		t.Fatalf("expected hyphen query to return results, got 0")
	}

	tagged, err := st.RecordsByTag(ctx, []string{"identity"}, 10, now)
	if err != nil {
		t.Fatalf("RecordsByTag() error = %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != "m-long" {
		t.Fatalf("expected [m-long], got %v", tagged)
	}

	// Past-deadline records disappear from every read path before any sweep.
	past := now.Add(-time.Minute)
	stale := shortRecord("m-stale", "s1", "stale deployment note", now.Add(-time.Hour))
	stale.DecayDeadline = &past
	if err := st.InsertRecord(ctx, stale); err != nil {
		t.Fatalf("InsertRecord(stale) error = %v", err)
	}
	cands, err = st.SearchCandidates(ctx, []string{"deployment"}, 10, now)
	if err != nil {
		t.Fatalf("SearchCandidates() error = %v", err)
	}
	for _, c := range cands {
		if c.ID == "m-stale" {
			t.Fatal("expected expired record to be filtered from search")
		}
	}
}

func TestSQLiteStore_ReinforceAndTierTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	rec := shortRecord("m1", "s1", "counted seventeen ducks by the pond", now)
	if err := st.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}

	later := now.Add(time.Minute)
	got, err := st.Reinforce(ctx, "m1", later)
	if err != nil {
		t.Fatalf("Reinforce() error = %v", err)
	}
	if got.ReinforcementCount != 1 {
		t.Fatalf("expected reinforcement_count 1, got %d", got.ReinforcementCount)
	}
	if !got.LastAccessedAt.Equal(later) {
		t.Fatalf("expected last_accessed %v, got %v", later, got.LastAccessedAt)
	}

	if _, err := st.Reinforce(ctx, "missing", later); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown id, got %v", err)
	}

	if err := st.PromoteBatch(ctx, []string{"m1"}, later); err != nil {
		t.Fatalf("PromoteBatch() error = %v", err)
	}
	got, err = st.GetRecord(ctx, "m1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Tier != types.TierLongTerm {
		t.Fatalf("expected long_term after promote, got %q", got.Tier)
	}
	if got.DecayDeadline != nil {
		t.Fatalf("expected promotion to clear decay deadline, got %v", got.DecayDeadline)
	}
	if got.PromotedAt == nil || !got.PromotedAt.Equal(later) {
		t.Fatalf("expected promoted_at %v, got %v", later, got.PromotedAt)
	}

	n, err := st.TierCount(ctx, types.TierLongTerm)
	if err != nil {
		t.Fatalf("TierCount() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 long_term record, got %d", n)
	}

	if err := st.ArchiveBatch(ctx, []string{"m1"}); err != nil {
		t.Fatalf("ArchiveBatch() error = %v", err)
	}
	if _, err := st.Reinforce(ctx, "m1", later); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for archived record, got %v", err)
	}
}

func TestSQLiteStore_MergeRepointsEdges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	for _, id := range []string{"m-a", "m-b", "m-c"} {
		if err := st.InsertRecord(ctx, shortRecord(id, "s1", "content for "+id, now)); err != nil {
			t.Fatalf("InsertRecord(%s) error = %v", id, err)
		}
	}
	if err := st.InsertEdge(ctx, "m-b", "m-c", now); err != nil {
		t.Fatalf("InsertEdge() error = %v", err)
	}

	survivor, err := st.GetRecord(ctx, "m-a")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	survivor.Importance = 0.5
	survivor.Tags = []string{"merged", "ducks"}
	survivor.ReinforcementCount = 3

	if err := st.Merge(ctx, MergeOp{Survivor: survivor, LoserID: "m-b"}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	loser, err := st.GetRecord(ctx, "m-b")
	if err != nil {
		t.Fatalf("GetRecord(loser) error = %v", err)
	}
	if loser.Tier != types.TierArchived {
		t.Fatalf("expected loser archived, got %q", loser.Tier)
	}
	if loser.MergedInto != "m-a" {
		t.Fatalf("expected merged_into m-a, got %q", loser.MergedInto)
	}

	got, err := st.GetRecord(ctx, "m-a")
	if err != nil {
		t.Fatalf("GetRecord(survivor) error = %v", err)
	}
	if got.Importance != 0.5 || got.ReinforcementCount != 3 {
		t.Fatalf("survivor fields not updated: %+v", got)
	}
	if len(got.Associations) != 1 || got.Associations[0] != "m-c" {
		t.Fatalf("expected survivor edge to m-c, got %v", got.Associations)
	}

	// The re-pointed edge must stay symmetric.
	neighbors, err := st.Neighbors(ctx, "m-c")
	if err != nil {
		t.Fatalf("Neighbors() error = %v", err)
	}
	if len(neighbors) != 1 || neighbors[0] != "m-a" {
		t.Fatalf("expected m-c neighbors [m-a], got %v", neighbors)
	}
}

func TestSQLiteStore_EdgeSymmetryAndDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	for _, id := range []string{"m-x", "m-y"} {
		if err := st.InsertRecord(ctx, shortRecord(id, "s1", "content "+id, now)); err != nil {
			t.Fatalf("InsertRecord(%s) error = %v", id, err)
		}
	}

	// Inserting in either direction lands on the same canonical row.
	if err := st.InsertEdge(ctx, "m-y", "m-x", now); err != nil {
		t.Fatalf("InsertEdge() error = %v", err)
	}
	if err := st.InsertEdge(ctx, "m-x", "m-y", now); err != nil {
		t.Fatalf("InsertEdge(reverse) error = %v", err)
	}

	nx, err := st.Neighbors(ctx, "m-x")
	if err != nil {
		t.Fatalf("Neighbors(m-x) error = %v", err)
	}
	ny, err := st.Neighbors(ctx, "m-y")
	if err != nil {
		t.Fatalf("Neighbors(m-y) error = %v", err)
	}
	if len(nx) != 1 || nx[0] != "m-y" || len(ny) != 1 || ny[0] != "m-x" {
		t.Fatalf("expected symmetric single edge, got %v / %v", nx, ny)
	}
}

func TestSQLiteStore_SessionsAndTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown session, got %v", err)
	}

	sess := types.Session{ID: "s1", StartedAt: now}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	texts := []string{"hello", "hello back", "how are you"}
	for i, text := range texts {
		turn, err := st.AppendTurn(ctx, types.ConversationTurn{
			SessionID:  "s1",
			Timestamp:  now.Add(time.Duration(i) * time.Second),
			Speaker:    "user",
			Text:       text,
			MemoryRefs: []string{"m1"},
		})
		if err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", i, err)
		}
		if turn.TurnIndex != i {
			t.Fatalf("expected turn index %d, got %d", i, turn.TurnIndex)
		}
	}

	turns, err := st.SessionTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionTurns() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.TurnIndex != i || turn.Text != texts[i] {
			t.Fatalf("turn %d out of order: %+v", i, turn)
		}
	}
}

func TestSQLiteStore_SweepLogAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	if err := st.InsertRecord(ctx, shortRecord("m1", "s1", "sketched the old bridge", now)); err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}

	entry := SweepLog{
		SweptAt:    now,
		Report:     types.SweepReport{Promoted: 2, Expired: 1},
		DurationMS: 7,
	}
	if err := st.InsertSweepLog(ctx, entry); err != nil {
		t.Fatalf("InsertSweepLog() error = %v", err)
	}

	logs, err := st.RecentSweepLogs(ctx, 5)
	if err != nil {
		t.Fatalf("RecentSweepLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Report.Promoted != 2 || logs[0].Report.Expired != 1 {
		t.Fatalf("unexpected sweep logs %v", logs)
	}

	stats, err := st.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 1 || stats.ShortTerm != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
