package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/persona-memory/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// RetryPolicy bounds persistence retries for transient write failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy returns the standard bounded-backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

// SQLiteStore is a SQLite-backed memory store.
type SQLiteStore struct {
	db         *sql.DB
	logger     *log.Logger
	retry      RetryPolicy
	ftsEnabled bool
}

// OpenSQLite opens and initializes the SQLite store.
func OpenSQLite(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger, retry: DefaultRetryPolicy()}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetRetryPolicy overrides the bounded retry policy for writes.
func (s *SQLiteStore) SetRetryPolicy(p RetryPolicy) {
	if p.Attempts > 0 && p.Backoff > 0 {
		s.retry = p
	}
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(strings.ToLower(stmt), "virtual table") {
				s.logger.Warn("FTS5 disabled; falling back to LIKE queries", "error", err)
				s.ftsEnabled = false
				continue
			}
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}

	s.ftsEnabled = s.hasFTSTable(ctx)
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

func (s *SQLiteStore) hasFTSTable(ctx context.Context) bool {
	const q = `SELECT count(*) FROM sqlite_master WHERE type='table' AND name='memories_fts'`
	var n int
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// withRetry runs a write with bounded exponential backoff. Context
// cancellation stops retrying immediately.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.retry.Backoff
	var err error
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if attempt == s.retry.Attempts {
			break
		}
		s.logger.Warn("retrying persistence op", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", op, s.retry.Attempts, err)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, rec types.MemoryRecord) error {
	tagsJSON, err := json.Marshal(tagsOrEmpty(rec.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	return s.withRetry(ctx, "insert record", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			const q = `INSERT INTO memories (
				id, session_id, tier, kind, content, importance, confidence, tags_json,
				reinforcement_count, created_at, last_accessed_at, decay_deadline, promoted_at, merged_into
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
			_, err := tx.ExecContext(ctx, q,
				rec.ID,
				rec.SessionID,
				string(rec.Tier),
				string(rec.Kind),
				rec.Content,
				rec.Importance,
				rec.Confidence,
				string(tagsJSON),
				rec.ReinforcementCount,
				formatTime(rec.CreatedAt),
				formatTime(rec.LastAccessedAt),
				formatTimePtr(rec.DecayDeadline),
				formatTimePtr(rec.PromotedAt),
				rec.MergedInto,
			)
			if err != nil {
				return fmt.Errorf("insert memory: %w", err)
			}
			if s.ftsEnabled {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO memories_fts(id, content, tags) VALUES (?, ?, ?)`,
					rec.ID, rec.Content, strings.Join(rec.Tags, " "),
				); err != nil {
					s.logger.Warn("fts insert failed; continuing", "error", err)
				}
			}
			return nil
		})
	})
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (types.MemoryRecord, error) {
	const q = selectRecordColumns + ` FROM memories WHERE id = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("get record: %w", err)
	}
	rec.Associations, err = s.Neighbors(ctx, id)
	if err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *SQLiteStore) TouchRecords(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withRetry(ctx, "touch records", func() error {
		q := `UPDATE memories SET last_accessed_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
		args := make([]any, 0, len(ids)+1)
		args = append(args, formatTime(now))
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("touch records: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Reinforce(ctx context.Context, id string, now time.Time) (types.MemoryRecord, error) {
	err := s.withRetry(ctx, "reinforce record", func() error {
		const q = `UPDATE memories
SET reinforcement_count = reinforcement_count + 1, last_accessed_at = ?
WHERE id = ? AND tier != 'archived'`
		res, err := s.db.ExecContext(ctx, q, formatTime(now), id)
		if err != nil {
			return fmt.Errorf("reinforce record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reinforce rows affected: %w", err)
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return types.MemoryRecord{}, err
	}
	return s.GetRecord(ctx, id)
}

// activeFilter excludes archived records and short-term records already past
// their decay deadline but not yet swept.
const activeFilter = `tier != 'archived' AND (decay_deadline IS NULL OR decay_deadline > ?)`

func (s *SQLiteStore) SearchCandidates(ctx context.Context, terms []string, limit int, now time.Time) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(terms) == 0 {
		return nil, nil
	}

	if s.ftsEnabled {
		rows, err := s.searchFTS(ctx, terms, limit, now)
		if err == nil {
			return rows, nil
		}
		s.logger.Warn("fts query failed; fallback to LIKE", "error", err)
	}
	return s.searchLIKE(ctx, terms, limit, now)
}

func (s *SQLiteStore) searchFTS(ctx context.Context, terms []string, limit int, now time.Time) ([]types.MemoryRecord, error) {
	match := buildFTSMatchQuery(terms)
	q := selectRecordColumnsPrefixed("m") + `
FROM memories_fts
JOIN memories m ON m.id = memories_fts.id
WHERE memories_fts MATCH ?
  AND m.tier != 'archived'
  AND (m.decay_deadline IS NULL OR m.decay_deadline > ?)
ORDER BY m.id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, match, formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) searchLIKE(ctx context.Context, terms []string, limit int, now time.Time) ([]types.MemoryRecord, error) {
	clauses := make([]string, 0, len(terms))
	args := []any{formatTime(now)}
	for _, term := range terms {
		clauses = append(clauses, "(content LIKE ? OR tags_json LIKE ?)")
		needle := "%" + term + "%"
		args = append(args, needle, needle)
	}
	q := selectRecordColumns + `
FROM memories
WHERE ` + activeFilter + `
  AND (` + strings.Join(clauses, " OR ") + `)
ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search like: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func buildFTSMatchQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped := strings.ReplaceAll(term, `"`, `""`)
		parts = append(parts, `"`+escaped+`"`)
	}
	return strings.Join(parts, " OR ")
}

func (s *SQLiteStore) RecordsByTag(ctx context.Context, tags []string, limit int, now time.Time) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(tags) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(tags))
	args := []any{formatTime(now)}
	for _, tag := range tags {
		clauses = append(clauses, "tags_json LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}
	q := selectRecordColumns + `
FROM memories
WHERE ` + activeFilter + `
  AND (` + strings.Join(clauses, " OR ") + `)
ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("records by tag: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) RecentRecords(ctx context.Context, limit int, now time.Time) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	q := selectRecordColumns + `
FROM memories
WHERE ` + activeFilter + `
ORDER BY last_accessed_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("recent records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) RecordsByAge(ctx context.Context, newestFirst bool, limit int, now time.Time) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	q := selectRecordColumns + `
FROM memories
WHERE ` + activeFilter + `
ORDER BY created_at ` + order + `, id ` + order + ` LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("records by age: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) RecordsInTier(ctx context.Context, tier types.Tier) ([]types.MemoryRecord, error) {
	q := selectRecordColumns + ` FROM memories WHERE tier = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, string(tier))
	if err != nil {
		return nil, fmt.Errorf("records in tier: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) TierCount(ctx context.Context, tier types.Tier) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories WHERE tier = ?`, string(tier)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tier count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) PromoteBatch(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withRetry(ctx, "promote batch", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			q := `UPDATE memories
SET tier = 'long_term', decay_deadline = NULL, promoted_at = ?
WHERE tier = 'short_term' AND id IN (` + placeholders(len(ids)) + `)`
			args := make([]any, 0, len(ids)+1)
			args = append(args, formatTime(now))
			for _, id := range ids {
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("promote batch: %w", err)
			}
			return nil
		})
	})
}

func (s *SQLiteStore) ArchiveBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withRetry(ctx, "archive batch", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			q := `UPDATE memories
SET tier = 'archived', decay_deadline = NULL
WHERE id IN (` + placeholders(len(ids)) + `)`
			args := make([]any, 0, len(ids))
			for _, id := range ids {
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("archive batch: %w", err)
			}
			if s.ftsEnabled {
				fq := `DELETE FROM memories_fts WHERE id IN (` + placeholders(len(ids)) + `)`
				if _, err := tx.ExecContext(ctx, fq, args...); err != nil {
					s.logger.Warn("fts cleanup failed; continuing", "error", err)
				}
			}
			return nil
		})
	})
}

// Merge commits one dedup merge atomically: the survivor row takes the
// combined field values, the loser's edges are re-pointed at the survivor and
// the loser is archived with a back-reference.
func (s *SQLiteStore) Merge(ctx context.Context, op MergeOp) error {
	tagsJSON, err := json.Marshal(tagsOrEmpty(op.Survivor.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	return s.withRetry(ctx, "merge records", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			const upd = `UPDATE memories
SET importance = ?, confidence = ?, tags_json = ?, reinforcement_count = ?, created_at = ?
WHERE id = ?`
			if _, err := tx.ExecContext(ctx, upd,
				op.Survivor.Importance,
				op.Survivor.Confidence,
				string(tagsJSON),
				op.Survivor.ReinforcementCount,
				formatTime(op.Survivor.CreatedAt),
				op.Survivor.ID,
			); err != nil {
				return fmt.Errorf("update survivor: %w", err)
			}

			if err := repointEdges(ctx, tx, op.LoserID, op.Survivor.ID); err != nil {
				return err
			}

			const arch = `UPDATE memories
SET tier = 'archived', decay_deadline = NULL, merged_into = ?
WHERE id = ?`
			if _, err := tx.ExecContext(ctx, arch, op.Survivor.ID, op.LoserID); err != nil {
				return fmt.Errorf("archive merge loser: %w", err)
			}

			if s.ftsEnabled {
				if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, op.LoserID); err != nil {
					s.logger.Warn("fts cleanup failed; continuing", "error", err)
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE memories_fts SET tags = ? WHERE id = ?`,
					strings.Join(op.Survivor.Tags, " "), op.Survivor.ID,
				); err != nil {
					s.logger.Warn("fts tag update failed; continuing", "error", err)
				}
			}
			return nil
		})
	})
}

// repointEdges moves every edge touching from over to to, preserving the
// canonical (low, high) ordering and dropping would-be self edges.
func repointEdges(ctx context.Context, tx *sql.Tx, from, to string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT low_id, high_id, created_at FROM associations WHERE low_id = ? OR high_id = ?`,
		from, from)
	if err != nil {
		return fmt.Errorf("load loser edges: %w", err)
	}
	type edge struct{ other, createdAt string }
	edges := make([]edge, 0, 8)
	for rows.Next() {
		var low, high, createdAt string
		if err := rows.Scan(&low, &high, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan loser edge: %w", err)
		}
		other := low
		if other == from {
			other = high
		}
		edges = append(edges, edge{other: other, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM associations WHERE low_id = ? OR high_id = ?`, from, from); err != nil {
		return fmt.Errorf("delete loser edges: %w", err)
	}
	for _, e := range edges {
		if e.other == to {
			continue
		}
		low, high := canonicalPair(to, e.other)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO associations (low_id, high_id, created_at) VALUES (?, ?, ?)`,
			low, high, e.createdAt); err != nil {
			return fmt.Errorf("repoint edge: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) InsertEdge(ctx context.Context, a, b string, now time.Time) error {
	if a == b {
		return errors.New("self edge not allowed")
	}
	low, high := canonicalPair(a, b)
	return s.withRetry(ctx, "insert edge", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO associations (low_id, high_id, created_at) VALUES (?, ?, ?)`,
			low, high, formatTime(now))
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Neighbors(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT low_id, high_id FROM associations WHERE low_id = ? OR high_id = ? ORDER BY low_id, high_id`,
		id, id)
	if err != nil {
		return nil, fmt.Errorf("neighbors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var low, high string
		if err := rows.Scan(&low, &high); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if low == id {
			out = append(out, high)
		} else {
			out = append(out, low)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess types.Session) error {
	return s.withRetry(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
			sess.ID, formatTime(sess.StartedAt))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (types.Session, error) {
	var sess types.Session
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at FROM sessions WHERE id = ? LIMIT 1`, id).
		Scan(&sess.ID, &startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sess, err
		}
		return sess, fmt.Errorf("get session: %w", err)
	}
	sess.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return sess, err
	}
	return sess, nil
}

// AppendTurn assigns the next turn index within the session and inserts the
// turn in the same transaction, keeping indexes monotonic.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn types.ConversationTurn) (types.ConversationTurn, error) {
	refsJSON, err := json.Marshal(tagsOrEmpty(turn.MemoryRefs))
	if err != nil {
		return turn, fmt.Errorf("marshal memory refs: %w", err)
	}

	err = s.withRetry(ctx, "append turn", func() error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			var next int
			err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE session_id = ?`,
				turn.SessionID).Scan(&next)
			if err != nil {
				return fmt.Errorf("next turn index: %w", err)
			}
			turn.TurnIndex = next
			_, err = tx.ExecContext(ctx,
				`INSERT INTO turns (session_id, turn_index, timestamp, speaker, text, memory_refs_json)
VALUES (?, ?, ?, ?, ?, ?)`,
				turn.SessionID, turn.TurnIndex, formatTime(turn.Timestamp),
				turn.Speaker, turn.Text, string(refsJSON))
			if err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return turn, err
	}
	return turn, nil
}

func (s *SQLiteStore) SessionTurns(ctx context.Context, sessionID string) ([]types.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_index, timestamp, speaker, text, memory_refs_json
FROM turns WHERE session_id = ? ORDER BY turn_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session turns: %w", err)
	}
	defer rows.Close()

	var out []types.ConversationTurn
	for rows.Next() {
		var t types.ConversationTurn
		var ts, refsJSON string
		if err := rows.Scan(&t.SessionID, &t.TurnIndex, &ts, &t.Speaker, &t.Text, &refsJSON); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if t.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(refsJSON), &t.MemoryRefs); err != nil {
			t.MemoryRefs = nil
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertSweepLog(ctx context.Context, rec SweepLog) error {
	ts := rec.SweptAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return s.withRetry(ctx, "insert sweep log", func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO sweep_log (
			swept_at, promoted, expired, merged, archived, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?)`,
			formatTime(ts),
			rec.Report.Promoted,
			rec.Report.Expired,
			rec.Report.Merged,
			rec.Report.Archived,
			rec.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("insert sweep log: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) RecentSweepLogs(ctx context.Context, limit int) ([]SweepLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, swept_at, promoted, expired, merged, archived, duration_ms
FROM sweep_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep logs: %w", err)
	}
	defer rows.Close()

	items := make([]SweepLog, 0, limit)
	for rows.Next() {
		var (
			row SweepLog
			ts  string
		)
		if err := rows.Scan(
			&row.ID,
			&ts,
			&row.Report.Promoted,
			&row.Report.Expired,
			&row.Report.Merged,
			&row.Report.Archived,
			&row.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("scan sweep log: %w", err)
		}
		if t, err := parseTime(ts); err == nil {
			row.SweptAt = t
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories`).Scan(&st.Total); err != nil {
		return st, err
	}
	counts := []struct {
		tier types.Tier
		dst  *int64
	}{
		{types.TierShortTerm, &st.ShortTerm},
		{types.TierLongTerm, &st.LongTerm},
		{types.TierArchived, &st.Archived},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM memories WHERE tier = ?`, string(c.tier)).Scan(c.dst); err != nil {
			return st, err
		}
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM memories WHERE decay_deadline IS NOT NULL AND decay_deadline <= ?`,
		formatTime(now)).Scan(&st.PendingExpiry); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM associations`).Scan(&st.Edges); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM turns`).Scan(&st.Turns); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectRecordColumns = `SELECT id, session_id, tier, kind, content, importance, confidence,
       tags_json, reinforcement_count, created_at, last_accessed_at, decay_deadline, promoted_at, merged_into`

func selectRecordColumnsPrefixed(p string) string {
	cols := []string{
		"id", "session_id", "tier", "kind", "content", "importance", "confidence",
		"tags_json", "reinforcement_count", "created_at", "last_accessed_at",
		"decay_deadline", "promoted_at", "merged_into",
	}
	for i, c := range cols {
		cols[i] = p + "." + c
	}
	return "SELECT " + strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (types.MemoryRecord, error) {
	var (
		rec                       types.MemoryRecord
		tier, kind                string
		tagsJSON                  string
		createdAt, lastAccessedAt string
		decayDeadline, promotedAt sql.NullString
	)
	err := sc.Scan(
		&rec.ID,
		&rec.SessionID,
		&tier,
		&kind,
		&rec.Content,
		&rec.Importance,
		&rec.Confidence,
		&tagsJSON,
		&rec.ReinforcementCount,
		&createdAt,
		&lastAccessedAt,
		&decayDeadline,
		&promotedAt,
		&rec.MergedInto,
	)
	if err != nil {
		return rec, err
	}

	rec.Tier = types.Tier(tier)
	rec.Kind = types.Kind(kind)
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, err
	}
	if rec.LastAccessedAt, err = parseTime(lastAccessedAt); err != nil {
		return rec, err
	}
	if decayDeadline.Valid {
		if t, err := parseTime(decayDeadline.String); err == nil {
			rec.DecayDeadline = &t
		}
	}
	if promotedAt.Valid {
		if t, err := parseTime(promotedAt.String); err == nil {
			rec.PromotedAt = &t
		}
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var out []types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
