package types

import "time"

// Tier is the retention class of a memory record.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierArchived  Tier = "archived"
)

// Kind classifies what a memory record asserts.
type Kind string

const (
	KindPreference Kind = "preference"
	KindFact       Kind = "fact"
	KindOpinion    Kind = "opinion"
	KindExperience Kind = "experience"
	KindBelief     Kind = "belief"
)

// ValidKinds lists the accepted memory kinds.
var ValidKinds = map[Kind]bool{
	KindPreference: true,
	KindFact:       true,
	KindOpinion:    true,
	KindExperience: true,
	KindBelief:     true,
}

// MemoryRecord represents one persisted memory item. The ID is immutable and
// never reused; archival is a soft delete.
type MemoryRecord struct {
	ID                 string     `json:"id"`
	SessionID          string     `json:"session_id"`
	Tier               Tier       `json:"tier"`
	Kind               Kind       `json:"kind"`
	Content            string     `json:"content"`
	Importance         float64    `json:"importance"`
	Confidence         float64    `json:"confidence"`
	Tags               []string   `json:"tags,omitempty"`
	Associations       []string   `json:"associations,omitempty"`
	ReinforcementCount int        `json:"reinforcement_count"`
	CreatedAt          time.Time  `json:"created_at"`
	LastAccessedAt     time.Time  `json:"last_accessed_at"`
	DecayDeadline      *time.Time `json:"decay_deadline,omitempty"`
	PromotedAt         *time.Time `json:"promoted_at,omitempty"`
	MergedInto         string     `json:"merged_into,omitempty"`
}

// ConversationTurn is one append-only turn within a session.
type ConversationTurn struct {
	SessionID  string    `json:"session_id"`
	TurnIndex  int       `json:"turn_index"`
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	MemoryRefs []string  `json:"memory_refs,omitempty"`
}

// Session identifies one conversation.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// IngestInput describes one interaction handed to the memory pipeline.
type IngestInput struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	Speaker   string `json:"speaker,omitempty"`
	// References names existing records the caller already knows are related;
	// each yields an association edge regardless of tag overlap.
	References []string `json:"references,omitempty"`
}

// RetrieveInput describes a retrieval query.
type RetrieveInput struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit,omitempty"`
}

// ScoredRecord is a ranked retrieval result with its score breakdown.
type ScoredRecord struct {
	Record     MemoryRecord `json:"record"`
	Score      float64      `json:"score"`
	MatchScore float64      `json:"match_score"`
	Recency    float64      `json:"recency_score"`
}

// SweepReport summarizes one consolidation pass.
type SweepReport struct {
	Promoted int `json:"promoted"`
	Expired  int `json:"expired"`
	Merged   int `json:"merged"`
	Archived int `json:"archived"`
}

// Empty reports whether the sweep changed nothing.
func (r SweepReport) Empty() bool {
	return r.Promoted == 0 && r.Expired == 0 && r.Merged == 0 && r.Archived == 0
}
