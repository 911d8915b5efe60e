package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// -------------------- Ingestion --------------------

// AudioChunk is one diarizable slice of a session recording, supplied by
// the upstream ingestion service. Immutable once created.
type AudioChunk struct {
	SessionID   string  `json:"session_id"`
	ChunkIndex  int     `json:"chunk_index"`
	WaveformRef string  `json:"waveform_ref"`
	Transcript  string  `json:"transcript"`
	StartTime   float64 `json:"start_time"` // seconds into the session video
	EndTime     float64 `json:"end_time"`
	VideoRef    string  `json:"video_ref,omitempty"`
}

// -------------------- Detection --------------------

const (
	SignalVoice = "voice"
	SignalText  = "text"
)

// FrictionScore carries both subscores and the fusion result. Derived
// per chunk, never persisted past the event it spawns.
type FrictionScore struct {
	VoiceScore    float64 `json:"voice_score"`
	TextScore     float64 `json:"text_score"`
	FusedScore    float64 `json:"fused_score"`
	WinningSignal string  `json:"winning_signal"`
	Sentiment     string  `json:"sentiment"` // Frustrated | Confused | Hesitant | Neutral
	Quote         string  `json:"quote"`     // utterance that produced the winning score
}

// FrictionEvent exists iff FusedScore > the configured threshold
// (strict). Exactly one per qualifying chunk-instant; immutable.
type FrictionEvent struct {
	ID         uuid.UUID     `json:"id"`
	SessionID  string        `json:"session_id"`
	ChunkIndex int           `json:"chunk_index"`
	Timestamp  float64       `json:"timestamp"` // seconds into the session video
	Score      FrictionScore `json:"score"`
	Excerpt    string        `json:"excerpt"`
	VideoRef   string        `json:"video_ref,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// VisualContext is attached at most once, before diagnosis begins.
// Absent on extraction failure (degraded mode).
type VisualContext struct {
	FrictionEventID uuid.UUID `json:"friction_event_id"`
	Element         string    `json:"element"`
	Page            string    `json:"page"`
	Description     string    `json:"description"`
	FramePath       string    `json:"frame_path,omitempty"`
}

// -------------------- Diagnosis --------------------

const (
	SeverityMin = 1
	SeverityMax = 5
)

// Diagnosis is created exactly once per event and immutable afterward;
// escalation is applied before creation, never after.
type Diagnosis struct {
	FrictionEventID    uuid.UUID `json:"friction_event_id"`
	Category           string    `json:"category"`
	Severity           int       `json:"severity"` // 1..5
	RootCause          string    `json:"root_cause"`
	FixSuggestion      string    `json:"fix_suggestion"`
	ReferencePatternID string    `json:"reference_pattern_id,omitempty"`
	Degraded           bool      `json:"degraded"` // diagnosed without visual context
	CreatedAt          time.Time `json:"created_at"`
}

// SeverityLabel maps the ordinal scale to the display labels the
// dashboard shows.
func SeverityLabel(severity int) string {
	switch {
	case severity >= 4:
		return "critical"
	case severity >= 3:
		return "moderate"
	default:
		return "minor"
	}
}

// -------------------- Memory --------------------

const (
	MemoryKindPerEvent       = "PER_EVENT"
	MemoryKindSessionSummary = "SESSION_SUMMARY"
)

// Memory is append-only: never mutated, never deleted.
type Memory struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind             string    `gorm:"column:kind;not null;index" json:"kind"`
	EmbeddingSubject string    `gorm:"column:embedding_subject;not null" json:"embedding_subject"`
	Payload          string    `gorm:"column:payload;not null" json:"payload"`
	SessionID        string    `gorm:"column:session_id;not null;index" json:"session_id"`
	Category         string    `gorm:"column:category;index" json:"category,omitempty"`
	Page             string    `gorm:"column:page;index" json:"page,omitempty"`
	Element          string    `gorm:"column:element" json:"element,omitempty"`
	Severity         int       `gorm:"column:severity" json:"severity,omitempty"`
	CreatedAt        time.Time `gorm:"not null;index" json:"created_at"`
}

func (Memory) TableName() string { return "memory" }

// RecalledMemory pairs a stored memory with its similarity to the
// recall query.
type RecalledMemory struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// -------------------- Cards --------------------

const (
	MockupPending    = "PENDING"
	MockupGenerating = "GENERATING"
	MockupReady      = "READY"
	MockupFailed     = "FAILED"
)

// Benchmark is the research enrichment patched onto a card after
// publish. Optional.
type Benchmark struct {
	Source         string   `json:"source"`
	Recommendation string   `json:"recommendation"`
	Examples       []string `json:"examples"`
}

// Card is the published unit shown on the dashboard, keyed by friction
// event. Published exactly once, then patched at most twice (benchmark,
// mockup), each patch touching only its own columns.
type Card struct {
	FrictionEventID    uuid.UUID      `gorm:"type:uuid;primaryKey;column:friction_event_id" json:"friction_event_id"`
	SessionID          string         `gorm:"column:session_id;not null;index" json:"session_id"`
	Category           string         `gorm:"column:category;not null;index" json:"category"`
	Severity           int            `gorm:"column:severity;not null" json:"severity"`
	SeverityLabel      string         `gorm:"column:severity_label;not null" json:"severity_label"`
	RootCause          string         `gorm:"column:root_cause;not null" json:"root_cause"`
	FixSuggestion      string         `gorm:"column:fix_suggestion;not null" json:"fix_suggestion"`
	ReferencePatternID string         `gorm:"column:reference_pattern_id" json:"reference_pattern_id,omitempty"`
	Page               string         `gorm:"column:page" json:"page,omitempty"`
	Element            string         `gorm:"column:element" json:"element,omitempty"`
	Evidence           string         `gorm:"column:evidence" json:"evidence"`
	BenchmarkSource    string         `gorm:"column:benchmark_source" json:"benchmark_source,omitempty"`
	BenchmarkText      string         `gorm:"column:benchmark_text" json:"benchmark_text,omitempty"`
	BenchmarkExamples  datatypes.JSON `gorm:"column:benchmark_examples" json:"benchmark_examples,omitempty"`
	MockupStatus       string         `gorm:"column:mockup_status;not null" json:"mockup_status"`
	MockupImageRef     string         `gorm:"column:mockup_image_ref" json:"mockup_image_ref,omitempty"`
	PublishedAt        time.Time      `gorm:"column:published_at;not null;index" json:"published_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Card) TableName() string { return "card" }

// -------------------- Session rollups --------------------

// SessionSummary is created exactly once per session, after every chunk
// has reached diagnosis completion.
type SessionSummary struct {
	SessionID          string         `json:"session_id"`
	EventCount         int            `json:"event_count"`
	ChunkCount         int            `json:"chunk_count"`
	PageCounts         map[string]int `json:"page_counts"`
	DominantSentiment  string         `json:"dominant_sentiment"`
	RecurringCategories []string      `json:"recurring_categories"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Session lifecycle as surfaced to the dashboard.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionCancelled = "cancelled"
)

// PipelineStatus is a read-only projection of one session's live state.
type PipelineStatus struct {
	SessionID           string    `json:"session_id"`
	State               string    `json:"state"`
	ChunksReceived      int       `json:"chunks_received"`
	Terminal            bool      `json:"terminal"`
	EventsDetected      int       `json:"events_detected"`
	DegradedEvents      int       `json:"degraded_events"`
	DiagnosesCompleted  int       `json:"diagnoses_completed"`
	ChunksDiagnosed     int       `json:"chunks_diagnosed"`
	EnrichmentsPending  int       `json:"enrichments_pending"`
	SummaryWritten      bool      `json:"summary_written"`
	UpdatedAt           time.Time `json:"updated_at"`
}
