package models

import (
	"errors"
	"time"
)

// ErrNoCandidates is returned when harvesting yields nothing across all
// tiers. It aborts the cycle but not the process.
var ErrNoCandidates = errors.New("no candidates found")

// Selection methods recorded in commit metadata.
const (
	SelectionMethodOracle   = "perplexity_ai"
	SelectionMethodFallback = "fallback"
)

// CandidateItem is one harvested piece of content. It is created by the
// ingestion pipeline and read-only to the engine except for the selection
// flag and metadata written by the committer.
type CandidateItem struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	Content       string    `json:"content"`
	URL           string    `json:"url"`
	Source        string    `json:"source"`
	Category      string    `json:"category"`
	PublishedAt   time.Time `json:"published_at"`
	CreatedAt     time.Time `json:"created_at"`
	ContentLength int       `json:"content_length"`
	HasSummary    bool      `json:"has_summary"`
	HasImage      bool      `json:"has_image"`

	// TierWeight is annotated by the harvester from the tier the item's
	// source belongs to.
	TierWeight float64 `json:"tier_weight,omitempty"`
}

// TierConfig is the immutable per-tier harvesting policy. Every source
// belongs to at most one tier.
type TierConfig struct {
	Name            string   `mapstructure:"name" json:"name"`
	Sources         []string `mapstructure:"sources" json:"sources"`
	Quota           int      `mapstructure:"quota" json:"quota"`
	MaxAgeHours     int      `mapstructure:"max_age_hours" json:"max_age_hours"`
	MinContentChars int      `mapstructure:"min_content_chars" json:"min_content_chars"`
	Weight          float64  `mapstructure:"weight" json:"weight"`
}

// DeduplicationCluster groups candidates judged to report the same story.
// Clusters partition the semantic-dedup input; the representative is always
// a member.
type DeduplicationCluster struct {
	ID                string          `json:"id"`
	Members           []CandidateItem `json:"members"`
	Representative    CandidateItem   `json:"representative"`
	AverageSimilarity float64         `json:"average_similarity"`
}

// ClusterInfo is the dedup provenance carried into selection metadata.
type ClusterInfo struct {
	Size            int      `json:"size"`
	AbsorbedSources []string `json:"absorbed_sources,omitempty"`
}

// ScoredCandidate pairs a candidate with its deterministic quality score.
type ScoredCandidate struct {
	CandidateItem
	QualityScore float64 `json:"quality_score"`
}

// ShortlistItem is one entry of the bounded shortlist sent to the ranking
// oracle.
type ShortlistItem struct {
	ShortlistID     string `json:"id"`
	TimeBucket      string `json:"time_bucket"`
	Category        string `json:"category"`
	Source          string `json:"source"`
	ApproxWordCount int    `json:"approx_word_count"`
	HasImage        bool   `json:"has_image"`
	Title           string `json:"title"`
}

// OracleSelection is the external ranking oracle's verdict for one shortlist
// entry. CompositeScore is oracle-asserted and re-validated by the adapter.
type OracleSelection struct {
	ShortlistID    string  `json:"id"`
	Impact         int     `json:"I"`
	Novelty        int     `json:"N"`
	Depth          int     `json:"D"`
	Diversity      int     `json:"S"`
	Underserved    int     `json:"U"`
	CompositeScore float64 `json:"score"`
}

// WeightedComposite recomputes the composite score from the five sub-scores.
func (s OracleSelection) WeightedComposite() float64 {
	return float64(s.Impact*4 + s.Novelty*3 + s.Depth*2 + s.Diversity*1 + s.Underserved*5)
}

// SelectedArticle is a final pick with full provenance.
type SelectedArticle struct {
	CandidateItem
	SelectionReason string       `json:"selection_reason"`
	PriorityScore   float64      `json:"priority_score"`
	SessionID       string       `json:"session_id"`
	ShortlistID     string       `json:"shortlist_id,omitempty"`
	Method          string       `json:"method"`
	Cluster         *ClusterInfo `json:"cluster_info,omitempty"`
	AICategory      string       `json:"ai_category,omitempty"`
}

// RecentTopicRecord is a lightweight projection of an already-promoted item,
// used only for similarity comparison.
type RecentTopicRecord struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Category  string    `json:"category,omitempty"`
}

// CategorySuggestion is the categorization oracle's relabeling proposal for
// one item. Confidence runs 1..10.
type CategorySuggestion struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
}

// CycleResult is the structured outcome of one selection cycle. Cycles
// return this rather than raising, except for the fatal no-candidates case.
type CycleResult struct {
	SessionID        string            `json:"session_id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Harvested        int               `json:"harvested"`
	AfterLexical     int               `json:"after_lexical_dedup"`
	AfterSemantic    int               `json:"after_semantic_dedup"`
	AfterTopicFilter int               `json:"after_topic_filter"`
	Threshold        float64           `json:"threshold"`
	ThresholdMethod  string            `json:"threshold_method"`
	Method           string            `json:"method"`
	Selected         []SelectedArticle `json:"selected"`
	Degradations     []string          `json:"degradations,omitempty"`
	CommitErrors     []string          `json:"commit_errors,omitempty"`
}
