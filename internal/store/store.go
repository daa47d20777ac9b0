package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/curator/models"
)

// Store wraps the content-items table. The engine only issues filtered
// reads, boolean-flag resets and per-row idempotent metadata upserts; the
// schema itself is owned by the ingestion service.
type Store struct {
	DB *sql.DB
}

// SelectionMetadata is the provenance blob written exactly once per
// selected article.
type SelectionMetadata struct {
	SelectedAt      time.Time `json:"selected_at"`
	Reason          string    `json:"reason"`
	Score           float64   `json:"score"`
	ShortlistID     string    `json:"shortlist_id,omitempty"`
	SessionID       string    `json:"session_id"`
	Method          string    `json:"method"`
	ClusterSize     int       `json:"cluster_size,omitempty"`
	AbsorbedSources []string  `json:"absorbed_sources,omitempty"`
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// ResetStaleSelections clears the selection flag on items that were picked
// but never enhanced within the staleness window, so a crashed enhancement
// step cannot starve them forever. Returns the number of rows reset.
func (s *Store) ResetStaleSelections(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE content_items
SET selected_for_enhancement = FALSE,
    selection_metadata = NULL
WHERE selected_for_enhancement = TRUE
  AND is_enhanced = FALSE
  AND (selection_metadata->>'selected_at')::timestamptz < $1
`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("resetting stale selections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// HarvestTier returns not-yet-selected, not-yet-enhanced items from the
// tier's sources within its age window, newest first, bounded by limit.
func (s *Store) HarvestTier(ctx context.Context, tier models.TierConfig, since time.Time, limit int) ([]models.CandidateItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, COALESCE(summary, ''), content, url, source, COALESCE(category, ''),
       published_at, created_at,
       (image_url IS NOT NULL AND image_url <> '') AS has_image
FROM content_items
WHERE source = ANY($1)
  AND selected_for_enhancement = FALSE
  AND is_enhanced = FALSE
  AND created_at >= $2
  AND content IS NOT NULL AND length(content) > 0
ORDER BY created_at DESC
LIMIT $3
`, pq.Array(tier.Sources), since, limit)
	if err != nil {
		return nil, fmt.Errorf("harvesting tier %s: %w", tier.Name, err)
	}
	defer rows.Close()

	var items []models.CandidateItem
	for rows.Next() {
		var it models.CandidateItem
		if err := rows.Scan(&it.ID, &it.Title, &it.Summary, &it.Content, &it.URL, &it.Source,
			&it.Category, &it.PublishedAt, &it.CreatedAt, &it.HasImage); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		it.ContentLength = len(it.Content)
		it.HasSummary = it.Summary != ""
		it.TierWeight = tier.Weight
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return items, nil
}

// RecentTopics projects items already promoted within the trailing window,
// for topic-similarity comparison only.
func (s *Store) RecentTopics(ctx context.Context, since time.Time) ([]models.RecentTopicRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT title, COALESCE(summary, ''), created_at, COALESCE(category, '')
FROM content_items
WHERE (selected_for_enhancement = TRUE OR is_enhanced = TRUE)
  AND created_at >= $1
ORDER BY created_at DESC
`, since)
	if err != nil {
		return nil, fmt.Errorf("loading recent topics: %w", err)
	}
	defer rows.Close()

	var topics []models.RecentTopicRecord
	for rows.Next() {
		var t models.RecentTopicRecord
		if err := rows.Scan(&t.Title, &t.Summary, &t.CreatedAt, &t.Category); err != nil {
			return nil, fmt.Errorf("scanning recent topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent topics: %w", err)
	}
	return topics, nil
}

// RecentlySelectedTitles returns the titles of items selected since the
// given time. The harvester excludes candidates whose normalized title
// matches one of them.
func (s *Store) RecentlySelectedTitles(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT title
FROM content_items
WHERE selected_for_enhancement = TRUE
  AND (selection_metadata->>'selected_at')::timestamptz >= $1
`, since)
	if err != nil {
		return nil, fmt.Errorf("loading recently selected titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scanning title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating titles: %w", err)
	}
	return titles, nil
}

// MarkSelected flips the selection flag and writes the provenance blob for
// one article. The write is idempotent per article id within a session:
// a retry from the same session rewrites identical metadata, while an item
// already claimed by another cycle is left untouched and reported as false.
func (s *Store) MarkSelected(ctx context.Context, article models.SelectedArticle, meta SelectionMetadata) (bool, error) {
	blob, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("marshalling selection metadata: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, `
UPDATE content_items
SET selected_for_enhancement = TRUE,
    category = CASE WHEN $2 <> '' THEN $2 ELSE category END,
    selection_metadata = $3
WHERE id = $1
  AND (selected_for_enhancement = FALSE OR selection_metadata->>'session_id' = $4)
`, article.ID, article.AICategory, blob, meta.SessionID)
	if err != nil {
		return false, fmt.Errorf("marking %s selected: %w", article.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}
