package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/curator/config"
	"github.com/mohammad-safakhou/curator/internal/lock"
	"github.com/mohammad-safakhou/curator/internal/store"
	"github.com/mohammad-safakhou/curator/models"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("curator"),
		tcPostgres.WithUsername("curator"),
		tcPostgres.WithPassword("curator"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://curator:curator@%s:%s/curator?sslmode=disable", pgHost, pgPort.Port())
	if err := createContentItems(ctx, dsn); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer func() { _ = st.Close() }()

	now := time.Now().UTC().Truncate(time.Second)
	seed := []struct {
		id, title, source string
		content           string
		createdAt         time.Time
	}{
		{"it-1", "LegCo passes record infrastructure budget", "scmp", longBody(900), now.Add(-time.Hour)},
		{"it-2", "Observatory issues amber rainstorm warning", "scmp", longBody(500), now.Add(-2 * time.Hour)},
		{"it-3", "Night market returns to Temple Street", "coconuts", longBody(300), now.Add(-3 * time.Hour)},
		{"it-4", "Ancient headline far outside the window", "scmp", longBody(700), now.Add(-90 * time.Hour)},
	}
	for _, row := range seed {
		if _, err := st.DB.ExecContext(ctx, `
INSERT INTO content_items (id, title, summary, content, url, source, category, published_at, created_at)
VALUES ($1, $2, 'summary text', $3, $4, $5, 'community', $6, $6)
`, row.id, row.title, row.content, "https://example.org/"+row.id, row.source, row.createdAt); err != nil {
			t.Fatalf("seed %s: %v", row.id, err)
		}
	}

	tier := models.TierConfig{Name: "premium", Sources: []string{"scmp"}, Quota: 10, MaxAgeHours: 12, Weight: 1}

	t.Run("harvest respects window and sources", func(t *testing.T) {
		items, err := st.HarvestTier(ctx, tier, now.Add(-12*time.Hour), 30)
		if err != nil {
			t.Fatalf("HarvestTier: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("got %d items, want 2 (coconuts and the stale row excluded)", len(items))
		}
		if items[0].ID != "it-1" {
			t.Fatalf("expected newest first, got %s", items[0].ID)
		}
		if items[0].ContentLength != 900 || !items[0].HasSummary {
			t.Fatalf("derived fields wrong: %+v", items[0])
		}
	})

	meta := store.SelectionMetadata{
		SelectedAt: now,
		Reason:     "integration check",
		Score:      75,
		SessionID:  "session-a",
		Method:     models.SelectionMethodFallback,
	}
	article := models.SelectedArticle{CandidateItem: models.CandidateItem{ID: "it-1", Title: seed[0].title}}

	t.Run("mark selected is idempotent per session", func(t *testing.T) {
		updated, err := st.MarkSelected(ctx, article, meta)
		if err != nil || !updated {
			t.Fatalf("first MarkSelected = (%v, %v), want (true, nil)", updated, err)
		}
		// Same session retry rewrites the same row.
		updated, err = st.MarkSelected(ctx, article, meta)
		if err != nil || !updated {
			t.Fatalf("retry MarkSelected = (%v, %v), want (true, nil)", updated, err)
		}
		// A different session must not steal the claim.
		foreign := meta
		foreign.SessionID = "session-b"
		updated, err = st.MarkSelected(ctx, article, foreign)
		if err != nil {
			t.Fatalf("foreign MarkSelected: %v", err)
		}
		if updated {
			t.Fatalf("foreign session stole an already-claimed article")
		}

		var selected bool
		var session string
		if err := st.DB.QueryRowContext(ctx, `
SELECT selected_for_enhancement, selection_metadata->>'session_id' FROM content_items WHERE id = 'it-1'
`).Scan(&selected, &session); err != nil {
			t.Fatalf("inspect row: %v", err)
		}
		if !selected || session != "session-a" {
			t.Fatalf("row state = (%v, %s), want claimed by session-a", selected, session)
		}
	})

	t.Run("recently selected titles and topics", func(t *testing.T) {
		titles, err := st.RecentlySelectedTitles(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("RecentlySelectedTitles: %v", err)
		}
		if len(titles) != 1 || titles[0] != seed[0].title {
			t.Fatalf("titles = %v, want the committed one", titles)
		}

		topics, err := st.RecentTopics(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("RecentTopics: %v", err)
		}
		if len(topics) != 1 || topics[0].Title != seed[0].title {
			t.Fatalf("topics = %v, want the committed item projected", topics)
		}
	})

	t.Run("stale selections are reset", func(t *testing.T) {
		// Age the claim past the staleness window, then reset.
		if _, err := st.DB.ExecContext(ctx, `
UPDATE content_items
SET selection_metadata = jsonb_set(selection_metadata, '{selected_at}', to_jsonb($1::text))
WHERE id = 'it-1'
`, now.Add(-6*time.Hour).Format(time.RFC3339)); err != nil {
			t.Fatalf("age claim: %v", err)
		}

		n, err := st.ResetStaleSelections(ctx, now.Add(-4*time.Hour))
		if err != nil {
			t.Fatalf("ResetStaleSelections: %v", err)
		}
		if n != 1 {
			t.Fatalf("reset %d rows, want 1", n)
		}

		items, err := st.HarvestTier(ctx, tier, now.Add(-12*time.Hour), 30)
		if err != nil {
			t.Fatalf("HarvestTier after reset: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("reset item should be harvestable again, got %d", len(items))
		}
	})
}

func TestCycleGuardAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	redisHost, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	redisPort, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	guard, err := lock.Connect(ctx, config.RedisConfig{Host: redisHost, Port: redisPort.Port()}, 5*time.Second)
	if err != nil {
		t.Fatalf("guard connect: %v", err)
	}
	defer func() { _ = guard.Close() }()

	ok, err := guard.AcquireCycle(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = guard.AcquireCycle(ctx, time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("lock acquired twice, cycles would overlap")
	}
	if err := guard.ReleaseCycle(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = guard.AcquireCycle(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release = (%v, %v), want (true, nil)", ok, err)
	}

	if err := guard.RememberTitleKey(ctx, "legco passes record infrastructure budget", time.Minute); err != nil {
		t.Fatalf("remember title: %v", err)
	}
	keys, err := guard.RecentTitleKeys(ctx)
	if err != nil {
		t.Fatalf("recent titles: %v", err)
	}
	if len(keys) != 1 || keys[0] != "legco passes record infrastructure budget" {
		t.Fatalf("keys = %v, want the cached title key", keys)
	}
}

func createContentItems(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	// The schema is owned by the ingestion service in production; the test
	// recreates the columns the engine touches.
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS content_items (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  summary TEXT,
  content TEXT,
  url TEXT UNIQUE NOT NULL,
  source TEXT NOT NULL,
  category TEXT,
  image_url TEXT,
  published_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  is_enhanced BOOLEAN NOT NULL DEFAULT FALSE,
  selected_for_enhancement BOOLEAN NOT NULL DEFAULT FALSE,
  selection_metadata JSONB,
  enhancement_metadata JSONB
);
`)
	if err != nil {
		return fmt.Errorf("create content_items: %w", err)
	}
	return nil
}

func longBody(n int) string {
	body := make([]byte, n)
	for i := range body {
		body[i] = 'a' + byte(i%26)
	}
	return string(body)
}
