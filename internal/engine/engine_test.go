package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/curator/config"
	"github.com/mohammad-safakhou/curator/internal/store"
	"github.com/mohammad-safakhou/curator/models"
)

type markCall struct {
	article models.SelectedArticle
	meta    store.SelectionMetadata
}

type fakeStore struct {
	mu sync.Mutex

	itemsByTier map[string][]models.CandidateItem
	topics      []models.RecentTopicRecord
	titles      []string
	markErr     map[string]error
	markSkipped map[string]bool

	resetCalls   []time.Time
	harvestCalls map[string]int
	marked       []markCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		itemsByTier:  map[string][]models.CandidateItem{},
		markErr:      map[string]error{},
		markSkipped:  map[string]bool{},
		harvestCalls: map[string]int{},
	}
}

func (f *fakeStore) ResetStaleSelections(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, olderThan)
	return 0, nil
}

func (f *fakeStore) HarvestTier(ctx context.Context, tier models.TierConfig, since time.Time, limit int) ([]models.CandidateItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.harvestCalls[tier.Name]++
	items := f.itemsByTier[tier.Name]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) RecentTopics(ctx context.Context, since time.Time) ([]models.RecentTopicRecord, error) {
	return f.topics, nil
}

func (f *fakeStore) RecentlySelectedTitles(ctx context.Context, since time.Time) ([]string, error) {
	return f.titles, nil
}

func (f *fakeStore) MarkSelected(ctx context.Context, article models.SelectedArticle, meta store.SelectionMetadata) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[article.ID]; err != nil {
		return false, err
	}
	if f.markSkipped[article.ID] {
		return false, nil
	}
	f.marked = append(f.marked, markCall{article: article, meta: meta})
	return true, nil
}

func testConfig(tiers []models.TierConfig, target int) *config.Config {
	return &config.Config{
		Selection: config.SelectionConfig{
			Tiers:            tiers,
			TargetCount:      target,
			DynamicThreshold: true,
			TopicWindowDays:  4,
			StalenessHours:   4,
			ShortlistSize:    15,
			CommitWorkers:    4,
		},
		Oracle: config.OracleConfig{Timeout: time.Second},
	}
}

func tierItems(source string, now time.Time, titles ...string) []models.CandidateItem {
	items := make([]models.CandidateItem, 0, len(titles))
	for i, title := range titles {
		items = append(items, models.CandidateItem{
			ID:            fmt.Sprintf("%s-%02d", source, i),
			Title:         title,
			Source:        source,
			Category:      "community",
			ContentLength: 800 + i*50,
			PublishedAt:   now.Add(-time.Duration(i+1) * time.Hour),
			CreatedAt:     now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	return items
}

func TestRunCycleFallbackPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 2, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
		{Name: "local", Sources: []string{"coconuts"}, Quota: 2, MaxAgeHours: 48, MinContentChars: 100, Weight: 0.6},
	}

	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now,
		"LegCo passes record infrastructure budget",
		"Observatory issues amber rainstorm warning",
	)
	st.itemsByTier["local"] = tierItems("coconuts", now,
		"Night market returns to Temple Street",
		"Harbour swimmers brave winter race",
	)

	e := New(testConfig(tiers, 2), log.New(io.Discard, "", 0), Deps{Store: st})
	e.now = func() time.Time { return now }

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Harvested != 4 {
		t.Fatalf("harvested = %d, want 4", res.Harvested)
	}
	if res.Method != models.SelectionMethodFallback {
		t.Fatalf("method = %q, want %q", res.Method, models.SelectionMethodFallback)
	}
	if len(res.Selected) != 2 {
		t.Fatalf("selected = %d, want 2", len(res.Selected))
	}
	if len(st.marked) != 2 {
		t.Fatalf("store marked %d articles, want 2", len(st.marked))
	}
	for _, call := range st.marked {
		if call.meta.Method != models.SelectionMethodFallback {
			t.Fatalf("commit method = %q, want fallback", call.meta.Method)
		}
		if call.meta.SessionID != res.SessionID {
			t.Fatalf("commit session = %q, want %q", call.meta.SessionID, res.SessionID)
		}
	}
	// Fallback picks the most recent entries.
	for _, p := range res.Selected {
		if !p.CreatedAt.Equal(now.Add(-time.Hour)) {
			t.Fatalf("fallback picked %s created %v, want the freshest per tier", p.ID, p.CreatedAt)
		}
	}
}

func TestRunCycleRespectsTierQuota(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 2, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}

	titles := make([]string, 6)
	for i := range titles {
		titles[i] = fmt.Sprintf("Distinct premium headline number %d today", i)
	}
	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now, titles...)

	e := New(testConfig(tiers, 3), log.New(io.Discard, "", 0), Deps{Store: st})
	e.now = func() time.Time { return now }

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Harvested != tiers[0].Quota {
		t.Fatalf("harvested = %d, want quota %d", res.Harvested, tiers[0].Quota)
	}
}

func TestRunCycleNoCandidates(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 2, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}

	e := New(testConfig(tiers, 3), log.New(io.Discard, "", 0), Deps{Store: newFakeStore()})
	e.now = func() time.Time { return now }

	if _, err := e.RunCycle(context.Background()); !errors.Is(err, models.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
}

func TestRunCycleResetsStaleSelections(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 2, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}
	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now, "Observatory issues amber rainstorm warning")

	e := New(testConfig(tiers, 1), log.New(io.Discard, "", 0), Deps{Store: st})
	e.now = func() time.Time { return now }

	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(st.resetCalls) != 1 {
		t.Fatalf("reset called %d times, want 1", len(st.resetCalls))
	}
	if want := now.Add(-4 * time.Hour); !st.resetCalls[0].Equal(want) {
		t.Fatalf("stale cutoff = %v, want %v", st.resetCalls[0], want)
	}
}

func TestRunCycleOraclePath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 3, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}
	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now,
		"LegCo passes record infrastructure budget",
		"Observatory issues amber rainstorm warning",
		"Cross harbour tunnel tolls frozen until 2028",
	)

	oracle := &stubOracle{selections: []models.OracleSelection{
		{ShortlistID: "01", Impact: 5, Novelty: 4, Depth: 4, Diversity: 4, Underserved: 4, CompositeScore: 64},
	}}
	e := New(testConfig(tiers, 1), log.New(io.Discard, "", 0), Deps{Store: st, Oracle: oracle})
	e.now = func() time.Time { return now }

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Method != models.SelectionMethodOracle {
		t.Fatalf("method = %q, want %q", res.Method, models.SelectionMethodOracle)
	}
	if len(st.marked) != 1 {
		t.Fatalf("marked %d, want 1", len(st.marked))
	}
	if st.marked[0].meta.Method != models.SelectionMethodOracle {
		t.Fatalf("commit method = %q, want oracle", st.marked[0].meta.Method)
	}
	if st.marked[0].meta.ShortlistID != "01" {
		t.Fatalf("commit shortlist id = %q, want 01", st.marked[0].meta.ShortlistID)
	}
}

func TestRunCycleCollectsCommitFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 3, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}
	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now,
		"LegCo passes record infrastructure budget",
		"Observatory issues amber rainstorm warning",
		"Cross harbour tunnel tolls frozen until 2028",
	)
	st.markErr["scmp-00"] = errors.New("connection reset")
	st.markSkipped["scmp-01"] = true

	e := New(testConfig(tiers, 3), log.New(io.Discard, "", 0), Deps{Store: st})
	e.now = func() time.Time { return now }

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(res.CommitErrors) != 1 {
		t.Fatalf("commit errors = %v, want exactly the failed write", res.CommitErrors)
	}
	// The foreign-session skip is not an error and the remaining commit
	// still lands.
	if len(st.marked) != 1 {
		t.Fatalf("marked %d, want 1", len(st.marked))
	}
	if len(res.Selected) != 3 {
		t.Fatalf("selected = %d, a commit failure must not shrink the result", len(res.Selected))
	}
}

func TestRunCycleExcludesRecentlySelectedTitles(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tiers := []models.TierConfig{
		{Name: "premium", Sources: []string{"scmp"}, Quota: 3, MaxAgeHours: 12, MinContentChars: 100, Weight: 1},
	}
	st := newFakeStore()
	st.itemsByTier["premium"] = tierItems("scmp", now,
		"LegCo passes record infrastructure budget",
		"Observatory issues amber rainstorm warning",
	)
	st.titles = []string{"LegCo passes record infrastructure budget"}

	e := New(testConfig(tiers, 3), log.New(io.Discard, "", 0), Deps{Store: st})
	e.now = func() time.Time { return now }

	res, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Harvested != 1 {
		t.Fatalf("harvested = %d, want the already-selected title excluded", res.Harvested)
	}
	if res.Selected[0].ID != "scmp-01" {
		t.Fatalf("selected %s, want the rainstorm item", res.Selected[0].ID)
	}
}
