package engine

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/mohammad-safakhou/curator/models"
)

// harvestOversample fetches more rows than the tier quota so per-tier
// filters still leave enough to fill it.
const harvestOversample = 3

// recentTitleWindow excludes candidates whose normalized title matches one
// selected within it.
const recentTitleWindow = 24 * time.Hour

var testContentPattern = regexp.MustCompile(`(?i)\b(test|testing|lorem ipsum|placeholder|dummy|sample article|asdf)\b`)

// isTestContent flags obvious placeholder rows the ingestion side sometimes
// leaves behind.
func isTestContent(title string) bool {
	if len([]rune(title)) < 5 {
		return true
	}
	return testContentPattern.MatchString(title)
}

// filterTier applies the per-tier quality filters and the recently-selected
// title exclusion, then enforces the tier quota.
func filterTier(items []models.CandidateItem, tier models.TierConfig, recentKeys map[string]struct{}) []models.CandidateItem {
	kept := make([]models.CandidateItem, 0, len(items))
	for _, it := range items {
		if it.ContentLength < tier.MinContentChars {
			continue
		}
		if isTestContent(it.Title) {
			continue
		}
		if _, dup := recentKeys[TitleKey(it.Title)]; dup {
			continue
		}
		kept = append(kept, it)
		if len(kept) >= tier.Quota {
			break
		}
	}
	return kept
}

// harvest resets stale selections, then queries every tier concurrently and
// joins the surviving candidates. Returns models.ErrNoCandidates when every
// tier comes back empty.
func (e *Engine) harvest(ctx context.Context, now time.Time) ([]models.CandidateItem, []string, error) {
	var degradations []string

	staleCutoff := now.Add(-e.staleness)
	if n, err := e.store.ResetStaleSelections(ctx, staleCutoff); err != nil {
		e.logger.Printf("stale selection reset failed, continuing: %v", err)
		degradations = append(degradations, "stale_reset: "+err.Error())
	} else if n > 0 {
		e.logger.Printf("reset %d stale selections older than %s", n, staleCutoff.Format(time.RFC3339))
	}

	recentKeys, err := e.recentlySelectedKeys(ctx, now)
	if err != nil {
		e.logger.Printf("recently-selected lookup failed, continuing without exclusion: %v", err)
		degradations = append(degradations, "recent_titles: "+err.Error())
		recentKeys = map[string]struct{}{}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		joined []models.CandidateItem
	)
	for _, tier := range e.tiers {
		wg.Add(1)
		go func(tier models.TierConfig) {
			defer wg.Done()

			since := now.Add(-time.Duration(tier.MaxAgeHours) * time.Hour)
			items, err := e.store.HarvestTier(ctx, tier, since, tier.Quota*harvestOversample)
			if err != nil {
				e.logger.Printf("tier %s harvest failed: %v", tier.Name, err)
				mu.Lock()
				degradations = append(degradations, "tier_"+tier.Name+": "+err.Error())
				mu.Unlock()
				return
			}
			kept := filterTier(items, tier, recentKeys)
			e.logger.Printf("tier %s: %d fetched, %d kept (quota %d)", tier.Name, len(items), len(kept), tier.Quota)

			mu.Lock()
			joined = append(joined, kept...)
			mu.Unlock()
		}(tier)
	}
	wg.Wait()

	if len(joined) == 0 {
		return nil, degradations, models.ErrNoCandidates
	}
	return joined, degradations, nil
}

// recentlySelectedKeys returns the normalized-title keys of items selected
// within the last 24h, preferring the redis cache and falling back to the
// store.
func (e *Engine) recentlySelectedKeys(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	if e.titles != nil {
		keys, err := e.titles.RecentTitleKeys(ctx)
		if err == nil {
			set := make(map[string]struct{}, len(keys))
			for _, k := range keys {
				set[k] = struct{}{}
			}
			return set, nil
		}
		e.logger.Printf("title cache unavailable, falling back to store: %v", err)
	}

	titles, err := e.store.RecentlySelectedTitles(ctx, now.Add(-recentTitleWindow))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		set[TitleKey(t)] = struct{}{}
	}
	return set, nil
}
