package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/curator/models"
)

// Oracle adapter constants.
const (
	// oracleHardFloor rejects any composite score below it regardless of
	// the dynamic threshold.
	oracleHardFloor = 60.0

	// fallbackScore is the fixed placeholder priority of fallback picks.
	fallbackScore = 75.0

	// Flexible-count expansion: when enabled and more than
	// flexibleCountTrigger validated selections score at least
	// flexibleCountBar, the result may grow up to flexibleCountMax items.
	flexibleCountTrigger = 3
	flexibleCountBar     = 85.0
	flexibleCountMax     = 5

	// compositeTolerance bounds how far an oracle-asserted composite may
	// drift from the recomputed weighted sum before it is clamped.
	compositeTolerance = 5.0
)

const fallbackReason = "fallback: ranking oracle unavailable, selected most recent from shortlist"

// timeBucket renders the age of an item for the oracle request.
func timeBucket(publishedAt, now time.Time) string {
	age := now.Sub(publishedAt)
	switch {
	case age < time.Hour:
		return "<1h"
	case age < 3*time.Hour:
		return "1-3h"
	case age < 6*time.Hour:
		return "3-6h"
	case age < 12*time.Hour:
		return "6-12h"
	case age < 24*time.Hour:
		return "12-24h"
	default:
		return ">24h"
	}
}

// shortlistRank orders candidates for the shortlist: content length plus a
// bonus of 100 points per hour of freshness under 24h.
func shortlistRank(it models.ScoredCandidate, now time.Time) float64 {
	hoursOld := now.Sub(it.PublishedAt).Hours()
	bonus := (24 - hoursOld) * 100
	if bonus < 0 {
		bonus = 0
	}
	return float64(it.ContentLength) + bonus
}

// BuildShortlist picks the top candidates by content length + recency bonus
// and assigns them stable two-digit shortlist ids. The returned map resolves
// a shortlist id back to its candidate.
func BuildShortlist(scored []models.ScoredCandidate, now time.Time, size int) ([]models.ShortlistItem, map[string]models.ScoredCandidate) {
	ranked := make([]models.ScoredCandidate, len(scored))
	copy(ranked, scored)
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := shortlistRank(ranked[i], now), shortlistRank(ranked[j], now)
		if ri != rj {
			return ri > rj
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > size {
		ranked = ranked[:size]
	}

	shortlist := make([]models.ShortlistItem, 0, len(ranked))
	byID := make(map[string]models.ScoredCandidate, len(ranked))
	for i, it := range ranked {
		id := fmt.Sprintf("%02d", i+1)
		shortlist = append(shortlist, models.ShortlistItem{
			ShortlistID:     id,
			TimeBucket:      timeBucket(it.PublishedAt, now),
			Category:        it.Category,
			Source:          it.Source,
			ApproxWordCount: it.ContentLength / 6,
			HasImage:        it.HasImage,
			Title:           it.Title,
		})
		byID[id] = it
	}
	return shortlist, byID
}

// rankWithOracle sends the shortlist to the ranking oracle, validates its
// verdicts and applies the acceptance threshold. A zero-validated outcome
// (or any oracle error) is reported so the caller can engage the fallback.
func (e *Engine) rankWithOracle(ctx context.Context, shortlist []models.ShortlistItem, byID map[string]models.ScoredCandidate, coverage map[string]int, target int, threshold float64) ([]models.SelectedArticle, error) {
	octx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	selections, err := e.oracle.Rank(octx, shortlist, coverage, target)
	if err != nil {
		return nil, fmt.Errorf("oracle rank: %w", err)
	}

	validated := make([]models.OracleSelection, 0, len(selections))
	for _, sel := range selections {
		if _, ok := byID[sel.ShortlistID]; !ok {
			e.logger.Printf("oracle referenced unknown shortlist id %q, skipping", sel.ShortlistID)
			continue
		}
		if !subScoresValid(sel) {
			e.logger.Printf("oracle sub-scores out of range for %s, skipping", sel.ShortlistID)
			continue
		}
		recomputed := sel.WeightedComposite()
		if diff := sel.CompositeScore - recomputed; diff > compositeTolerance || diff < -compositeTolerance {
			e.logger.Printf("oracle composite %.0f for %s disagrees with weighted sum %.0f, clamping", sel.CompositeScore, sel.ShortlistID, recomputed)
			sel.CompositeScore = recomputed
		}
		if sel.CompositeScore < oracleHardFloor {
			e.logger.Printf("oracle score %.0f for %s below hard floor %.0f, rejected", sel.CompositeScore, sel.ShortlistID, oracleHardFloor)
			continue
		}
		validated = append(validated, sel)
	}
	if len(validated) == 0 {
		return nil, fmt.Errorf("oracle returned zero validated selections for shortlist of %d", len(shortlist))
	}

	sort.Slice(validated, func(i, j int) bool {
		if validated[i].CompositeScore != validated[j].CompositeScore {
			return validated[i].CompositeScore > validated[j].CompositeScore
		}
		return validated[i].ShortlistID < validated[j].ShortlistID
	})

	accepted := validated[:0:0]
	for _, sel := range validated {
		if sel.CompositeScore >= threshold {
			accepted = append(accepted, sel)
		}
	}
	if len(accepted) == 0 {
		// Threshold starved the pick; keep the single best validated entry
		// rather than failing over to the recency fallback.
		accepted = validated[:1]
	}

	limit := target
	if e.flexibleCount {
		strong := 0
		for _, sel := range accepted {
			if sel.CompositeScore >= flexibleCountBar {
				strong++
			}
		}
		if strong > flexibleCountTrigger {
			limit = flexibleCountMax
		}
	}
	if len(accepted) > limit {
		accepted = accepted[:limit]
	}

	picks := make([]models.SelectedArticle, 0, len(accepted))
	for _, sel := range accepted {
		cand := byID[sel.ShortlistID]
		picks = append(picks, models.SelectedArticle{
			CandidateItem:   cand.CandidateItem,
			SelectionReason: fmt.Sprintf("ranked by oracle (I%d N%d D%d S%d U%d)", sel.Impact, sel.Novelty, sel.Depth, sel.Diversity, sel.Underserved),
			PriorityScore:   sel.CompositeScore,
			ShortlistID:     sel.ShortlistID,
			Method:          models.SelectionMethodOracle,
		})
	}
	return picks, nil
}

func subScoresValid(sel models.OracleSelection) bool {
	for _, v := range []int{sel.Impact, sel.Novelty, sel.Depth, sel.Diversity, sel.Underserved} {
		if v < 1 || v > 5 {
			return false
		}
	}
	return true
}

// FallbackSelect deterministically picks the most recent shortlist entries
// when the oracle fails. It has no external dependency and always succeeds
// given a non-empty shortlist, returning min(target, len) items with the
// fixed placeholder score.
func FallbackSelect(byID map[string]models.ScoredCandidate, target int) []models.SelectedArticle {
	entries := make([]struct {
		id   string
		cand models.ScoredCandidate
	}, 0, len(byID))
	for id, cand := range byID {
		entries = append(entries, struct {
			id   string
			cand models.ScoredCandidate
		}{id, cand})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].cand.CreatedAt.Equal(entries[j].cand.CreatedAt) {
			return entries[i].cand.CreatedAt.After(entries[j].cand.CreatedAt)
		}
		return entries[i].cand.ID < entries[j].cand.ID
	})
	if len(entries) > target {
		entries = entries[:target]
	}

	picks := make([]models.SelectedArticle, 0, len(entries))
	for _, en := range entries {
		picks = append(picks, models.SelectedArticle{
			CandidateItem:   en.cand.CandidateItem,
			SelectionReason: fallbackReason,
			PriorityScore:   fallbackScore,
			ShortlistID:     en.id,
			Method:          models.SelectionMethodFallback,
		})
	}
	return picks
}
