package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/curator/internal/store"
	"github.com/mohammad-safakhou/curator/models"
)

// commit marks every pick in the store with full provenance, fanning out
// over a bounded worker pool since the writes are independent keys. A
// failure for one article never blocks the others; errors are collected and
// returned for the cycle summary.
func (e *Engine) commit(ctx context.Context, picks []models.SelectedArticle, now time.Time) []string {
	if len(picks) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures []string
	)
	semaphore := make(chan struct{}, e.commitWorkers)

	for _, pick := range picks {
		wg.Add(1)
		go func(pick models.SelectedArticle) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			meta := store.SelectionMetadata{
				SelectedAt:  now,
				Reason:      pick.SelectionReason,
				Score:       pick.PriorityScore,
				ShortlistID: pick.ShortlistID,
				SessionID:   pick.SessionID,
				Method:      pick.Method,
			}
			if pick.Cluster != nil {
				meta.ClusterSize = pick.Cluster.Size
				meta.AbsorbedSources = pick.Cluster.AbsorbedSources
			}

			updated, err := e.store.MarkSelected(ctx, pick, meta)
			if err != nil {
				e.logger.Printf("commit failed for %s: %v", pick.ID, err)
				mu.Lock()
				failures = append(failures, pick.ID+": "+err.Error())
				mu.Unlock()
				return
			}
			if !updated {
				e.logger.Printf("commit skipped for %s: already claimed by another session", pick.ID)
				return
			}

			if e.titles != nil {
				if err := e.titles.RememberTitleKey(ctx, TitleKey(pick.Title), recentTitleWindow); err != nil {
					e.logger.Printf("title cache write failed for %s: %v", pick.ID, err)
				}
			}
		}(pick)
	}
	wg.Wait()
	return failures
}
