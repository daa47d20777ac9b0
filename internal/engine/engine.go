package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/curator/config"
	"github.com/mohammad-safakhou/curator/internal/store"
	"github.com/mohammad-safakhou/curator/internal/telemetry"
	"github.com/mohammad-safakhou/curator/models"
	"github.com/mohammad-safakhou/curator/provider"
)

// StoreAPI captures the store methods the engine requires.
type StoreAPI interface {
	ResetStaleSelections(ctx context.Context, olderThan time.Time) (int64, error)
	HarvestTier(ctx context.Context, tier models.TierConfig, since time.Time, limit int) ([]models.CandidateItem, error)
	RecentTopics(ctx context.Context, since time.Time) ([]models.RecentTopicRecord, error)
	RecentlySelectedTitles(ctx context.Context, since time.Time) ([]string, error)
	MarkSelected(ctx context.Context, article models.SelectedArticle, meta store.SelectionMetadata) (bool, error)
}

// TitleCache is the optional fast path for the 24h recently-selected title
// exclusion. The store query remains the fallback.
type TitleCache interface {
	RecentTitleKeys(ctx context.Context) ([]string, error)
	RememberTitleKey(ctx context.Context, key string, ttl time.Duration) error
}

// Deps bundles the engine's collaborators. Oracle, Embedder, Categorizer
// and Titles may be nil; the engine degrades per its graceful-degradation
// contract.
type Deps struct {
	Store       StoreAPI
	Oracle      provider.RankingOracle
	Embedder    provider.EmbeddingProvider
	Categorizer provider.Categorizer
	Titles      TitleCache
	Telemetry   *telemetry.Telemetry
}

// Engine runs selection cycles. All in-memory state is cycle-scoped; the
// struct itself only holds configuration and collaborators.
type Engine struct {
	logger      *log.Logger
	store       StoreAPI
	oracle      provider.RankingOracle
	embedder    provider.EmbeddingProvider
	categorizer provider.Categorizer
	titles      TitleCache
	telemetry   *telemetry.Telemetry

	tiers            []models.TierConfig
	targetCount      int
	shortlistSize    int
	commitWorkers    int
	dynamicThreshold bool
	flexibleCount    bool
	topicWindowDays  int
	staleness        time.Duration
	oracleTimeout    time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// New builds an engine from explicit configuration; there are no
// process-wide toggles.
func New(cfg *config.Config, logger *log.Logger, deps Deps) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[CYCLE] ", log.LstdFlags)
	}
	return &Engine{
		logger:           logger,
		store:            deps.Store,
		oracle:           deps.Oracle,
		embedder:         deps.Embedder,
		categorizer:      deps.Categorizer,
		titles:           deps.Titles,
		telemetry:        deps.Telemetry,
		tiers:            cfg.Selection.Tiers,
		targetCount:      cfg.Selection.TargetCount,
		shortlistSize:    cfg.Selection.ShortlistSize,
		commitWorkers:    cfg.Selection.CommitWorkers,
		dynamicThreshold: cfg.Selection.DynamicThreshold,
		flexibleCount:    cfg.Selection.FlexibleCount,
		topicWindowDays:  cfg.Selection.TopicWindowDays,
		staleness:        time.Duration(cfg.Selection.StalenessHours) * time.Hour,
		oracleTimeout:    cfg.Oracle.Timeout,
		now:              time.Now,
	}
}

// RunCycle executes one selection cycle: harvest, lexical dedup, semantic
// dedup, topic filter, score, threshold, oracle (or fallback), commit. It
// always returns a structured result except for the fatal no-candidates
// case.
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleResult, error) {
	now := e.now()
	res := &models.CycleResult{
		SessionID: uuid.NewString(),
		StartedAt: now,
	}
	e.logger.Printf("cycle %s starting", res.SessionID)

	candidates, degradations, err := e.harvest(ctx, now)
	res.Degradations = degradations
	if err != nil {
		if errors.Is(err, models.ErrNoCandidates) {
			e.logger.Printf("cycle %s aborted: %v", res.SessionID, err)
		}
		return nil, err
	}
	res.Harvested = len(candidates)

	lexical := DedupeLexical(candidates)
	res.AfterLexical = len(lexical)

	clusters, survivors, degraded := e.dedupeSemantic(ctx, lexical)
	if degraded != "" {
		res.Degradations = append(res.Degradations, degraded)
	}
	res.AfterSemantic = len(survivors)

	clusterByRep := make(map[string]models.DeduplicationCluster, len(clusters))
	for _, c := range clusters {
		clusterByRep[c.Representative.ID] = c
	}

	topics, err := e.store.RecentTopics(ctx, now.AddDate(0, 0, -e.topicWindowDays))
	if err != nil {
		e.logger.Printf("recent topics unavailable, skipping topic filter: %v", err)
		res.Degradations = append(res.Degradations, "recent_topics: "+err.Error())
		topics = nil
	}

	filtered, usedCoarse := FilterRecentTopics(survivors, topics)
	if usedCoarse {
		e.logger.Printf("topic filter fell back to category buckets (%d -> %d)", len(survivors), len(filtered))
		res.Degradations = append(res.Degradations, "topic_filter: coarse category fallback")
	}
	res.AfterTopicFilter = len(filtered)

	scored := ScoreCandidates(filtered, now)
	scores := make([]float64, len(scored))
	for i, sc := range scored {
		scores[i] = sc.QualityScore
	}
	res.Threshold, res.ThresholdMethod = SelectThreshold(scores, e.dynamicThreshold)

	shortlist, byID := BuildShortlist(scored, now, e.shortlistSize)
	if len(shortlist) == 0 {
		e.logger.Printf("cycle %s: nothing survived filtering, nothing to commit", res.SessionID)
		res.Method = models.SelectionMethodFallback
		res.FinishedAt = e.now()
		e.record(res)
		return res, nil
	}

	var picks []models.SelectedArticle
	if e.oracle != nil {
		picks, err = e.rankWithOracle(ctx, shortlist, byID, categoryCoverage(topics), e.targetCount, res.Threshold)
		if err != nil {
			e.logger.Printf("oracle path failed, engaging fallback selector: %v", err)
			res.Degradations = append(res.Degradations, "oracle: "+err.Error())
			picks = FallbackSelect(byID, e.targetCount)
		}
	} else {
		picks = FallbackSelect(byID, e.targetCount)
	}
	if len(picks) > 0 {
		res.Method = picks[0].Method
	}

	for i := range picks {
		picks[i].SessionID = res.SessionID
		if c, ok := clusterByRep[picks[i].ID]; ok && len(c.Members) > 1 {
			picks[i].Cluster = clusterInfo(c)
		}
	}

	e.categorize(ctx, picks, res)

	res.CommitErrors = e.commit(ctx, picks, now)
	res.Selected = picks
	res.FinishedAt = e.now()
	e.logger.Printf("cycle %s done: %d selected via %s, threshold %.0f (%s), %d commit errors",
		res.SessionID, len(res.Selected), res.Method, res.Threshold, res.ThresholdMethod, len(res.CommitErrors))
	e.record(res)
	return res, nil
}

func (e *Engine) record(res *models.CycleResult) {
	if e.telemetry != nil {
		e.telemetry.RecordCycle(res)
	}
}

// clusterInfo condenses a dedup cluster into commit provenance.
func clusterInfo(c models.DeduplicationCluster) *models.ClusterInfo {
	info := &models.ClusterInfo{Size: len(c.Members)}
	for _, m := range c.Members {
		if m.ID == c.Representative.ID {
			continue
		}
		info.AbsorbedSources = append(info.AbsorbedSources, m.Source)
	}
	return info
}

// categoryCoverage summarizes recent category counts for the oracle request.
func categoryCoverage(topics []models.RecentTopicRecord) map[string]int {
	coverage := make(map[string]int)
	for _, t := range topics {
		if t.Category != "" {
			coverage[t.Category]++
		}
	}
	return coverage
}

// validCategories is the closed enum the categorization oracle must answer
// within; anything else is ignored and the original category retained.
var validCategories = map[string]struct{}{
	"politics": {}, "business": {}, "tech": {}, "health": {}, "culture": {},
	"sports": {}, "weather": {}, "transport": {}, "crime": {}, "community": {},
}

// relabelMinConfidence gates how sure the categorization oracle must be
// before a relabel sticks.
const relabelMinConfidence = 7

// categorize asks the optional categorization oracle for confident
// relabelings. Failures only log; the committer proceeds with original
// categories.
func (e *Engine) categorize(ctx context.Context, picks []models.SelectedArticle, res *models.CycleResult) {
	if e.categorizer == nil || len(picks) == 0 {
		return
	}

	items := make([]provider.CategorizationItem, 0, len(picks))
	for _, p := range picks {
		items = append(items, provider.CategorizationItem{
			ID:              p.ID,
			Title:           p.Title,
			Summary:         p.Summary,
			CurrentCategory: p.Category,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()
	suggestions, err := e.categorizer.Categorize(cctx, items)
	if err != nil {
		e.logger.Printf("categorization oracle failed, keeping original categories: %v", err)
		res.Degradations = append(res.Degradations, "categorizer: "+err.Error())
		return
	}

	byItem := make(map[string]models.CategorySuggestion, len(suggestions))
	for _, s := range suggestions {
		byItem[s.ID] = s
	}
	for i := range picks {
		s, ok := byItem[picks[i].ID]
		if !ok || s.Confidence < relabelMinConfidence {
			continue
		}
		if _, valid := validCategories[s.Category]; !valid {
			e.logger.Printf("categorizer proposed unknown category %q for %s, ignoring", s.Category, picks[i].ID)
			continue
		}
		if s.Category != picks[i].Category {
			picks[i].AICategory = s.Category
		}
	}
}
