package telemetry

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/curator/models"
)

// Telemetry tracks selection-cycle outcomes. Counters feed the prometheus
// registry exposed on the ops server; the last cycle result is kept for the
// inspection endpoint.
type Telemetry struct {
	logger *log.Logger

	mu        sync.RWMutex
	lastCycle *models.CycleResult

	cyclesTotal     prometheus.Counter
	cyclesAborted   prometheus.Counter
	harvestedTotal  prometheus.Counter
	dedupedTotal    prometheus.Counter
	topicDropsTotal prometheus.Counter
	selectedTotal   *prometheus.CounterVec
	degradedTotal   prometheus.Counter
	commitErrsTotal prometheus.Counter
	thresholdGauge  prometheus.Gauge
}

// New registers the cycle metrics on the default registry.
func New() *Telemetry {
	return &Telemetry{
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		cyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_cycles_total",
			Help: "Selection cycles completed.",
		}),
		cyclesAborted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_cycles_aborted_total",
			Help: "Selection cycles aborted with no candidates.",
		}),
		harvestedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_candidates_harvested_total",
			Help: "Candidates harvested across all tiers.",
		}),
		dedupedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_duplicates_removed_total",
			Help: "Candidates removed by lexical plus semantic dedup.",
		}),
		topicDropsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_topic_filtered_total",
			Help: "Candidates dropped for similarity to recent topics.",
		}),
		selectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_articles_selected_total",
			Help: "Articles committed for enhancement, by selection method.",
		}, []string{"method"}),
		degradedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_degradations_total",
			Help: "Degraded-but-continue events across cycles.",
		}),
		commitErrsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curator_commit_errors_total",
			Help: "Per-article commit failures.",
		}),
		thresholdGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curator_acceptance_threshold",
			Help: "Acceptance threshold of the most recent cycle.",
		}),
	}
}

// RecordCycle ingests one finished cycle result.
func (t *Telemetry) RecordCycle(res *models.CycleResult) {
	t.cyclesTotal.Inc()
	t.harvestedTotal.Add(float64(res.Harvested))
	if removed := res.Harvested - res.AfterSemantic; removed > 0 {
		t.dedupedTotal.Add(float64(removed))
	}
	if dropped := res.AfterSemantic - res.AfterTopicFilter; dropped > 0 {
		t.topicDropsTotal.Add(float64(dropped))
	}
	if len(res.Selected) > 0 {
		t.selectedTotal.WithLabelValues(res.Method).Add(float64(len(res.Selected)))
	}
	t.degradedTotal.Add(float64(len(res.Degradations)))
	t.commitErrsTotal.Add(float64(len(res.CommitErrors)))
	t.thresholdGauge.Set(res.Threshold)

	t.mu.Lock()
	t.lastCycle = res
	t.mu.Unlock()

	t.logger.Printf("cycle %s: harvested=%d deduped=%d filtered=%d selected=%d method=%s",
		res.SessionID, res.Harvested, res.AfterSemantic, res.AfterTopicFilter, len(res.Selected), res.Method)
}

// RecordAbort counts a fatal no-candidates cycle.
func (t *Telemetry) RecordAbort() {
	t.cyclesAborted.Inc()
}

// LastCycle returns the most recent cycle result, or nil before the first.
func (t *Telemetry) LastCycle() *models.CycleResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastCycle
}
