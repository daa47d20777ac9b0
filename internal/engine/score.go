package engine

import (
	"time"

	"github.com/mohammad-safakhou/curator/models"
)

// Quality score weights.
const (
	recencyWeight = 0.3
	contentWeight = 0.4
	sourceWeight  = 0.3
)

// sourceReputation is the static per-outlet reputation table. Unknown
// sources score the neutral default.
var sourceReputation = map[string]float64{
	"scmp":         90,
	"hkfp":         85,
	"rthk":         85,
	"thestandard":  75,
	"mingpao":      75,
	"hk01":         70,
	"dimsumdaily":  60,
	"harbourtimes": 60,
	"coconuts":     55,
}

const defaultSourceReputation = 50

// recencyScore buckets hours since publication.
func recencyScore(publishedAt, now time.Time) float64 {
	age := now.Sub(publishedAt)
	switch {
	case age < time.Hour:
		return 100
	case age < 3*time.Hour:
		return 90
	case age < 6*time.Hour:
		return 80
	case age < 12*time.Hour:
		return 70
	case age < 24*time.Hour:
		return 60
	default:
		return 50
	}
}

// contentScore buckets content length in characters.
func contentScore(contentLength int) float64 {
	switch {
	case contentLength >= 2000:
		return 100
	case contentLength >= 1000:
		return 85
	case contentLength >= 500:
		return 70
	case contentLength >= 200:
		return 50
	case contentLength >= 50:
		return 35
	default:
		return 20
	}
}

func sourceScore(source string) float64 {
	if rep, ok := sourceReputation[source]; ok {
		return rep
	}
	return defaultSourceReputation
}

// QualityScore is the deterministic 0-100 score of one candidate at a given
// instant. Pure function, no side effects.
func QualityScore(it models.CandidateItem, now time.Time) float64 {
	return recencyWeight*recencyScore(it.PublishedAt, now) +
		contentWeight*contentScore(it.ContentLength) +
		sourceWeight*sourceScore(it.Source)
}

// ScoreCandidates scores every survivor.
func ScoreCandidates(items []models.CandidateItem, now time.Time) []models.ScoredCandidate {
	scored := make([]models.ScoredCandidate, 0, len(items))
	for _, it := range items {
		scored = append(scored, models.ScoredCandidate{
			CandidateItem: it,
			QualityScore:  QualityScore(it, now),
		})
	}
	return scored
}
