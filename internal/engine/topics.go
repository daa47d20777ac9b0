package engine

import (
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/curator/models"
)

// topicDropThreshold drops a candidate scoring above it against any recent
// topic.
const topicDropThreshold = 0.5

// Weights of the combined topic-similarity score.
const (
	topicJaccardWeight = 0.6
	topicKeywordWeight = 0.4
)

// Over-filtering guard: when a fine-grained pass over more than ten
// candidates would leave fewer than five, the coarse category fallback runs
// instead.
const (
	topicFallbackMinInput  = 10
	topicFallbackMinOutput = 5
)

// importantTokens extracts the stemmed "important" tokens of title+summary:
// tokens longer than four runes, tokens containing a digit, and tokens that
// were capitalized in the original text.
func importantTokens(title, summary string) map[string]struct{} {
	set := make(map[string]struct{})
	text := title
	if summary != "" {
		text += " " + summary
	}

	var cur []rune
	flush := func() {
		if len(cur) == 0 {
			return
		}
		token := string(cur)
		cur = cur[:0]

		runes := []rune(token)
		important := len(runes) > 4
		if !important {
			for _, r := range runes {
				if unicode.IsDigit(r) {
					important = true
					break
				}
			}
		}
		if !important && unicode.IsUpper(runes[0]) {
			important = true
		}
		if !important {
			return
		}

		w := stemToken(strings.ToLower(token))
		if _, stop := stopWords[w]; stop {
			return
		}
		set[w] = struct{}{}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

// overlapRatio is intersection over the smaller set, so a short topic record
// that is fully contained in a longer candidate still scores high.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(inter) / float64(smaller)
}

// TopicSimilarity scores how close a candidate is to one recently-promoted
// topic: 0.6 x title Jaccard + 0.4 x important-keyword overlap.
func TopicSimilarity(c models.CandidateItem, t models.RecentTopicRecord) float64 {
	j := jaccard(titleTokens(c.Title), titleTokens(t.Title))
	k := overlapRatio(importantTokens(c.Title, c.Summary), importantTokens(t.Title, t.Summary))
	return topicJaccardWeight*j + topicKeywordWeight*k
}

// categoryTopicKeywords are the hand-maintained buckets of the coarse
// fallback heuristic. Matching is substring-based over normalized
// title+summary.
var categoryTopicKeywords = map[string][]string{
	"weather":   {"typhoon", "signal no", "rainstorm", "amber rain", "black rain", "observatory", "heatwave"},
	"transport": {"mtr", "fare", "bus route", "ferry", "airport", "tunnel toll", "high speed rail"},
	"housing":   {"housing", "rent", "land sale", "property price", "subdivided flat", "public estate"},
	"health":    {"hospital", "vaccine", "outbreak", "clinic", "health bureau", "flu season"},
	"politics":  {"legco", "legislative council", "chief executive", "policy address", "district council", "election"},
	"business":  {"stock", "hang seng", "ipo", "interest rate", "retail sales", "tourism figures"},
	"education": {"school", "university", "dse", "kindergarten", "curriculum"},
	"crime":     {"arrest", "police", "fraud", "scam", "smuggling", "court"},
}

// coarseBuckets returns the category buckets whose keyword lists match the
// given text.
func coarseBuckets(title, summary string) map[string]struct{} {
	text := " " + NormalizeTitle(title+" "+summary) + " "
	buckets := make(map[string]struct{})
	for bucket, keywords := range categoryTopicKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				buckets[bucket] = struct{}{}
				break
			}
		}
	}
	return buckets
}

// FilterRecentTopics removes candidates too similar to any recently-promoted
// topic. The filter is deliberately conservative: when the fine-grained pass
// would starve the cycle it re-runs with the coarse category-bucket
// heuristic, preferring false negatives over an empty selection.
func FilterRecentTopics(items []models.CandidateItem, topics []models.RecentTopicRecord) ([]models.CandidateItem, bool) {
	if len(items) == 0 || len(topics) == 0 {
		return items, false
	}

	kept := make([]models.CandidateItem, 0, len(items))
	for _, it := range items {
		blocked := false
		for _, t := range topics {
			if TopicSimilarity(it, t) > topicDropThreshold {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, it)
		}
	}

	if len(items) > topicFallbackMinInput && len(kept) < topicFallbackMinOutput {
		return coarseFilterRecentTopics(items, topics), true
	}
	return kept, false
}

// coarseFilterRecentTopics drops a candidate only when it shares a category
// keyword bucket with a recent topic.
func coarseFilterRecentTopics(items []models.CandidateItem, topics []models.RecentTopicRecord) []models.CandidateItem {
	topicBuckets := make(map[string]struct{})
	for _, t := range topics {
		for b := range coarseBuckets(t.Title, t.Summary) {
			topicBuckets[b] = struct{}{}
		}
	}

	kept := make([]models.CandidateItem, 0, len(items))
	for _, it := range items {
		blocked := false
		for b := range coarseBuckets(it.Title, it.Summary) {
			if _, ok := topicBuckets[b]; ok {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, it)
		}
	}
	return kept
}
