package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/curator/models"
)

// semanticLinkThreshold links two same-day items into one cluster when their
// combined lexical+semantic similarity exceeds it.
const semanticLinkThreshold = 0.5

// unionFind is a plain disjoint-set over slice indices.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// cosineSimilarity of two vectors; zero when either is empty or degenerate.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// combinedSimilarity blends title-token overlap with embedding cosine
// similarity, half and half. Vectors may be nil, in which case only the
// lexical half contributes.
func combinedSimilarity(a, b models.CandidateItem, va, vb []float32) float64 {
	lexical := jaccard(titleTokens(a.Title), titleTokens(b.Title))
	semantic := cosineSimilarity(va, vb)
	return 0.5*lexical + 0.5*semantic
}

// embeddingText is what gets embedded per candidate.
func embeddingText(it models.CandidateItem) string {
	if it.Summary != "" {
		return it.Title + "\n" + it.Summary
	}
	return it.Title
}

// ClusterBySimilarity partitions candidates into same-story clusters using
// union-find over pairwise similarity, restricted to items sharing an
// ingestion day so the O(n²) comparison stays bounded. vectors is aligned
// with items and may contain nils. Every input item lands in exactly one
// cluster; singletons are emitted too so downstream provenance bookkeeping
// stays uniform.
func ClusterBySimilarity(items []models.CandidateItem, vectors [][]float32, threshold float64) []models.DeduplicationCluster {
	days := make(map[string][]int)
	for i, it := range items {
		day := it.CreatedAt.UTC().Format("2006-01-02")
		days[day] = append(days[day], i)
	}

	uf := newUnionFind(len(items))
	pairSim := make(map[[2]int]float64)
	for _, idxs := range days {
		for x := 0; x < len(idxs); x++ {
			for y := x + 1; y < len(idxs); y++ {
				i, j := idxs[x], idxs[y]
				var vi, vj []float32
				if vectors != nil {
					vi, vj = vectors[i], vectors[j]
				}
				sim := combinedSimilarity(items[i], items[j], vi, vj)
				if sim > threshold {
					uf.union(i, j)
					pairSim[[2]int{i, j}] = sim
				}
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range items {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	roots := make([]int, 0, len(byRoot))
	for root := range byRoot {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	clusters := make([]models.DeduplicationCluster, 0, len(roots))
	for n, root := range roots {
		idxs := byRoot[root]
		members := make([]models.CandidateItem, 0, len(idxs))
		for _, i := range idxs {
			members = append(members, items[i])
		}
		rep := members[0]
		for _, m := range members[1:] {
			if richerCandidate(m, rep) {
				rep = m
			}
		}

		var avg float64
		if len(idxs) > 1 {
			var total float64
			var pairs int
			for x := 0; x < len(idxs); x++ {
				for y := x + 1; y < len(idxs); y++ {
					i, j := idxs[x], idxs[y]
					if s, ok := pairSim[[2]int{i, j}]; ok {
						total += s
						pairs++
					} else if s, ok := pairSim[[2]int{j, i}]; ok {
						total += s
						pairs++
					}
				}
			}
			if pairs > 0 {
				avg = total / float64(pairs)
			}
		}

		clusters = append(clusters, models.DeduplicationCluster{
			ID:                fmt.Sprintf("%s-%03d", rep.CreatedAt.UTC().Format("20060102"), n+1),
			Members:           members,
			Representative:    rep,
			AverageSimilarity: avg,
		})
	}
	return clusters
}

// dedupeSemantic clusters lexically-deduplicated candidates by content
// similarity and keeps one representative per cluster. An embedding failure
// must not block the cycle: the input passes through unchanged as singleton
// clusters and the degradation is reported to the caller.
func (e *Engine) dedupeSemantic(ctx context.Context, items []models.CandidateItem) ([]models.DeduplicationCluster, []models.CandidateItem, string) {
	if len(items) == 0 {
		return nil, items, ""
	}

	var vectors [][]float32
	degradation := ""
	if e.embedder != nil {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = embeddingText(it)
		}
		vecs, err := e.embedder.CreateEmbedding(ctx, texts)
		if err != nil || len(vecs) != len(items) {
			if err == nil {
				err = fmt.Errorf("expected %d vectors, got %d", len(items), len(vecs))
			}
			e.logger.Printf("semantic dedup degraded, continuing with lexical-only clusters: %v", err)
			degradation = "semantic_dedup: " + err.Error()
		} else {
			vectors = vecs
		}
	} else {
		degradation = "semantic_dedup: no embedding provider configured"
	}

	clusters := ClusterBySimilarity(items, vectors, semanticLinkThreshold)

	survivors := make([]models.CandidateItem, 0, len(clusters))
	for _, c := range clusters {
		survivors = append(survivors, c.Representative)
	}
	sort.Slice(survivors, func(i, j int) bool {
		if !survivors[i].CreatedAt.Equal(survivors[j].CreatedAt) {
			return survivors[i].CreatedAt.After(survivors[j].CreatedAt)
		}
		return survivors[i].ID < survivors[j].ID
	})
	return clusters, survivors, degradation
}

// titleTokens is the stemmed significant-token set of a title.
func titleTokens(title string) map[string]struct{} {
	return tokenSet(NormalizeTitle(title))
}

// tokenSet splits normalized text into stemmed tokens, dropping stop words
// and anything shorter than three runes.
func tokenSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		w = stemToken(w)
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// stemToken trims a plural/possessive tail so "fares" and "fare" compare
// equal. Deliberately crude; anything smarter belongs to the embedding side.
func stemToken(w string) string {
	if strings.HasSuffix(w, "ies") && len(w) > 4 {
		return w[:len(w)-3] + "y"
	}
	if strings.HasSuffix(w, "es") && len(w) > 4 {
		return w[:len(w)-2]
	}
	if strings.HasSuffix(w, "s") && len(w) > 3 {
		return w[:len(w)-1]
	}
	return w
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "his": {}, "has": {}, "how": {}, "man": {},
	"new": {}, "now": {}, "old": {}, "see": {}, "two": {}, "way": {},
	"who": {}, "its": {}, "say": {}, "she": {}, "too": {}, "use": {},
	"after": {}, "amid": {}, "over": {}, "into": {}, "from": {}, "with": {},
	"this": {}, "that": {}, "will": {}, "have": {}, "been": {}, "more": {},
	"than": {}, "when": {}, "what": {}, "where": {}, "while": {},
}

// jaccard is intersection over union of two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
