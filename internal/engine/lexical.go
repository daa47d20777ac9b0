package engine

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/curator/models"
)

// titleKeyPrefixLen bounds the normalized-title key. Fifty runes is enough
// to collapse near-duplicate headlines that only differ in trailing
// variation.
const titleKeyPrefixLen = 50

// NormalizeTitle lowercases a title, replaces everything that is not a
// letter, digit or space with a space, and collapses whitespace. CJK
// characters are letters and survive untouched.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	runes := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			runes = append(runes, r)
		} else {
			runes = append(runes, ' ')
		}
	}
	return strings.Join(strings.Fields(string(runes)), " ")
}

// TitleKey is the lexical-dedup grouping key: the normalized title truncated
// to a fixed rune prefix.
func TitleKey(title string) string {
	norm := NormalizeTitle(title)
	runes := []rune(norm)
	if len(runes) > titleKeyPrefixLen {
		runes = runes[:titleKeyPrefixLen]
	}
	return strings.TrimSpace(string(runes))
}

// richerCandidate reports whether a should be preferred over b as a group
// representative: greatest content first, most recent creation on ties, item
// id as the final deterministic tie-break.
func richerCandidate(a, b models.CandidateItem) bool {
	if a.ContentLength != b.ContentLength {
		return a.ContentLength > b.ContentLength
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// DedupeLexical collapses candidates that share a normalized-title key,
// keeping the richest member of each group. It is pure and
// order-independent: the output is sorted newest-first regardless of input
// ordering.
func DedupeLexical(items []models.CandidateItem) []models.CandidateItem {
	groups := make(map[string]models.CandidateItem, len(items))
	for _, it := range items {
		key := TitleKey(it.Title)
		best, ok := groups[key]
		if !ok || richerCandidate(it, best) {
			groups[key] = it
		}
	}

	out := make([]models.CandidateItem, 0, len(groups))
	for _, it := range groups {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
