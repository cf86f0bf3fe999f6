package memory

import "strings"

// bulletJaccardThreshold marks two bullets as equivalent when their token
// overlap reaches this ratio (in addition to exact normalized equality).
const bulletJaccardThreshold = 0.9

// titleJaccardThreshold marks two goal titles as the same goal.
const titleJaccardThreshold = 0.72

// normalizeText lowercases, strips punctuation and collapses whitespace.
// Both the bullet dedup check and goal title equivalence build on it.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalizeText(s)) {
		set[w] = true
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|; 0 when either set is empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// equivalentBullets reports whether two bullets are duplicates: equal after
// normalization, or near-identical by token overlap.
func equivalentBullets(a, b string) bool {
	na, nb := normalizeText(a), normalizeText(b)
	if na == nb {
		return true
	}
	return jaccard(tokenSet(a), tokenSet(b)) >= bulletJaccardThreshold
}

// sameGoalTitle reports whether a candidate title names an existing goal:
// normalized forms equal, one contains the other, or token overlap ≥ 0.72.
func sameGoalTitle(a, b string) bool {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb || strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return jaccard(tokenSet(a), tokenSet(b)) >= titleJaccardThreshold
}
