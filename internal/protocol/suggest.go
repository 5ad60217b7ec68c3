package protocol

import "github.com/agnivade/levenshtein"

// SuggestTag returns the known tag closest to tag by edit distance, or ""
// when nothing is close enough to be a plausible typo or rename.
func SuggestTag(tag Tag) Tag {
	if tag == "" {
		return ""
	}
	limit := len(tag) / 3
	if limit < 2 {
		limit = 2
	}
	best := Tag("")
	bestDist := limit + 1
	for _, known := range KnownTags() {
		d := levenshtein.ComputeDistance(string(tag), string(known))
		if d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}
