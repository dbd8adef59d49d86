package reconcile

import (
	"slices"

	"bienestar/internal/models"
)

// Merge combines the local cache with a remote batch. Local records are
// inserted first, then remote ones; a remote record replaces the local record
// with the same id. Records only present locally are kept unchanged.
//
// The result is sorted by timestamp, newest first. The sort is stable so ties
// keep their insertion order, which makes Merge idempotent.
func Merge(local, remote []models.AssessmentRecord) []models.AssessmentRecord {
	merged := make([]models.AssessmentRecord, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))

	put := func(rec models.AssessmentRecord) {
		if i, ok := index[rec.ID]; ok {
			merged[i] = rec
			return
		}
		index[rec.ID] = len(merged)
		merged = append(merged, rec)
	}

	for _, rec := range local {
		put(rec)
	}
	for _, rec := range remote {
		put(rec)
	}

	SortNewestFirst(merged)
	return merged
}

// SortNewestFirst orders records by timestamp descending, in place
func SortNewestFirst(records []models.AssessmentRecord) {
	slices.SortStableFunc(records, func(a, b models.AssessmentRecord) int {
		return b.Time().Compare(a.Time())
	})
}
