// Package retention selects which dump artifacts a prune keeps.
package retention

import (
	"sort"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/models"
)

// Select returns the set of artifact names to retain under the policy. Each
// artifact is assigned to time buckets and the newest artifact in each
// bucket is kept, following the restic/Borg convention. Artifacts not in the
// returned set are prune candidates.
func Select(artifacts []models.DumpArtifact, policy models.RetentionPolicy) map[string]struct{} {
	keep := make(map[string]struct{})
	if len(artifacts) == 0 {
		return keep
	}

	sorted := make([]models.DumpArtifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	for i := 0; i < policy.KeepLast && i < len(sorted); i++ {
		keep[sorted[i].Name] = struct{}{}
	}

	if policy.KeepDaily > 0 {
		markByBucket(sorted, policy.KeepDaily, truncateDay, keep)
	}
	if policy.KeepWeekly > 0 {
		markByBucket(sorted, policy.KeepWeekly, truncateWeek, keep)
	}
	if policy.KeepMonthly > 0 {
		markByBucket(sorted, policy.KeepMonthly, truncateMonth, keep)
	}

	return keep
}

// markByBucket walks artifacts newest-first, assigns each to a time bucket,
// and keeps the newest artifact in up to count distinct buckets.
func markByBucket(sortedNewestFirst []models.DumpArtifact, count int, truncate func(time.Time) time.Time, keep map[string]struct{}) {
	seen := make(map[time.Time]bool)
	for _, a := range sortedNewestFirst {
		bucket := truncate(a.CreatedAt)
		if !seen[bucket] {
			seen[bucket] = true
			keep[a.Name] = struct{}{}
			if len(seen) >= count {
				return
			}
		}
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func truncateWeek(t time.Time) time.Time {
	// ISO week, Monday first.
	year, week := t.ISOWeek()
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, t.Location())
	weekday := jan4.Weekday()
	if weekday == 0 {
		weekday = 7
	}
	return jan4.AddDate(0, 0, -(int(weekday)-1)+(week-1)*7)
}

func truncateMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
