package backup

import (
	"sort"
	"time"
)

// RetentionPlan is the result of evaluating a retention policy against a
// manifest snapshot
type RetentionPlan struct {
	Keep   []string `json:"keep"`
	Expire []string `json:"expire"`
	// Skipped lists entries that were not candidates: pending, failed,
	// or already expiring or deleted.
	Skipped []string `json:"skipped,omitempty"`
}

// KeepSet returns the keep IDs as a lookup set
func (rp *RetentionPlan) KeepSet() map[string]bool {
	set := make(map[string]bool, len(rp.Keep))
	for _, id := range rp.Keep {
		set[id] = true
	}
	return set
}

// PlanRetention computes which artifacts to keep and which to expire. It is a
// pure function of its inputs: no I/O, no clock reads, now is passed in.
//
// Only stored and verified artifacts are candidates; pending, failed, and
// already expiring or deleted entries are never touched. Artifacts younger
// than the policy's minimum age are never expired, and the single newest
// candidate is always kept regardless of policy, so at least one restore
// point survives any configuration.
func PlanRetention(entries []*Artifact, policy RetentionPolicy, now time.Time) (*RetentionPlan, error) {
	if err := policy.Validate(); err != nil {
		return nil, NewRetentionPolicyError("invalid retention policy", err)
	}

	plan := &RetentionPlan{Keep: []string{}, Expire: []string{}}
	var candidates []*Artifact
	for _, entry := range entries {
		if entry.State == StateStored || entry.State == StateVerified {
			candidates = append(candidates, entry)
		} else {
			plan.Skipped = append(plan.Skipped, entry.ID)
		}
	}
	sort.Strings(plan.Skipped)
	if len(candidates) == 0 {
		return plan, nil
	}

	// Newest first. Identical timestamps break toward the higher
	// lexicographic ID, so the lower ID is the one expired.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID > candidates[j].ID
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	keepMap := make(map[string]bool)

	// The newest candidate always survives
	keepMap[candidates[0].ID] = true

	// Everything inside the retention window survives
	if policy.Window > 0 {
		cutoff := now.Add(-policy.Window)
		for _, artifact := range candidates {
			if artifact.CreatedAt.After(cutoff) {
				keepMap[artifact.ID] = true
			}
		}
	}

	// Tiered rules keep the newest artifact per period bucket
	if policy.KeepDaily > 0 {
		keepPeriodic(candidates, keepMap, policy.KeepDaily, 24*time.Hour, now)
	}
	if policy.KeepWeekly > 0 {
		keepPeriodic(candidates, keepMap, policy.KeepWeekly, 7*24*time.Hour, now)
	}
	if policy.KeepMonthly > 0 {
		keepPeriodic(candidates, keepMap, policy.KeepMonthly, 30*24*time.Hour, now)
	}

	// Artifacts younger than the minimum age are never expired
	if policy.MinAge > 0 {
		floor := now.Add(-policy.MinAge)
		for _, artifact := range candidates {
			if artifact.CreatedAt.After(floor) {
				keepMap[artifact.ID] = true
			}
		}
	}

	for _, artifact := range candidates {
		if keepMap[artifact.ID] {
			plan.Keep = append(plan.Keep, artifact.ID)
		} else {
			plan.Expire = append(plan.Expire, artifact.ID)
		}
	}

	sort.Strings(plan.Keep)
	sort.Strings(plan.Expire)
	return plan, nil
}

// keepPeriodic keeps the newest candidate in each of the most recent
// keepCount period buckets. Candidates must be sorted newest first.
func keepPeriodic(candidates []*Artifact, keepMap map[string]bool, keepCount int, period time.Duration, now time.Time) {
	periodBuckets := make(map[int]*Artifact)
	for _, artifact := range candidates {
		age := now.Sub(artifact.CreatedAt)
		if age < 0 {
			age = 0
		}
		periodIndex := int(age / period)
		if _, taken := periodBuckets[periodIndex]; !taken {
			// first hit is the newest of the bucket
			periodBuckets[periodIndex] = artifact
		}
	}

	periods := make([]int, 0, len(periodBuckets))
	for periodIndex := range periodBuckets {
		periods = append(periods, periodIndex)
	}
	sort.Ints(periods)

	kept := 0
	for _, periodIndex := range periods {
		if kept >= keepCount {
			break
		}
		keepMap[periodBuckets[periodIndex].ID] = true
		kept++
	}
}
