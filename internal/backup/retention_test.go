package backup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retentionArtifact(id string, createdAt time.Time, state ArtifactState) *Artifact {
	return &Artifact{
		ID:        id,
		SourceID:  "orders",
		CreatedAt: createdAt,
		State:     state,
	}
}

func TestPlanRetention_DailyBackupsOverFortyDays(t *testing.T) {
	// Forty daily backups against a 30-day window: everything inside the
	// window survives, everything older expires.
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	policy := RetentionPolicy{
		MinAge:    24 * time.Hour,
		Window:    30 * 24 * time.Hour,
		KeepDaily: 7,
	}

	var entries []*Artifact
	for i := 0; i < 40; i++ {
		createdAt := now.Add(-time.Duration(i) * 24 * time.Hour).Add(-time.Hour)
		entries = append(entries, retentionArtifact(fmt.Sprintf("orders-%02d", i), createdAt, StateVerified))
	}

	plan, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)

	assert.Len(t, plan.Keep, 30)
	assert.Len(t, plan.Expire, 10)

	keep := plan.KeepSet()
	assert.True(t, keep["orders-00"], "newest is kept")
	assert.True(t, keep["orders-29"], "last artifact inside the window is kept")
	assert.False(t, keep["orders-30"], "first artifact past the window expires")
	assert.False(t, keep["orders-39"], "oldest expires")
}

func TestPlanRetention_NewestAlwaysKept(t *testing.T) {
	// A one-hour window covers neither artifact, so only the
	// newest-survives rule stands between this policy and zero copies
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	policy := RetentionPolicy{Window: time.Hour}

	entries := []*Artifact{
		retentionArtifact("orders-old", now.Add(-90*24*time.Hour), StateVerified),
		retentionArtifact("orders-new", now.Add(-60*24*time.Hour), StateVerified),
	}

	plan, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"orders-new"}, plan.Keep)
	assert.Equal(t, []string{"orders-old"}, plan.Expire)
}

func TestPlanRetention_OnlyStoredAndVerifiedAreCandidates(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	old := now.Add(-100 * 24 * time.Hour)

	entries := []*Artifact{
		retentionArtifact("orders-pending", old, StatePending),
		retentionArtifact("orders-failed", old, StateFailed),
		retentionArtifact("orders-expiring", old, StateExpiring),
		retentionArtifact("orders-deleted", old, StateDeleted),
		retentionArtifact("orders-stored", old, StateStored),
	}

	plan, err := PlanRetention(entries, RetentionPolicy{Window: 30 * 24 * time.Hour}, now)
	require.NoError(t, err)

	// The only candidate is also the newest, so nothing expires, and the
	// non-candidate states land in the skipped set.
	assert.Equal(t, []string{"orders-stored"}, plan.Keep)
	assert.Empty(t, plan.Expire)
	assert.Equal(t, []string{"orders-deleted", "orders-expiring", "orders-failed", "orders-pending"}, plan.Skipped)
}

func TestPlanRetention_MinAgeFloor(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	policy := RetentionPolicy{MinAge: 24 * time.Hour, KeepDaily: 1}

	entries := []*Artifact{
		retentionArtifact("orders-a", now.Add(-1*time.Hour), StateVerified),
		retentionArtifact("orders-b", now.Add(-2*time.Hour), StateVerified),
		retentionArtifact("orders-c", now.Add(-48*time.Hour), StateVerified),
	}

	plan, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)

	// Both young artifacts survive the floor even though no tier keeps them
	keep := plan.KeepSet()
	assert.True(t, keep["orders-a"])
	assert.True(t, keep["orders-b"])
	assert.False(t, keep["orders-c"])
}

func TestPlanRetention_TieBreakExpiresLowerID(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	same := now.Add(-10 * 24 * time.Hour)

	entries := []*Artifact{
		retentionArtifact("orders-aaaa", same, StateVerified),
		retentionArtifact("orders-bbbb", same, StateVerified),
	}

	plan, err := PlanRetention(entries, RetentionPolicy{Window: 24 * time.Hour}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"orders-bbbb"}, plan.Keep, "higher lexicographic ID wins the tie")
	assert.Equal(t, []string{"orders-aaaa"}, plan.Expire)
}

func TestPlanRetention_GFSTiers(t *testing.T) {
	// Hourly artifacts for 3 days, then daily for 60 days. Daily and
	// weekly tiers each keep the newest artifact of their buckets.
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	policy := RetentionPolicy{
		KeepDaily:  7,
		KeepWeekly: 4,
	}

	var entries []*Artifact
	for i := 0; i < 72; i++ {
		createdAt := now.Add(-time.Duration(i) * time.Hour)
		entries = append(entries, retentionArtifact(fmt.Sprintf("orders-h%03d", i), createdAt, StateVerified))
	}
	for d := 4; d < 60; d++ {
		createdAt := now.Add(-time.Duration(d) * 24 * time.Hour)
		entries = append(entries, retentionArtifact(fmt.Sprintf("orders-d%03d", d), createdAt, StateVerified))
	}

	plan, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)
	keep := plan.KeepSet()

	// Newest hourly survives via the daily bucket for age zero
	assert.True(t, keep["orders-h000"])
	// A middle-of-day-0 hourly is redundant and expires
	assert.False(t, keep["orders-h005"])
	// Seven daily buckets, four weekly buckets, newest overall
	assert.LessOrEqual(t, len(plan.Keep), 7+4)
	assert.NotEmpty(t, plan.Expire)
}

func TestPlanRetention_PureFunction(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	policy := RetentionPolicy{Window: 30 * 24 * time.Hour, KeepDaily: 7}

	var entries []*Artifact
	for i := 0; i < 15; i++ {
		entries = append(entries, retentionArtifact(fmt.Sprintf("orders-%02d", i),
			now.Add(-time.Duration(i)*3*24*time.Hour), StateVerified))
	}

	first, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)
	second, err := PlanRetention(entries, policy, now)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same inputs produce the same plan")
	for _, entry := range entries {
		assert.NotEqual(t, StateExpiring, entry.State, "planner never mutates entries")
	}
}

func TestPlanRetention_EmptyManifest(t *testing.T) {
	plan, err := PlanRetention(nil, RetentionPolicy{KeepDaily: 7}, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, plan.Keep)
	assert.Empty(t, plan.Expire)
}

func TestPlanRetention_InvalidPolicy(t *testing.T) {
	_, err := PlanRetention(nil, RetentionPolicy{KeepDaily: -1}, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeRetention))
}
