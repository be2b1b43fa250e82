package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinlink/models"
)

func seedReward(t *testing.T, f *fixture, userID, code string, expiresIn time.Duration) *models.Reward {
	t.Helper()
	r := &models.Reward{
		UserID:    userID,
		Type:      models.RewardAchievement,
		Code:      code,
		Title:     code,
		Value:     10,
		CreatedAt: f.clock.Now().UTC(),
		UpdatedAt: f.clock.Now().UTC(),
	}
	if expiresIn != 0 {
		exp := f.clock.Now().UTC().Add(expiresIn)
		r.ExpiresAt = &exp
	}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func TestClaimReward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := seedReward(t, f, "alice", "first-connection", 24*time.Hour)

	_, err := f.rewards.ClaimReward(ctx, "bob", r.ID)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	claimed, err := f.rewards.ClaimReward(ctx, "alice", r.ID)
	require.NoError(t, err)
	assert.True(t, claimed.Claimed)
	require.NotNil(t, claimed.ClaimedAt)

	_, err = f.rewards.ClaimReward(ctx, "alice", r.ID)
	assert.True(t, errors.Is(err, ErrRewardUnavailable), "a reward is claimed once")

	_, err = f.rewards.ClaimReward(ctx, "alice", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestExpireRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short := seedReward(t, f, "alice", "short", time.Hour)
	seedReward(t, f, "alice", "long", 48*time.Hour)
	seedReward(t, f, "alice", "forever", 0)

	f.clock.Advance(2 * time.Hour)

	_, err := f.rewards.ClaimReward(ctx, "alice", short.ID)
	assert.True(t, errors.Is(err, ErrRewardUnavailable), "past expiry even before the job runs")

	n, err := f.rewards.ExpireRewards(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.rewards.ExpireRewards(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err := f.rewards.ListRewards(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	all, err := f.rewards.ListRewards(ctx, "alice", true)
	require.NoError(t, err)
	assert.Len(t, all, 3, "expired rewards are kept")
}
