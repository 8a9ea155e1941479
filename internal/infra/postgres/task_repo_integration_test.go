//go:build integration

package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/task"
)

func TestTaskRepository_Lifecycle(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewTaskRepository(testDB.Pool)

	tk := task.New(userID, "sync_kucoin")
	require.NoError(t, repo.Add(ctx, tk))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, tk.Start(now))
	require.NoError(t, repo.Update(ctx, tk))
	require.NoError(t, tk.Succeed(now.Add(time.Second), "10 novas transações"))
	require.NoError(t, repo.Update(ctx, tk))

	got, err := repo.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSuccess, got.State)
	assert.Equal(t, "10 novas transações", got.DisplayText)
	require.NotNil(t, got.FinishedAt)
}

func TestTaskRepository_UpdateMissing(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewTaskRepository(testDB.Pool)

	tk := task.New(userID, "update_prices")
	err := repo.Update(ctx, tk)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskRepository_NotificationCycle(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewTaskRepository(testDB.Pool)

	first := task.New(userID, "sync_binance")
	second := task.New(userID, "update_prices")
	require.NoError(t, repo.Add(ctx, first))
	require.NoError(t, repo.Add(ctx, second))

	pending, err := repo.ListUnnotified(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	now := time.Now().UTC()
	require.NoError(t, repo.MarkNotified(ctx, userID, []uuid.UUID{first.ID, second.ID}, now))

	pending, err = repo.ListUnnotified(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A later lifecycle change makes the task pending again.
	require.NoError(t, first.Start(now.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, first))

	pending, err = repo.ListUnnotified(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestTaskRepository_ExistsForMonth(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewTaskRepository(testDB.Pool)

	tk := task.New(userID, "snapshot_total_invested")
	require.NoError(t, repo.Add(ctx, tk))

	exists, err := repo.ExistsForMonth(ctx, userID, "snapshot_total_invested", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsForMonth(ctx, userID, "snapshot_total_invested", time.Now().UTC().AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, exists)
}
