package database

import (
	"context"
	"testing"
	"time"

	"tablewatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueueLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.OutboundTask{
		TaskType: "notification",
		WatchID:  1,
		Payload:  `{"channel":"email"}`,
		Status:   "pending",
	}
	require.NoError(t, db.CreateOutboundTask(ctx, task))
	require.NotZero(t, task.ID)

	pending, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].ID)

	require.NoError(t, db.UpdateOutboundTaskStatus(ctx, task.ID, "completed", "", nil))

	pending, err = db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboundQueue_RetryBackoff(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.OutboundTask{TaskType: "notification", WatchID: 2, Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateOutboundTask(ctx, task))

	future := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateOutboundTaskStatus(ctx, task.ID, "retry", "smtp 451", &future))

	// backoff not elapsed yet
	pending, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, db.UpdateOutboundTaskStatus(ctx, task.ID, "retry", "smtp 451", &past))

	pending, err = db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	assert.Equal(t, "smtp 451", pending[0].LastError)
}

func TestPurgeOutbound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	done := &models.OutboundTask{TaskType: "notification", WatchID: 3, Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateOutboundTask(ctx, done))
	require.NoError(t, db.UpdateOutboundTaskStatus(ctx, done.ID, "completed", "", nil))

	live := &models.OutboundTask{TaskType: "notification", WatchID: 4, Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateOutboundTask(ctx, live))

	n, err := db.PurgeOutbound(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only terminal rows are purged")

	pending, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
