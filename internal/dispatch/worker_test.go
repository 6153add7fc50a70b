package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tablewatch/internal/database"
	"tablewatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmail struct {
	mu     sync.Mutex
	sent   []string
	failN  int
	called int
}

func (f *fakeEmail) SendEmail(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.called <= f.failN {
		return errors.New("smtp 451 temporary")
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func newTestWorker(t *testing.T, transports Transports, redisClient *redis.Client, retry RetryPolicy) (*Worker, *database.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWorker(db, transports, redisClient, retry, zerolog.Nop()), db
}

func emailPayload(watchID int64) models.NotificationPayload {
	return models.NotificationPayload{
		WatchID:   watchID,
		UserID:    1,
		Channel:   models.ChannelEmail,
		Recipient: "user@hungry.dev",
		Subject:   "Available",
		Body:      "A table opened up.",
	}
}

func TestEnqueueAndProcess_Success(t *testing.T) {
	email := &fakeEmail{}
	w, db := newTestWorker(t, Transports{Email: email}, nil, RetryPolicy{})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(7)))

	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	assert.Equal(t, []string{"user@hungry.dev"}, email.sent)

	pending, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	recs, err := db.ListNotifications(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.NotifySent, recs[0].Status)
}

func TestProcessTask_RetrySchedulesBackoff(t *testing.T) {
	email := &fakeEmail{failN: 1}
	w, db := newTestWorker(t, Transports{Email: email}, nil, RetryPolicy{MaxRetries: 3})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(8)))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)

	w.processTask(ctx, &task)
	assert.Empty(t, email.sent)

	// the row is parked in retry with a future next_retry_at
	pending, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "backoff keeps the task out of the ready set")

	// no sent record yet; a retry row must not suppress future notifications
	suppressed, err := db.WasRecentlySent(ctx, 8, models.ChannelEmail, time.Hour)
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestProcessTask_ExhaustedRetriesFail(t *testing.T) {
	email := &fakeEmail{failN: 100}
	w, db := newTestWorker(t, Transports{Email: email}, nil, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(9)))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)

	w.processTask(ctx, &task)

	recs, err := db.ListNotifications(ctx, 9, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.NotifyFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "smtp 451")
}

func TestProcessTask_UnconfiguredChannel(t *testing.T) {
	w, db := newTestWorker(t, Transports{}, nil, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	payload := models.NotificationPayload{
		WatchID: 10, UserID: 1, Channel: models.ChannelSMS, Recipient: "+15550001111", Body: "hi",
	}
	require.NoError(t, w.EnqueueNotification(ctx, payload))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)

	w.processTask(ctx, &task)

	recs, err := db.ListNotifications(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.NotifyFailed, recs[0].Status)
}

func TestEnqueueValidation(t *testing.T) {
	w, _ := newTestWorker(t, Transports{}, nil, RetryPolicy{})
	ctx := context.Background()

	err := w.EnqueueNotification(ctx, models.NotificationPayload{WatchID: 1, Recipient: "a@b.com"})
	assert.Error(t, err, "channel required")

	err = w.EnqueueNotification(ctx, models.NotificationPayload{Channel: models.ChannelEmail, WatchID: 1})
	assert.Error(t, err, "recipient required")
}

func TestEnqueue_PrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	w, _ := newTestWorker(t, Transports{}, client, RetryPolicy{})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(11)))

	n, err := client.LLen(ctx, "notify:queue").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := w.tryLocalQueue()
	assert.False(t, ok, "task went to redis, not the channel")

	task, ok := w.tryRedis(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(11), task.WatchID)
}

func TestFailedTaskLandsInDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	email := &fakeEmail{failN: 100}
	w, _ := newTestWorker(t, Transports{Email: email}, client, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(12)))
	task, ok := w.tryRedis(ctx)
	require.True(t, ok)

	w.processTask(ctx, &task)

	n, err := client.LLen(ctx, "notify:deadletter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessTask_StaleRedisCopySkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	email := &fakeEmail{}
	w, db := newTestWorker(t, Transports{Email: email}, client, RetryPolicy{})
	ctx := context.Background()

	require.NoError(t, w.EnqueueNotification(ctx, emailPayload(14)))

	// the polling path races the redis copy and wins
	tasks, err := db.GetPendingOutboundTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	w.processTask(ctx, &tasks[0])
	assert.Equal(t, []string{"user@hungry.dev"}, email.sent)

	// the redis copy of the same task surfaces afterwards
	stale, ok := w.tryRedis(ctx)
	require.True(t, ok)
	require.Equal(t, tasks[0].ID, stale.ID)
	w.processTask(ctx, &stale)

	assert.Len(t, email.sent, 1, "completed task is not re-delivered")
	recs, err := db.ListNotifications(ctx, 14, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStartDrainsAndStops(t *testing.T) {
	sms := &fakeSMS{}
	w, _ := newTestWorker(t, Transports{SMS: sms}, nil, RetryPolicy{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, w.EnqueueNotification(ctx, models.NotificationPayload{
		WatchID: 13, UserID: 1, Channel: models.ChannelSMS, Recipient: "+15550002222", Body: "table!",
	}))

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sms.mu.Lock()
		defer sms.mu.Unlock()
		return len(sms.sent) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}
