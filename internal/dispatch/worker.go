// Package dispatch delivers queued notifications. Tasks are persisted to the
// outbound_queue table first, then scheduled through redis when available,
// with an in-memory channel and database polling as fallbacks, so a crash
// between enqueue and delivery never loses a notification.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tablewatch/internal/database"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskNotification = "notification"

// EmailSender delivers one rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TelegramSender delivers one chat message.
type TelegramSender interface {
	SendTelegram(ctx context.Context, chatID int64, body string) error
}

// Transports bundles the channel senders. A nil sender disables its channel.
type Transports struct {
	Email    EmailSender
	SMS      SMSSender
	Telegram TelegramSender
}

type Worker struct {
	db            *database.DB
	transports    Transports
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.OutboundTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

// NewWorker builds a dispatch worker with sane defaults.
func NewWorker(db *database.DB, transports Transports, redisClient *redis.Client, retry RetryPolicy, logger zerolog.Logger) *Worker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &Worker{
		db:            db,
		transports:    transports,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.OutboundTask, models.WorkerQueueSize),
		redisQueueKey: "notify:queue",
		deadLetterKey: "notify:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueNotification persists the payload and schedules it via redis or the
// in-memory queue.
func (w *Worker) EnqueueNotification(ctx context.Context, payload models.NotificationPayload) error {
	if payload.Channel == "" {
		return errors.New("notification channel is required")
	}
	// admin sends carry no watch, but must still have a destination
	if payload.Recipient == "" && payload.ChatID == 0 {
		return errors.New("notification recipient is required")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.OutboundTask{
		TaskType: TaskNotification,
		WatchID:  payload.WatchID,
		Payload:  string(payloadBytes),
		Status:   "pending",
	}

	if err := w.db.CreateOutboundTask(ctx, &task); err != nil {
		return fmt.Errorf("persist outbound task: %w", err)
	}

	// Redis first; the polling loop will eventually pick the row up even if
	// both fast paths fail.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches the delivery loop; stops when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("dispatch worker started")
	defer w.logger.Info().Msg("dispatch worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingOutboundTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
			time.Sleep(w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *Worker) tryLocalQueue() (models.OutboundTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboundTask{}, false
	}
}

func (w *Worker) tryRedis(ctx context.Context) (models.OutboundTask, bool) {
	if w.redis == nil {
		return models.OutboundTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.OutboundTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.OutboundTask{}, false
	}
	if len(res) != 2 {
		return models.OutboundTask{}, false
	}
	var task models.OutboundTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.OutboundTask{}, false
	}
	return task, true
}

func (w *Worker) processTask(ctx context.Context, task *models.OutboundTask) {
	// Enqueue persists the row and pushes a redis copy; the polling loop can
	// pick up the row while that copy still sits in the list. Deliver only
	// while the row is still open.
	status, err := w.db.GetOutboundTaskStatus(ctx, task.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			w.logger.Warn().Int64("task_id", task.ID).Msg("task row gone, dropping")
			return
		}
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("read task status")
		return
	}
	if status != "pending" && status != "retry" {
		w.logger.Debug().Int64("task_id", task.ID).Str("status", status).Msg("task already handled")
		return
	}

	var payload models.NotificationPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, &payload, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.deliver(ctx, payload); err != nil {
		w.retryOrFail(ctx, task, &payload, err)
		return
	}

	if err := w.db.UpdateOutboundTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	w.logResult(ctx, payload, models.NotifySent, "")
	metrics.IncNotification(payload.Channel, models.NotifySent)
}

func (w *Worker) deliver(ctx context.Context, payload models.NotificationPayload) error {
	switch payload.Channel {
	case models.ChannelEmail:
		if w.transports.Email == nil {
			return errors.New("email transport not configured")
		}
		return w.transports.Email.SendEmail(ctx, payload.Recipient, payload.Subject, payload.Body)
	case models.ChannelSMS:
		if w.transports.SMS == nil {
			return errors.New("sms transport not configured")
		}
		return w.transports.SMS.SendSMS(ctx, payload.Recipient, payload.Body)
	case models.ChannelTelegram:
		if w.transports.Telegram == nil {
			return errors.New("telegram transport not configured")
		}
		return w.transports.Telegram.SendTelegram(ctx, payload.ChatID, payload.Body)
	default:
		return fmt.Errorf("unknown channel: %s", payload.Channel)
	}
}

func (w *Worker) retryOrFail(ctx context.Context, task *models.OutboundTask, payload *models.NotificationPayload, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, payload, cause)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := w.db.UpdateOutboundTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *Worker) failTask(ctx context.Context, task *models.OutboundTask, payload *models.NotificationPayload, cause error) {
	if err := w.db.UpdateOutboundTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	if payload != nil && payload.Channel != "" {
		w.logResult(ctx, *payload, models.NotifyFailed, cause.Error())
		metrics.IncNotification(payload.Channel, models.NotifyFailed)
	}
	w.pushDeadLetter(ctx, task)
}

// logResult records the outcome in the notification log, which doubles as the
// dedup source for future cycles.
func (w *Worker) logResult(ctx context.Context, payload models.NotificationPayload, status, errMsg string) {
	rec := &models.NotificationRecord{
		WatchID:      payload.WatchID,
		UserID:       payload.UserID,
		Channel:      payload.Channel,
		Recipient:    payload.Recipient,
		Subject:      payload.Subject,
		Body:         payload.Body,
		Status:       status,
		ErrorMessage: errMsg,
	}
	if err := w.db.LogNotification(ctx, rec); err != nil {
		w.logger.Error().Err(err).Int64("watch_id", payload.WatchID).Msg("log notification")
	}
}

func (w *Worker) pushRedis(ctx context.Context, task models.OutboundTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *Worker) pushDeadLetter(ctx context.Context, task *models.OutboundTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
