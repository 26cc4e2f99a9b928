package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/metrics"
	"garagehub/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the persisted side of the queue.
type Store interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	ClaimSyncTask(ctx context.Context, id int64) (bool, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	ResetStuckTasks(ctx context.Context) (int64, error)
}

// taskPayload is persisted in SyncTask.Payload as JSON.
type taskPayload struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    string          `json:"status,omitempty"`
}

type Options struct {
	QueueKey      string
	DeadLetterKey string
	PollInterval  time.Duration
	BatchSize     int
}

// TaskWorker delivers customer notifications and spreadsheet sync for
// bookings. Tasks are persisted first, then handed over through redis when
// available or an in-process channel otherwise; a poller picks up retries and
// anything the fast paths dropped.
type TaskWorker struct {
	store         Store
	notifier      domain.Notifier
	sheets        domain.SheetsWriter
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

// NewTaskWorker builds a worker. A nil notifier or sheets writer disables the
// corresponding task types.
func NewTaskWorker(
	store Store,
	notifier domain.Notifier,
	sheets domain.SheetsWriter,
	redisClient *redis.Client,
	retry RetryPolicy,
	opts Options,
	logger *zerolog.Logger,
) *TaskWorker {
	if opts.QueueKey == "" {
		opts.QueueKey = "garagehub:tasks"
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = opts.QueueKey + ":deadletter"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "task_worker").Logger()
	}

	return &TaskWorker{
		store:         store,
		notifier:      notifier,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		redisQueueKey: opts.QueueKey,
		deadLetterKey: opts.DeadLetterKey,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        base,
	}
}

// Supports reports whether a handler is configured for taskType.
func (w *TaskWorker) Supports(taskType string) bool {
	switch taskType {
	case models.TaskNotifyStatus:
		return w.notifier != nil
	case models.TaskSheetUpsert, models.TaskSheetStatus:
		return w.sheets != nil
	default:
		return false
	}
}

// EnqueueTask persists task to DB and schedules it via redis or in-memory
// queue. Task types without a configured handler are skipped silently.
func (w *TaskWorker) EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if bookingID == 0 && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}
	if !w.Supports(taskType) {
		w.logger.Debug().Str("type", taskType).Int64("booking_id", bookingID).Msg("no handler configured, task skipped")
		return nil
	}

	payloadBytes, err := json.Marshal(taskPayload{BookingID: bookingID, Booking: booking, Status: status})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.TaskStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist task: %w", err)
	}

	if w.redis != nil {
		err := w.pushList(ctx, w.redisQueueKey, task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *TaskWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("task worker started")
	defer w.logger.Info().Msg("task worker stopped")

	if n, err := w.store.ResetStuckTasks(ctx); err != nil {
		w.logger.Error().Err(err).Msg("reset stuck tasks")
	} else if n > 0 {
		w.logger.Warn().Int64("count", n).Msg("requeued tasks left in processing")
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce processes whatever is immediately available and reports whether
// any task was handled.
func (w *TaskWorker) RunOnce(ctx context.Context) bool {
	if t, ok := w.tryLocalQueue(); ok {
		w.processTask(ctx, &t)
		return true
	}

	if t, ok := w.tryRedis(ctx); ok {
		w.processTask(ctx, &t)
		return true
	}

	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending tasks")
		return false
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks) > 0
}

func (w *TaskWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *TaskWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *TaskWorker) processTask(ctx context.Context, task *models.SyncTask) {
	claimed, err := w.store.ClaimSyncTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim task")
		return
	}
	if !claimed {
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handle(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncWorkerTask(task.TaskType, "ok")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *TaskWorker) handle(ctx context.Context, taskType string, payload taskPayload) error {
	switch taskType {
	case models.TaskNotifyStatus:
		if w.notifier == nil {
			return errors.New("notifier not configured")
		}
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.notifier.NotifyStatus(ctx, payload.Booking)
	case models.TaskSheetUpsert:
		if w.sheets == nil {
			return errors.New("sheets not configured")
		}
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.sheets.UpsertBooking(ctx, payload.Booking)
	case models.TaskSheetStatus:
		if w.sheets == nil {
			return errors.New("sheets not configured")
		}
		if payload.BookingID == 0 || payload.Status == "" {
			return errors.New("booking id or status missing")
		}
		return w.sheets.UpdateBookingStatus(ctx, payload.BookingID, payload.Status)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *TaskWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncWorkerTask(task.TaskType, "retry")
	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("task failed, will retry")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusPending, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *TaskWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncWorkerTask(task.TaskType, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("type", task.TaskType).Msg("task failed permanently")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	if w.redis != nil {
		if err := w.pushList(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
}

func decodePayload(raw string) (taskPayload, error) {
	var payload taskPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *TaskWorker) pushList(ctx context.Context, key string, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
