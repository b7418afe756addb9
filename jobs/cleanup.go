package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// defaultIdempotencyRetention keeps posting guards long past any plausible
// resubmission window.
const defaultIdempotencyRetention = 30 * 24 * time.Hour

// IdempotencyCleaner prunes processed idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob processes retention tasks for the idempotency store.
type IdempotencyCleanupJob struct {
	store  IdempotencyCleaner
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs a job handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := defaultIdempotencyRetention
	if payload.Retention != "" {
		parsed, err := time.ParseDuration(payload.Retention)
		if err != nil || parsed <= 0 {
			return asynq.SkipRetry
		}
		retention = parsed
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		if j.logger != nil {
			j.logger.Error("idempotency cleanup", slog.Any("error", err))
		}
		return err
	}
	return nil
}
