package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconRecompute replays the recompute pipeline for one
	// reconciliation document, typically after a bulk statement import.
	TaskReconRecompute = "recon:recompute"
	// TaskFilingRebuild replays the recompute pipeline for one filing.
	TaskFilingRebuild = "wht:rebuild"
	// TaskIdempotencyCleanup prunes posting guards past their retention.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// ReconRecomputePayload identifies the document to rebuild.
type ReconRecomputePayload struct {
	DocumentID int64 `json:"document_id"`
}

// NewReconRecomputeTask constructs an Asynq task for a document recompute.
func NewReconRecomputeTask(documentID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReconRecomputePayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconRecompute, body, asynq.Queue(QueueDefault)), nil
}

// FilingRebuildPayload identifies the filing to rebuild.
type FilingRebuildPayload struct {
	FilingID int64 `json:"filing_id"`
}

// NewFilingRebuildTask constructs an Asynq task for a filing rebuild.
func NewFilingRebuildTask(filingID int64) (*asynq.Task, error) {
	body, err := json.Marshal(FilingRebuildPayload{FilingID: filingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFilingRebuild, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload optionally overrides the retention window,
// expressed as a Go duration string.
type IdempotencyCleanupPayload struct {
	Retention string `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning old posting
// guards. A zero retention uses the default window.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{}
	if retention > 0 {
		payload.Retention = retention.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
