package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/recon"
	"github.com/meridian-erp/meridian-erp/internal/wht"
)

// DocumentRecomputer rebuilds the derived fields of one reconciliation document.
type DocumentRecomputer interface {
	RecomputeDocument(ctx context.Context, documentID int64) (*recon.Document, error)
}

// ReconRecomputeJob processes document recompute tasks.
type ReconRecomputeJob struct {
	service DocumentRecomputer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReconRecomputeJob constructs a job handler.
func NewReconRecomputeJob(service DocumentRecomputer, logger *slog.Logger, metrics *observability.Metrics) *ReconRecomputeJob {
	return &ReconRecomputeJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ReconRecomputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ReconRecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.DocumentID == 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("recon")
	_, err := j.service.RecomputeDocument(ctx, payload.DocumentID)
	err = tracker.End(err)
	if err != nil {
		if errors.Is(err, recon.ErrRoundingInvariant) {
			j.metrics.RoundingViolation("recon")
		}
		if j.logger != nil {
			j.logger.Error("document recompute", slog.Int64("document_id", payload.DocumentID), slog.Any("error", err))
		}
		// An approved document no longer recomputes; retrying cannot help.
		if errors.Is(err, recon.ErrDocumentImmutable) || errors.Is(err, recon.ErrDocumentNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// FilingRecomputer rebuilds the derived fields of one filing.
type FilingRecomputer interface {
	RecomputeFiling(ctx context.Context, filingID int64) (*wht.Filing, error)
}

// FilingRebuildJob processes filing rebuild tasks.
type FilingRebuildJob struct {
	service FilingRecomputer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFilingRebuildJob constructs a job handler.
func NewFilingRebuildJob(service FilingRecomputer, logger *slog.Logger, metrics *observability.Metrics) *FilingRebuildJob {
	return &FilingRebuildJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *FilingRebuildJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload FilingRebuildPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.FilingID == 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("wht")
	_, err := j.service.RecomputeFiling(ctx, payload.FilingID)
	err = tracker.End(err)
	if err != nil {
		if errors.Is(err, wht.ErrRoundingInvariant) {
			j.metrics.RoundingViolation("wht")
		}
		if j.logger != nil {
			j.logger.Error("filing rebuild", slog.Int64("filing_id", payload.FilingID), slog.Any("error", err))
		}
		if errors.Is(err, wht.ErrFilingImmutable) || errors.Is(err, wht.ErrFilingNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}
