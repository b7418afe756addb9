package wht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// lockModule scopes document lock keys, approval records and idempotency keys.
const lockModule = "wht"

var validate = validator.New(validator.WithRequiredStructEnabled())

// RepositoryPort describes the persistence the service needs.
type RepositoryPort interface {
	Create(ctx context.Context, filing *Filing) (*Filing, error)
	Get(ctx context.Context, id int64) (*Filing, error)
	GetByIdentity(ctx context.Context, companyID int64, filingType, periodKey string) (*Filing, error)
	List(ctx context.Context, filter ListFilter) ([]Filing, error)
	AddRecords(ctx context.Context, filingID int64, records []TaxRecord) error
	RemoveRecord(ctx context.Context, filingID, recordID int64) error
	ReplaceDerived(ctx context.Context, filingID int64, summary Summary) error
	SaveTransition(ctx context.Context, filing *Filing) error
	SavePostingOutcome(ctx context.Context, filingID int64, outcome PostingOutcome) error
}

// AuditPort records filing mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records workflow steps. Submission uses the dedicated
// EnsureSubmit so a retried submit call cannot double-log the step.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
}

// IdempotencyPort guards the at-most-once posting side effect.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Locker serializes writers per filing identity.
type Locker interface {
	Acquire(ctx context.Context, module string, documentID int64) (func(context.Context) error, error)
}

// ListFilter narrows filing listings.
type ListFilter struct {
	CompanyID  int64
	FilingType string
	Status     Status
}

// CreateFilingInput captures a new filing.
type CreateFilingInput struct {
	CompanyID   int64     `validate:"required"`
	FilingType  string    `validate:"required"`
	PeriodKey   string    `validate:"required"`
	PeriodStart time.Time `validate:"required"`
	PeriodEnd   time.Time `validate:"required"`
	DueDate     time.Time `validate:"required"`
	ActorID     int64     `validate:"required"`
}

// Validate applies cross-field rules on top of the struct tags.
func (in CreateFilingInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("wht: invalid filing input: %w", err)
	}
	if in.PeriodStart.After(in.PeriodEnd) {
		return errors.New("wht: period start cannot be after period end")
	}
	return nil
}

// RecordInput captures one withholding record from the ingestion collaborator.
// Zero gross amounts are legal; the amount checks are explicit because the
// validator would treat 0 as a missing value.
type RecordInput struct {
	Origin         Origin  `validate:"required"`
	GrossAmount    float64 `validate:"gte=0"`
	WithheldAmount float64 `validate:"gte=0"`
	PaidAt         time.Time `validate:"required"`
	Description    string
	Reference      string
	SectionTag     string
}

// Validate rejects malformed records before classification.
func (in RecordInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("wht: invalid tax record: %w", err)
	}
	switch in.Origin {
	case OriginVendorPayment, OriginPayrollRun:
	default:
		return fmt.Errorf("wht: unknown record origin %q", in.Origin)
	}
	if !centPrecision(in.GrossAmount) {
		return errors.New("wht: gross amount must have at most two decimal places")
	}
	if !centPrecision(in.WithheldAmount) {
		return errors.New("wht: withheld amount must have at most two decimal places")
	}
	return nil
}

// centPrecision reports whether v carries no fraction below one cent.
func centPrecision(v float64) bool {
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// PaymentMetadata describes the deposit made to the authority on submission.
type PaymentMetadata struct {
	Amount           float64   `validate:"required,gt=0"`
	PaymentRef       string    `validate:"required"`
	PaidAt           time.Time `validate:"required"`
	BankAccountID    int64     `validate:"required"`
	PayableAccountID int64     `validate:"required"`
}

// SubmitInput requests the submit transition, optionally with payment
// metadata that triggers the ledger-posting side effect.
type SubmitInput struct {
	FilingID int64 `validate:"required"`
	ActorID  int64 `validate:"required"`
	Note     string
	Payment  *PaymentMetadata
}

// Validate checks the request including nested payment metadata.
func (in SubmitInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("wht: invalid submit input: %w", err)
	}
	if in.Payment != nil && !centPrecision(in.Payment.Amount) {
		return errors.New("wht: payment amount must have at most two decimal places")
	}
	return nil
}

// Service coordinates mutations, recomputation and the filing workflow,
// including the fire-and-record ledger posting on submission.
type Service struct {
	repo        RepositoryPort
	poster      ledger.Poster
	idempotency IdempotencyPort
	approvals   ApprovalPort
	audit       AuditPort
	locker      Locker
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, poster ledger.Poster, logger *slog.Logger) *Service {
	return &Service{repo: repo, poster: poster, logger: logger, now: time.Now}
}

// WithIdempotency injects the at-most-once posting guard.
func (s *Service) WithIdempotency(store IdempotencyPort) { s.idempotency = store }

// WithApprovals injects the approval recorder.
func (s *Service) WithApprovals(approvals ApprovalPort) { s.approvals = approvals }

// WithAudit injects the audit logger.
func (s *Service) WithAudit(audit AuditPort) { s.audit = audit }

// WithLocker injects the per-filing writer lock.
func (s *Service) WithLocker(locker Locker) { s.locker = locker }

// WithMetrics injects the engine collectors.
func (s *Service) WithMetrics(metrics *observability.Metrics) { s.metrics = metrics }

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFiling opens a draft filing for a (company, type, period) triple.
func (s *Service) CreateFiling(ctx context.Context, input CreateFilingInput) (*Filing, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if existing, err := s.repo.GetByIdentity(ctx, input.CompanyID, input.FilingType, input.PeriodKey); err != nil && !errors.Is(err, ErrFilingNotFound) {
		return nil, err
	} else if existing != nil {
		return nil, ErrDuplicateFiling
	}
	now := s.now()
	filing := &Filing{
		RefID:       uuid.New(),
		CompanyID:   input.CompanyID,
		FilingType:  input.FilingType,
		PeriodKey:   input.PeriodKey,
		PeriodStart: input.PeriodStart,
		PeriodEnd:   input.PeriodEnd,
		DueDate:     input.DueDate,
		Status:      StatusDraft,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := Recompute(filing); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, filing)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "wht.filing.create", created, nil)
	return created, nil
}

// AddRecords ingests a batch of withholding records and recomputes.
func (s *Service) AddRecords(ctx context.Context, filingID int64, inputs []RecordInput, actorID int64) (*Filing, error) {
	if len(inputs) == 0 {
		return nil, errors.New("wht: at least one tax record required")
	}
	records := make([]TaxRecord, 0, len(inputs))
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		records = append(records, TaxRecord{
			Origin:         in.Origin,
			GrossAmount:    in.GrossAmount,
			WithheldAmount: in.WithheldAmount,
			PaidAt:         in.PaidAt,
			Description:    in.Description,
			Reference:      in.Reference,
			SectionTag:     in.SectionTag,
			CreatedAt:      s.now(),
		})
	}
	filing, err := s.mutate(ctx, filingID, func(ctx context.Context, filing *Filing) error {
		return s.repo.AddRecords(ctx, filingID, records)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "wht.records.add", filing, map[string]any{"count": len(records)})
	return filing, nil
}

// RemoveRecord drops a record and recomputes.
func (s *Service) RemoveRecord(ctx context.Context, filingID, recordID, actorID int64) (*Filing, error) {
	filing, err := s.mutate(ctx, filingID, func(ctx context.Context, filing *Filing) error {
		return s.repo.RemoveRecord(ctx, filingID, recordID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "wht.records.remove", filing, map[string]any{"record_id": recordID})
	return filing, nil
}

// RecomputeFiling replays the full derivation for a filing. Used by the
// background worker after bulk ingest.
func (s *Service) RecomputeFiling(ctx context.Context, filingID int64) (*Filing, error) {
	return s.mutate(ctx, filingID, func(ctx context.Context, filing *Filing) error {
		return nil
	})
}

// Advance requests a prepare, review or amend transition. Submission and
// acknowledgement have dedicated operations because they carry extra inputs.
func (s *Service) Advance(ctx context.Context, filingID int64, target Status, actorID int64, note string) (*Filing, error) {
	if actorID == 0 {
		return nil, errors.New("wht: actor required")
	}
	if target == StatusSubmitted {
		return nil, errors.New("wht: use Submit for the submit transition")
	}
	if target == StatusAcknowledged {
		return nil, errors.New("wht: use Acknowledge for the acknowledge transition")
	}
	release, err := s.acquireLock(ctx, filingID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	filing, err := s.repo.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if err := Advance(filing, target, actorID, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransition(ctx, filing); err != nil {
		return nil, err
	}
	s.recordApproval(ctx, filing, actorID, approvalAction(target), note)
	s.recordAudit(ctx, actorID, "wht.filing.advance", filing, map[string]any{"status": string(target)})
	return filing, nil
}

// Submit moves a reviewed filing to SUBMITTED and, when payment metadata is
// supplied, emits the ledger posting (debit withholding payable, credit
// bank). The posting is attempted at most once per filing and its failure
// never rolls back the transition: the outcome is recorded and surfaced
// separately.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Filing, *PostingOutcome, error) {
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}
	release, err := s.acquireLock(ctx, input.FilingID)
	if err != nil {
		return nil, nil, err
	}
	defer release(ctx)

	filing, err := s.repo.Get(ctx, input.FilingID)
	if err != nil {
		return nil, nil, err
	}
	if err := Advance(filing, StatusSubmitted, input.ActorID, s.now()); err != nil {
		return nil, nil, err
	}
	if input.Payment != nil {
		filing.DepositedAmount = round2(filing.DepositedAmount + input.Payment.Amount)
		filing.PaymentRef = input.Payment.PaymentRef
	}
	if err := s.repo.SaveTransition(ctx, filing); err != nil {
		return nil, nil, err
	}
	if err := Recompute(filing); err != nil {
		return nil, nil, err
	}
	if err := s.repo.ReplaceDerived(ctx, input.FilingID, filing.Summary); err != nil {
		return nil, nil, err
	}
	if s.approvals != nil {
		_ = s.approvals.EnsureSubmit(ctx, lockModule, filing.RefID, input.ActorID, input.Note)
	}
	s.recordAudit(ctx, input.ActorID, "wht.filing.submit", filing, map[string]any{"payment_ref": filing.PaymentRef})

	var outcome *PostingOutcome
	if input.Payment != nil {
		outcome = s.postDeposit(ctx, filing, *input.Payment)
		filing.SideEffect = outcome
	}
	return filing, outcome, nil
}

// Acknowledge records the authority acknowledgement. The reference is
// mandatory; without it the transition is rejected.
func (s *Service) Acknowledge(ctx context.Context, filingID int64, ackNumber string, actorID int64) (*Filing, error) {
	if actorID == 0 {
		return nil, errors.New("wht: actor required")
	}
	if ackNumber == "" {
		return nil, ErrAckReferenceRequired
	}
	release, err := s.acquireLock(ctx, filingID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	filing, err := s.repo.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if err := Advance(filing, StatusAcknowledged, actorID, s.now()); err != nil {
		return nil, err
	}
	filing.AckNumber = ackNumber
	if err := s.repo.SaveTransition(ctx, filing); err != nil {
		return nil, err
	}
	s.recordApproval(ctx, filing, actorID, shared.ApprovalAcknowledge, ackNumber)
	s.recordAudit(ctx, actorID, "wht.filing.acknowledge", filing, map[string]any{"ack_number": ackNumber})
	return filing, nil
}

// Get loads a filing with its records and derived summary.
func (s *Service) Get(ctx context.Context, filingID int64) (*Filing, error) {
	return s.repo.Get(ctx, filingID)
}

// List returns filings matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Filing, error) {
	return s.repo.List(ctx, filter)
}

// postDeposit fires the ledger posting for the deposit. At-most-once is
// enforced through the idempotency store; any failure is recorded on the
// filing, never propagated as a transition failure.
func (s *Service) postDeposit(ctx context.Context, filing *Filing, payment PaymentMetadata) *PostingOutcome {
	outcome := &PostingOutcome{Reference: filing.RefID, At: s.now()}
	if s.idempotency != nil {
		key := fmt.Sprintf("wht:post:%s", filing.RefID)
		if err := s.idempotency.CheckAndInsert(ctx, key, lockModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				outcome.Error = "posting already attempted for this filing"
			} else {
				outcome.Error = err.Error()
			}
			s.saveOutcome(ctx, filing.ID, outcome)
			return outcome
		}
	}
	outcome.Attempted = true
	if s.poster == nil {
		outcome.Error = "ledger poster not configured"
		s.metrics.PostingOutcome(false)
		s.saveOutcome(ctx, filing.ID, outcome)
		return outcome
	}
	req := ledger.PostingRequest{
		Reference: filing.RefID,
		Date:      payment.PaidAt,
		Memo:      fmt.Sprintf("WHT deposit %s %s", filing.FilingType, filing.PeriodKey),
		Lines: []ledger.EntryLine{
			{AccountID: payment.PayableAccountID, Debit: payment.Amount},
			{AccountID: payment.BankAccountID, Credit: payment.Amount},
		},
	}
	if err := s.poster.PostEntry(ctx, req); err != nil {
		outcome.Error = err.Error()
		if s.logger != nil {
			s.logger.Error("wht deposit posting failed",
				slog.Int64("filing_id", filing.ID), slog.Any("error", err))
		}
	}
	s.metrics.PostingOutcome(outcome.Error == "")
	s.saveOutcome(ctx, filing.ID, outcome)
	return outcome
}

func (s *Service) saveOutcome(ctx context.Context, filingID int64, outcome *PostingOutcome) {
	if err := s.repo.SavePostingOutcome(ctx, filingID, *outcome); err != nil && s.logger != nil {
		s.logger.Error("save posting outcome", slog.Int64("filing_id", filingID), slog.Any("error", err))
	}
}

// mutate runs fn under the filing lock, then reloads the full record set,
// recomputes every derived field from scratch and replaces the stored
// summary. Submitted and acknowledged filings reject mutation.
func (s *Service) mutate(ctx context.Context, filingID int64, fn func(context.Context, *Filing) error) (*Filing, error) {
	release, err := s.acquireLock(ctx, filingID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	filing, err := s.repo.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if !mutable(filing.Status) {
		return nil, ErrFilingImmutable
	}
	if err := fn(ctx, filing); err != nil {
		return nil, err
	}
	filing, err = s.repo.Get(ctx, filingID)
	if err != nil {
		return nil, err
	}
	if err := Recompute(filing); err != nil {
		if s.logger != nil {
			s.logger.Error("recompute failed", slog.Int64("filing_id", filingID), slog.Any("error", err))
		}
		return nil, err
	}
	if err := s.repo.ReplaceDerived(ctx, filingID, filing.Summary); err != nil {
		return nil, err
	}
	return filing, nil
}

func (s *Service) acquireLock(ctx context.Context, filingID int64) (func(context.Context) error, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.locker.Acquire(ctx, lockModule, filingID)
}

func (s *Service) recordApproval(ctx context.Context, filing *Filing, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  lockModule,
		RefID:   filing.RefID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, filing *Filing, meta map[string]any) {
	if s.audit == nil || filing == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "wht_filing",
		EntityID: fmt.Sprintf("%d", filing.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func approvalAction(target Status) shared.ApprovalAction {
	switch target {
	case StatusPrepared:
		return shared.ApprovalPrepare
	case StatusReviewed:
		return shared.ApprovalReview
	case StatusAmended:
		return shared.ApprovalAmend
	default:
		return shared.ApprovalApprove
	}
}
