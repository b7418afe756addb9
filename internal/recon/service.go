package recon

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

// lockModule scopes document lock keys and approval records.
const lockModule = "recon"

var validate = validator.New(validator.WithRequiredStructEnabled())

// RepositoryPort describes the persistence the service needs.
type RepositoryPort interface {
	Create(ctx context.Context, doc *Document) (*Document, error)
	Get(ctx context.Context, id int64) (*Document, error)
	GetByIdentity(ctx context.Context, accountID int64, periodKey string) (*Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	AddLines(ctx context.Context, documentID int64, lines []StatementLine) error
	RemoveLine(ctx context.Context, documentID, lineID int64) error
	SetLineMatchStatus(ctx context.Context, documentID, lineID int64, status MatchStatus) error
	SetClosingLedgerBalance(ctx context.Context, documentID int64, balance float64) error
	ReplaceDerived(ctx context.Context, documentID int64, summary Summary) error
	SaveTransition(ctx context.Context, doc *Document) error
}

// AuditPort records document mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records workflow steps.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Locker serializes writers per document identity.
type Locker interface {
	Acquire(ctx context.Context, module string, documentID int64) (func(context.Context) error, error)
}

// ListFilter narrows document listings.
type ListFilter struct {
	AccountID  int64
	FiscalYear int
	Status     Status
}

// CreateDocumentInput captures a new reconciliation document.
type CreateDocumentInput struct {
	AccountID            int64     `validate:"required"`
	PeriodKey            string    `validate:"required"`
	FiscalYear           int       `validate:"required"`
	PeriodStart          time.Time `validate:"required"`
	PeriodEnd            time.Time `validate:"required"`
	OpeningBankBalance   float64
	ClosingBankBalance   float64
	OpeningLedgerBalance float64
	ClosingLedgerBalance float64
	ActorID              int64 `validate:"required"`
}

// Validate applies cross-field rules on top of the struct tags.
func (in CreateDocumentInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("recon: invalid document input: %w", err)
	}
	if in.PeriodStart.After(in.PeriodEnd) {
		return errors.New("recon: period start cannot be after period end")
	}
	return nil
}

// LineInput captures one statement line from the ingestion collaborator.
// Zero amounts are legal; the amount check is explicit because the validator
// would treat 0 as a missing value.
type LineInput struct {
	Amount      float64
	EntryDate   time.Time `validate:"required"`
	Description string
	Reference   string
	CategoryTag string
	GLPosted    bool
}

// Validate rejects malformed lines before classification.
func (in LineInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("recon: invalid statement line: %w", err)
	}
	if !centPrecision(in.Amount) {
		return errors.New("recon: statement line amount must have at most two decimal places")
	}
	return nil
}

// centPrecision reports whether v carries no fraction below one cent.
func centPrecision(v float64) bool {
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// Service coordinates mutations, recomputation and the approval workflow for
// reconciliation documents.
type Service struct {
	repo      RepositoryPort
	ledger    ledger.BalanceReader
	approvals ApprovalPort
	audit     AuditPort
	locker    Locker
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, balances ledger.BalanceReader, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: balances, logger: logger, now: time.Now}
}

// WithApprovals injects the approval recorder.
func (s *Service) WithApprovals(approvals ApprovalPort) { s.approvals = approvals }

// WithAudit injects the audit logger.
func (s *Service) WithAudit(audit AuditPort) { s.audit = audit }

// WithLocker injects the per-document writer lock.
func (s *Service) WithLocker(locker Locker) { s.locker = locker }

// WithMetrics injects the engine collectors.
func (s *Service) WithMetrics(metrics *observability.Metrics) { s.metrics = metrics }

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateDocument opens a draft document for an (account, period) pair.
func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (*Document, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if existing, err := s.repo.GetByIdentity(ctx, input.AccountID, input.PeriodKey); err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return nil, err
	} else if existing != nil {
		return nil, ErrDuplicateDocument
	}
	now := s.now()
	doc := &Document{
		RefID:                uuid.New(),
		AccountID:            input.AccountID,
		PeriodKey:            input.PeriodKey,
		FiscalYear:           input.FiscalYear,
		PeriodStart:          input.PeriodStart,
		PeriodEnd:            input.PeriodEnd,
		OpeningBankBalance:   input.OpeningBankBalance,
		ClosingBankBalance:   input.ClosingBankBalance,
		OpeningLedgerBalance: input.OpeningLedgerBalance,
		ClosingLedgerBalance: input.ClosingLedgerBalance,
		Status:               StatusDraft,
		CreatedBy:            input.ActorID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := Recompute(doc); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "recon.document.create", created, nil)
	return created, nil
}

// AddStatementLines ingests a batch of lines and recomputes the document.
func (s *Service) AddStatementLines(ctx context.Context, documentID int64, inputs []LineInput, actorID int64) (*Document, error) {
	if len(inputs) == 0 {
		return nil, errors.New("recon: at least one statement line required")
	}
	lines := make([]StatementLine, 0, len(inputs))
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		lines = append(lines, StatementLine{
			Amount:      in.Amount,
			EntryDate:   in.EntryDate,
			Description: in.Description,
			Reference:   in.Reference,
			CategoryTag: in.CategoryTag,
			MatchStatus: MatchUnmatched,
			GLPosted:    in.GLPosted,
			CreatedAt:   s.now(),
		})
	}
	doc, err := s.mutate(ctx, documentID, func(ctx context.Context, doc *Document) error {
		return s.repo.AddLines(ctx, documentID, lines)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "recon.lines.add", doc, map[string]any{"count": len(lines)})
	return doc, nil
}

// RemoveStatementLine drops a line and recomputes the document.
func (s *Service) RemoveStatementLine(ctx context.Context, documentID, lineID, actorID int64) (*Document, error) {
	doc, err := s.mutate(ctx, documentID, func(ctx context.Context, doc *Document) error {
		return s.repo.RemoveLine(ctx, documentID, lineID)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "recon.lines.remove", doc, map[string]any{"line_id": lineID})
	return doc, nil
}

// SetLineMatchStatus updates a line's match status and recomputes. Marking a
// line EXCLUDED takes it out of every bucket and balance term.
func (s *Service) SetLineMatchStatus(ctx context.Context, documentID, lineID int64, status MatchStatus, actorID int64) (*Document, error) {
	switch status {
	case MatchUnmatched, MatchMatched, MatchPartial, MatchExcluded:
	default:
		return nil, fmt.Errorf("recon: unknown match status %q", status)
	}
	doc, err := s.mutate(ctx, documentID, func(ctx context.Context, doc *Document) error {
		return s.repo.SetLineMatchStatus(ctx, documentID, lineID, status)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "recon.lines.match", doc, map[string]any{"line_id": lineID, "status": string(status)})
	return doc, nil
}

// RefreshLedgerBalance fetches the posted ledger balance as of period end and
// recomputes. A ledger outage aborts the refresh; the previous balance is
// kept and the error surfaced.
func (s *Service) RefreshLedgerBalance(ctx context.Context, documentID, actorID int64) (*Document, error) {
	var balance float64
	doc, err := s.mutate(ctx, documentID, func(ctx context.Context, doc *Document) error {
		fetched, err := s.ledger.PostedBalance(ctx, doc.AccountID, doc.PeriodEnd)
		if err != nil {
			s.metrics.LedgerFetchFailure()
			return err
		}
		balance = fetched
		return s.repo.SetClosingLedgerBalance(ctx, documentID, fetched)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "recon.ledger.refresh", doc, map[string]any{"closing_ledger_balance": balance})
	return doc, nil
}

// RecomputeDocument replays the full derivation for a document. Used by the
// background worker after bulk ingest.
func (s *Service) RecomputeDocument(ctx context.Context, documentID int64) (*Document, error) {
	return s.mutate(ctx, documentID, func(ctx context.Context, doc *Document) error {
		return nil
	})
}

// Advance requests a workflow transition. The current status must be the
// exact predecessor of the target; anything else is rejected with
// ErrInvalidTransition and the document is left untouched.
func (s *Service) Advance(ctx context.Context, documentID int64, target Status, actorID int64, note string) (*Document, error) {
	if actorID == 0 {
		return nil, errors.New("recon: actor required")
	}
	release, err := s.acquireLock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := Advance(doc, target, actorID, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveTransition(ctx, doc); err != nil {
		return nil, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  lockModule,
			RefID:   doc.RefID,
			ActorID: actorID,
			Action:  approvalAction(target),
			Note:    note,
			At:      s.now(),
		})
	}
	s.recordAudit(ctx, actorID, "recon.document.advance", doc, map[string]any{"status": string(target)})
	return doc, nil
}

// Get loads a document with its lines and derived summary.
func (s *Service) Get(ctx context.Context, documentID int64) (*Document, error) {
	return s.repo.Get(ctx, documentID)
}

// List returns documents matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	return s.repo.List(ctx, filter)
}

// mutate runs fn under the document lock, then reloads the full record set,
// recomputes every derived field from scratch and replaces the stored
// summary. Approved documents reject all mutation.
func (s *Service) mutate(ctx context.Context, documentID int64, fn func(context.Context, *Document) error) (*Document, error) {
	release, err := s.acquireLock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	doc, err := s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusApproved {
		return nil, ErrDocumentImmutable
	}
	if err := fn(ctx, doc); err != nil {
		return nil, err
	}
	doc, err = s.repo.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := Recompute(doc); err != nil {
		if s.logger != nil {
			s.logger.Error("recompute failed", slog.Int64("document_id", documentID), slog.Any("error", err))
		}
		return nil, err
	}
	if err := s.repo.ReplaceDerived(ctx, documentID, doc.Summary); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) acquireLock(ctx context.Context, documentID int64) (func(context.Context) error, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	return s.locker.Acquire(ctx, lockModule, documentID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc *Document, meta map[string]any) {
	if s.audit == nil || doc == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "recon_document",
		EntityID: fmt.Sprintf("%d", doc.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func approvalAction(target Status) shared.ApprovalAction {
	switch target {
	case StatusInProgress:
		return shared.ApprovalPrepare
	case StatusCompleted:
		return shared.ApprovalReview
	default:
		return shared.ApprovalApprove
	}
}
