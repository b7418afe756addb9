package recon

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status enumerates reconciliation document lifecycle values.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusApproved   Status = "APPROVED"
)

// MatchStatus tracks how a statement line relates to the ledger.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "UNMATCHED"
	MatchMatched   MatchStatus = "MATCHED"
	MatchPartial   MatchStatus = "PARTIALLY_MATCHED"
	MatchExcluded  MatchStatus = "EXCLUDED"
)

// Category enumerates the closed set of reconciliation buckets. Every
// classified line lands in exactly one of these.
type Category string

const (
	CategoryDepositsInTransit Category = "DEPOSITS_IN_TRANSIT"
	CategoryOutstandingChecks Category = "OUTSTANDING_CHECKS"
	CategoryBankCharges       Category = "BANK_CHARGES"
	CategoryInterestEarned    Category = "INTEREST_EARNED"
	CategoryReturnedChecks    Category = "RETURNED_CHECKS"
	CategoryErrors            Category = "ERRORS"
)

// Categories returns the buckets in rule-priority order. The catch-all
// ERRORS bucket is last.
func Categories() []Category {
	return []Category{
		CategoryDepositsInTransit,
		CategoryOutstandingChecks,
		CategoryBankCharges,
		CategoryInterestEarned,
		CategoryReturnedChecks,
		CategoryErrors,
	}
}

// ParseCategory resolves an explicit category tag. Unknown tags report ok
// false so classification can fall back to text inference.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryDepositsInTransit:
		return CategoryDepositsInTransit, true
	case CategoryOutstandingChecks:
		return CategoryOutstandingChecks, true
	case CategoryBankCharges:
		return CategoryBankCharges, true
	case CategoryInterestEarned:
		return CategoryInterestEarned, true
	case CategoryReturnedChecks:
		return CategoryReturnedChecks, true
	case CategoryErrors:
		return CategoryErrors, true
	}
	return "", false
}

// StatementLine is a bank statement fact referenced by one document. Once
// ingested the amount, date and text never change; only the match status and
// posted flag are maintained.
type StatementLine struct {
	ID          int64
	DocumentID  int64
	Amount      float64
	EntryDate   time.Time
	Description string
	Reference   string
	CategoryTag string
	MatchStatus MatchStatus
	GLPosted    bool
	CreatedAt   time.Time
}

// Bucket accumulates one category. Derived; rebuilt on every recompute.
type Bucket struct {
	Count int
	Gross float64
}

// Summary carries every derived field of a document. It is replaced
// wholesale by recompute, never patched.
type Summary struct {
	Buckets        map[Category]Bucket
	TotalAmount    float64
	AdjustedBank   float64
	AdjustedLedger float64
	Variance       float64
	Reconciled     bool
}

// Document is the aggregate root for one bank-account/period pair.
type Document struct {
	ID                   int64
	RefID                uuid.UUID
	AccountID            int64
	PeriodKey            string
	FiscalYear           int
	PeriodStart          time.Time
	PeriodEnd            time.Time
	OpeningBankBalance   float64
	ClosingBankBalance   float64
	OpeningLedgerBalance float64
	ClosingLedgerBalance float64
	Lines                []StatementLine
	Summary              Summary
	Status               Status
	PreparedBy           *int64
	PreparedAt           *time.Time
	ReviewedBy           *int64
	ReviewedAt           *time.Time
	ApprovedBy           *int64
	ApprovedAt           *time.Time
	CreatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

var (
	// ErrDocumentNotFound indicates missing document.
	ErrDocumentNotFound = errors.New("recon: document not found")
	// ErrLineNotFound indicates missing statement line.
	ErrLineNotFound = errors.New("recon: statement line not found")
	// ErrDuplicateDocument indicates the (account, period) pair already has a document.
	ErrDuplicateDocument = errors.New("recon: document already exists for account and period")
	// ErrInvalidTransition indicates the requested status does not follow the current one.
	ErrInvalidTransition = errors.New("recon: invalid status transition")
	// ErrDocumentImmutable indicates mutation of an approved document.
	ErrDocumentImmutable = errors.New("recon: approved document is immutable")
	// ErrRoundingInvariant indicates bucket sums diverged from the record sum
	// after a recompute. This is a bug, never a recoverable condition.
	ErrRoundingInvariant = errors.New("recon: bucket totals do not equal record totals")
)
