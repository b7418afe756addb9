package wht

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status enumerates filing lifecycle values.
type Status string

const (
	StatusDraft        Status = "DRAFT"
	StatusPrepared     Status = "PREPARED"
	StatusReviewed     Status = "REVIEWED"
	StatusSubmitted    Status = "SUBMITTED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusAmended      Status = "AMENDED"
)

// Section enumerates the closed set of withholding sections. Every tax
// record lands in exactly one of these.
type Section string

const (
	Section153_1A Section = "SECTION_153_1A"
	Section153_1B Section = "SECTION_153_1B"
	Section153_1C Section = "SECTION_153_1C"
	Section233    Section = "SECTION_233"
	Section234    Section = "SECTION_234"
	Section235    Section = "SECTION_235"
	SectionSalary Section = "SALARY"
	SectionOther  Section = "OTHER"
)

// Sections returns the buckets in rule-priority order, catch-all last.
func Sections() []Section {
	return []Section{
		Section153_1A,
		Section153_1B,
		Section153_1C,
		Section233,
		Section234,
		Section235,
		SectionSalary,
		SectionOther,
	}
}

// ParseSection resolves an explicit section tag. Unknown tags report ok
// false so classification can fall back to text inference.
func ParseSection(s string) (Section, bool) {
	switch Section(strings.ToUpper(strings.TrimSpace(s))) {
	case Section153_1A:
		return Section153_1A, true
	case Section153_1B:
		return Section153_1B, true
	case Section153_1C:
		return Section153_1C, true
	case Section233:
		return Section233, true
	case Section234:
		return Section234, true
	case Section235:
		return Section235, true
	case SectionSalary:
		return SectionSalary, true
	case SectionOther:
		return SectionOther, true
	}
	return "", false
}

// Origin identifies where a tax record came from.
type Origin string

const (
	OriginVendorPayment Origin = "VENDOR_PAYMENT"
	OriginPayrollRun    Origin = "PAYROLL_RUN"
)

// TaxRecord is one withholding fact underlying a filing. Immutable once
// ingested; removed and re-added rather than edited.
type TaxRecord struct {
	ID             int64
	FilingID       int64
	Origin         Origin
	GrossAmount    float64
	WithheldAmount float64
	PaidAt         time.Time
	Description    string
	Reference      string
	SectionTag     string
	CreatedAt      time.Time
}

// Bucket accumulates one section. Derived; rebuilt on every recompute.
type Bucket struct {
	Count    int
	Gross    float64
	Withheld float64
}

// Totals carries the filing-level grand totals. Always equal to the sum of
// the per-section buckets, which always equal the sum of the records.
type Totals struct {
	Gross     float64
	Withheld  float64
	Deposited float64
	Variance  float64
}

// Summary carries every derived field of a filing. Replaced wholesale by
// recompute, never patched.
type Summary struct {
	Buckets map[Section]Bucket
	Totals  Totals
}

// PostingOutcome records the result of the ledger-posting side effect on
// submission. The transition is recorded even when the posting fails.
type PostingOutcome struct {
	Attempted bool
	Reference uuid.UUID
	Error     string
	At        time.Time
}

// Filing is the aggregate root for one company/filing-type/period triple.
type Filing struct {
	ID              int64
	RefID           uuid.UUID
	CompanyID       int64
	FilingType      string
	PeriodKey       string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	DueDate         time.Time
	Records         []TaxRecord
	Summary         Summary
	DepositedAmount float64
	Status          Status
	AckNumber       string
	PaymentRef      string
	PreparedBy      *int64
	PreparedAt      *time.Time
	ReviewedBy      *int64
	ReviewedAt      *time.Time
	SubmittedBy     *int64
	SubmittedAt     *time.Time
	AcknowledgedAt  *time.Time
	AmendedBy       *int64
	AmendedAt       *time.Time
	SideEffect      *PostingOutcome
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	// ErrFilingNotFound indicates missing filing.
	ErrFilingNotFound = errors.New("wht: filing not found")
	// ErrRecordNotFound indicates missing tax record.
	ErrRecordNotFound = errors.New("wht: tax record not found")
	// ErrDuplicateFiling indicates the (company, type, period) triple already has a filing.
	ErrDuplicateFiling = errors.New("wht: filing already exists for company, type and period")
	// ErrInvalidTransition indicates the requested status does not follow the current one.
	ErrInvalidTransition = errors.New("wht: invalid status transition")
	// ErrFilingImmutable indicates mutation of a submitted or acknowledged filing.
	ErrFilingImmutable = errors.New("wht: submitted filing is immutable")
	// ErrAckReferenceRequired indicates acknowledgement without an authority reference.
	ErrAckReferenceRequired = errors.New("wht: acknowledgement reference required")
	// ErrRoundingInvariant indicates section totals diverged from the record
	// totals after a recompute. This is a bug, never a recoverable condition.
	ErrRoundingInvariant = errors.New("wht: section totals do not equal record totals")
)
