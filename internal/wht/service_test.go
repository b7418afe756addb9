package wht

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	filings    map[int64]*Filing
	records    map[int64][]TaxRecord
	nextFiling int64
	nextRecord int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		filings: make(map[int64]*Filing),
		records: make(map[int64][]TaxRecord),
	}
}

func (r *memoryRepo) Create(ctx context.Context, filing *Filing) (*Filing, error) {
	for _, existing := range r.filings {
		if existing.CompanyID == filing.CompanyID && existing.FilingType == filing.FilingType && existing.PeriodKey == filing.PeriodKey {
			return nil, ErrDuplicateFiling
		}
	}
	r.nextFiling++
	stored := *filing
	stored.ID = r.nextFiling
	r.filings[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Filing, error) {
	stored, ok := r.filings[id]
	if !ok {
		return nil, ErrFilingNotFound
	}
	out := *stored
	records := make([]TaxRecord, len(r.records[id]))
	copy(records, r.records[id])
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	out.Records = records
	return &out, nil
}

func (r *memoryRepo) GetByIdentity(ctx context.Context, companyID int64, filingType, periodKey string) (*Filing, error) {
	for id, filing := range r.filings {
		if filing.CompanyID == companyID && filing.FilingType == filingType && filing.PeriodKey == periodKey {
			return r.Get(ctx, id)
		}
	}
	return nil, ErrFilingNotFound
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Filing, error) {
	var out []Filing
	for _, filing := range r.filings {
		if filter.CompanyID != 0 && filing.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && filing.Status != filter.Status {
			continue
		}
		out = append(out, *filing)
	}
	return out, nil
}

func (r *memoryRepo) AddRecords(ctx context.Context, filingID int64, records []TaxRecord) error {
	if _, ok := r.filings[filingID]; !ok {
		return ErrFilingNotFound
	}
	for _, record := range records {
		r.nextRecord++
		record.ID = r.nextRecord
		record.FilingID = filingID
		r.records[filingID] = append(r.records[filingID], record)
	}
	return nil
}

func (r *memoryRepo) RemoveRecord(ctx context.Context, filingID, recordID int64) error {
	records := r.records[filingID]
	for i, record := range records {
		if record.ID == recordID {
			r.records[filingID] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return ErrRecordNotFound
}

func (r *memoryRepo) ReplaceDerived(ctx context.Context, filingID int64, summary Summary) error {
	stored, ok := r.filings[filingID]
	if !ok {
		return ErrFilingNotFound
	}
	stored.Summary = summary
	return nil
}

func (r *memoryRepo) SaveTransition(ctx context.Context, filing *Filing) error {
	stored, ok := r.filings[filing.ID]
	if !ok {
		return ErrFilingNotFound
	}
	stored.Status = filing.Status
	stored.DepositedAmount = filing.DepositedAmount
	stored.PaymentRef = filing.PaymentRef
	stored.AckNumber = filing.AckNumber
	stored.PreparedBy, stored.PreparedAt = filing.PreparedBy, filing.PreparedAt
	stored.ReviewedBy, stored.ReviewedAt = filing.ReviewedBy, filing.ReviewedAt
	stored.SubmittedBy, stored.SubmittedAt = filing.SubmittedBy, filing.SubmittedAt
	stored.AcknowledgedAt = filing.AcknowledgedAt
	stored.AmendedBy, stored.AmendedAt = filing.AmendedBy, filing.AmendedAt
	stored.UpdatedAt = filing.UpdatedAt
	return nil
}

func (r *memoryRepo) SavePostingOutcome(ctx context.Context, filingID int64, outcome PostingOutcome) error {
	stored, ok := r.filings[filingID]
	if !ok {
		return ErrFilingNotFound
	}
	stored.SideEffect = &outcome
	return nil
}

type fakePoster struct {
	requests []ledger.PostingRequest
	err      error
}

func (p *fakePoster) PostEntry(ctx context.Context, req ledger.PostingRequest) error {
	p.requests = append(p.requests, req)
	return p.err
}

type fakeApprovals struct {
	entries []shared.ApprovalLog
}

func (f *fakeApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	f.entries = append(f.entries, log)
	return nil
}

func (f *fakeApprovals) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	for _, entry := range f.entries {
		if entry.Module == module && entry.RefID == ref && entry.Action == shared.ApprovalSubmit {
			return nil
		}
	}
	f.entries = append(f.entries, shared.ApprovalLog{
		Module: module, RefID: ref, ActorID: actorID, Action: shared.ApprovalSubmit, Note: note,
	})
	return nil
}

func (f *fakeApprovals) count(action shared.ApprovalAction) int {
	var n int
	for _, entry := range f.entries {
		if entry.Action == action {
			n++
		}
	}
	return n
}

type fakeIdempotency struct {
	seen map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	f.seen[key] = true
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *fakePoster, *fakeIdempotency) {
	t.Helper()
	repo := newMemoryRepo()
	poster := &fakePoster{}
	idem := &fakeIdempotency{}
	svc := NewService(repo, poster, slog.Default())
	svc.WithIdempotency(idem)
	svc.WithNow(func() time.Time { return time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC) })
	return svc, repo, poster, idem
}

func filingInput() CreateFilingInput {
	return CreateFilingInput{
		CompanyID:   1,
		FilingType:  "WHT_MONTHLY",
		PeriodKey:   "2025-07",
		PeriodStart: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC),
		ActorID:     21,
	}
}

func seedReviewedFiling(t *testing.T, svc *Service) *Filing {
	t.Helper()
	ctx := context.Background()
	filing, err := svc.CreateFiling(ctx, filingInput())
	require.NoError(t, err)
	filing, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: 10000.00, WithheldAmount: 700.00, PaidAt: time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), SectionTag: "SECTION_153_1A"},
		{Origin: OriginPayrollRun, GrossAmount: 4000.00, WithheldAmount: 320.00, PaidAt: time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)},
	}, 21)
	require.NoError(t, err)
	filing, err = svc.Advance(ctx, filing.ID, StatusPrepared, 21, "")
	require.NoError(t, err)
	filing, err = svc.Advance(ctx, filing.ID, StatusReviewed, 22, "")
	require.NoError(t, err)
	return filing
}

func submitInput(filingID int64) SubmitInput {
	return SubmitInput{
		FilingID: filingID,
		ActorID:  23,
		Payment: &PaymentMetadata{
			Amount:           1020.00,
			PaymentRef:       "CPR-2025-000123",
			PaidAt:           time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
			BankAccountID:    1010,
			PayableAccountID: 2310,
		},
	}
}

func TestCreateFilingUniquePerIdentity(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	filing, err := svc.CreateFiling(ctx, filingInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, filing.Status)

	_, err = svc.CreateFiling(ctx, filingInput())
	require.ErrorIs(t, err, ErrDuplicateFiling)
}

func TestAddRecordsRecomputes(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	require.Equal(t, 14000.00, filing.Summary.Totals.Gross)
	require.Equal(t, 1020.00, filing.Summary.Totals.Withheld)
	require.Equal(t, 1, filing.Summary.Buckets[Section153_1A].Count)
	require.Equal(t, 1, filing.Summary.Buckets[SectionSalary].Count)
}

func TestSubmitPostsDepositAndSettlesVariance(t *testing.T) {
	svc, _, poster, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)

	filing, outcome, err := svc.Submit(context.Background(), submitInput(filing.ID))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, filing.Status)
	require.Equal(t, "CPR-2025-000123", filing.PaymentRef)
	require.Equal(t, 0.00, filing.Summary.Totals.Variance)

	require.NotNil(t, outcome)
	require.True(t, outcome.Attempted)
	require.Empty(t, outcome.Error)
	require.Len(t, poster.requests, 1)
	req := poster.requests[0]
	require.Equal(t, int64(2310), req.Lines[0].AccountID)
	require.Equal(t, 1020.00, req.Lines[0].Debit)
	require.Equal(t, int64(1010), req.Lines[1].AccountID)
	require.Equal(t, 1020.00, req.Lines[1].Credit)
}

func TestSubmitPostingIsAtMostOnce(t *testing.T) {
	svc, _, poster, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	ctx := context.Background()

	filing, outcome, err := svc.Submit(ctx, submitInput(filing.ID))
	require.NoError(t, err)
	require.True(t, outcome.Attempted)

	// Amend and walk the filing back to reviewed; resubmission must not post
	// a second deposit entry.
	filing, err = svc.Advance(ctx, filing.ID, StatusAmended, 23, "wrong payable account")
	require.NoError(t, err)
	filing, err = svc.Advance(ctx, filing.ID, StatusPrepared, 21, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Len(t, poster.requests, 1)
}

func TestSubmitPosterFailureStillTransitions(t *testing.T) {
	svc, repo, poster, _ := newTestService(t)
	poster.err = errors.New("ledger: connection refused")
	filing := seedReviewedFiling(t, svc)

	filing, outcome, err := svc.Submit(context.Background(), submitInput(filing.ID))
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, filing.Status)
	require.True(t, outcome.Attempted)
	require.Contains(t, outcome.Error, "connection refused")

	stored, err := repo.Get(context.Background(), filing.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, stored.Status)
	require.NotNil(t, stored.SideEffect)
	require.Contains(t, stored.SideEffect.Error, "connection refused")
}

func TestSubmitIdempotencyConflictSkipsPosting(t *testing.T) {
	svc, _, poster, idem := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	idem.seen = map[string]bool{"wht:post:" + filing.RefID.String(): true}

	_, outcome, err := svc.Submit(context.Background(), submitInput(filing.ID))
	require.NoError(t, err)
	require.False(t, outcome.Attempted)
	require.Contains(t, outcome.Error, "already attempted")
	require.Empty(t, poster.requests)
}

func TestSubmitWithoutPaymentSkipsPosting(t *testing.T) {
	svc, _, poster, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)

	filing, outcome, err := svc.Submit(context.Background(), SubmitInput{FilingID: filing.ID, ActorID: 23})
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, filing.Status)
	require.Nil(t, outcome)
	require.Empty(t, poster.requests)
}

func TestAcknowledgeRequiresReference(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	ctx := context.Background()

	filing, _, err := svc.Submit(ctx, submitInput(filing.ID))
	require.NoError(t, err)

	_, err = svc.Acknowledge(ctx, filing.ID, "", 24)
	require.ErrorIs(t, err, ErrAckReferenceRequired)

	filing, err = svc.Acknowledge(ctx, filing.ID, "ACK-77812", 24)
	require.NoError(t, err)
	require.Equal(t, StatusAcknowledged, filing.Status)
	require.Equal(t, "ACK-77812", filing.AckNumber)
}

func TestAdvanceRejectsSubmitAndAcknowledgeTargets(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	ctx := context.Background()

	_, err := svc.Advance(ctx, filing.ID, StatusSubmitted, 23, "")
	require.Error(t, err)
	_, err = svc.Advance(ctx, filing.ID, StatusAcknowledged, 23, "")
	require.Error(t, err)
}

func TestSubmittedFilingRejectsRecordMutation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	filing := seedReviewedFiling(t, svc)
	ctx := context.Background()

	filing, _, err := svc.Submit(ctx, submitInput(filing.ID))
	require.NoError(t, err)

	_, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: 1.00, WithheldAmount: 0.07, PaidAt: time.Now()},
	}, 23)
	require.ErrorIs(t, err, ErrFilingImmutable)

	// Amending reopens the record set.
	filing, err = svc.Advance(ctx, filing.ID, StatusAmended, 23, "late invoice")
	require.NoError(t, err)
	filing, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: 1000.00, WithheldAmount: 70.00, PaidAt: time.Now(), SectionTag: "SECTION_233"},
	}, 23)
	require.NoError(t, err)
	require.Equal(t, 1, filing.Summary.Buckets[Section233].Count)
}

func TestSubmitRecordsApprovalOnce(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	approvals := &fakeApprovals{}
	svc.WithApprovals(approvals)
	filing := seedReviewedFiling(t, svc)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, submitInput(filing.ID))
	require.NoError(t, err)
	require.Equal(t, 1, approvals.count(shared.ApprovalSubmit))
	require.Equal(t, 1, approvals.count(shared.ApprovalPrepare))
	require.Equal(t, 1, approvals.count(shared.ApprovalReview))

	// A replayed submit recording must not double-log the step.
	require.NoError(t, approvals.EnsureSubmit(ctx, "wht", filing.RefID, 23, ""))
	require.Equal(t, 1, approvals.count(shared.ApprovalSubmit))
}

func TestSubmitPostingOutcomesAreCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	svc, _, _, _ := newTestService(t)
	svc.WithMetrics(observability.NewMetrics(registry))
	filing := seedReviewedFiling(t, svc)

	_, outcome, err := svc.Submit(context.Background(), submitInput(filing.ID))
	require.NoError(t, err)
	require.True(t, outcome.Attempted)

	expected := `
# HELP meridian_ledger_postings_total Ledger posting side effects by result.
# TYPE meridian_ledger_postings_total counter
meridian_ledger_postings_total{result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "meridian_ledger_postings_total"))
}

func TestSubmitPostingFailureIsCounted(t *testing.T) {
	registry := prometheus.NewRegistry()
	svc, _, poster, _ := newTestService(t)
	svc.WithMetrics(observability.NewMetrics(registry))
	poster.err = errors.New("ledger: connection refused")
	filing := seedReviewedFiling(t, svc)

	_, outcome, err := svc.Submit(context.Background(), submitInput(filing.ID))
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Error)

	expected := `
# HELP meridian_ledger_postings_total Ledger posting side effects by result.
# TYPE meridian_ledger_postings_total counter
meridian_ledger_postings_total{result="failure"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "meridian_ledger_postings_total"))
}

func TestRecordAmountValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	filing, err := svc.CreateFiling(ctx, filingInput())
	require.NoError(t, err)
	paidAt := time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC)

	// A zero-gross record (e.g. an exempt payment logged for completeness) is legal.
	filing, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: 0, WithheldAmount: 0, PaidAt: paidAt, SectionTag: "SECTION_233"},
	}, 21)
	require.NoError(t, err)
	require.Equal(t, 1, filing.Summary.Buckets[Section233].Count)

	// Sub-cent precision is a validation failure, not a rounding violation.
	_, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: 100.001, WithheldAmount: 7.00, PaidAt: paidAt},
	}, 21)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRoundingInvariant)

	_, err = svc.AddRecords(ctx, filing.ID, []RecordInput{
		{Origin: OriginVendorPayment, GrossAmount: -5.00, WithheldAmount: 0, PaidAt: paidAt},
	}, 21)
	require.Error(t, err)
}
