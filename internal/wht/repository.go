package wht

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for filings and their
// tax records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the filing with its initial derived summary.
func (r *Repository) Create(ctx context.Context, filing *Filing) (*Filing, error) {
	summary, err := json.Marshal(filing.Summary)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO wht_filings (
			ref_id, company_id, filing_type, period_key, period_start, period_end, due_date,
			summary, deposited_amount, status, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'DRAFT',$10,NOW(),NOW())
		RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		filing.RefID, filing.CompanyID, filing.FilingType, filing.PeriodKey,
		filing.PeriodStart, filing.PeriodEnd, filing.DueDate,
		summary, filing.DepositedAmount, filing.CreatedBy,
	).Scan(&filing.ID, &filing.CreatedAt, &filing.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateFiling
		}
		return nil, err
	}
	return filing, nil
}

// Get loads a filing with all tax records.
func (r *Repository) Get(ctx context.Context, id int64) (*Filing, error) {
	return r.getBy(ctx, `WHERE f.id=$1`, id)
}

// GetByIdentity loads the unique filing for a (company, type, period) triple.
func (r *Repository) GetByIdentity(ctx context.Context, companyID int64, filingType, periodKey string) (*Filing, error) {
	return r.getBy(ctx, `WHERE f.company_id=$1 AND f.filing_type=$2 AND f.period_key=$3`, companyID, filingType, periodKey)
}

func (r *Repository) getBy(ctx context.Context, where string, args ...any) (*Filing, error) {
	query := `
		SELECT f.id, f.ref_id, f.company_id, f.filing_type, f.period_key,
			f.period_start, f.period_end, f.due_date,
			f.summary, f.deposited_amount, f.status,
			f.ack_number, f.payment_ref, f.side_effect,
			f.prepared_by, f.prepared_at, f.reviewed_by, f.reviewed_at,
			f.submitted_by, f.submitted_at, f.acknowledged_at,
			f.amended_by, f.amended_at,
			f.created_by, f.created_at, f.updated_at
		FROM wht_filings f ` + where
	var filing Filing
	var summary, sideEffect []byte
	var status string
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&filing.ID, &filing.RefID, &filing.CompanyID, &filing.FilingType, &filing.PeriodKey,
		&filing.PeriodStart, &filing.PeriodEnd, &filing.DueDate,
		&summary, &filing.DepositedAmount, &status,
		&filing.AckNumber, &filing.PaymentRef, &sideEffect,
		&filing.PreparedBy, &filing.PreparedAt, &filing.ReviewedBy, &filing.ReviewedAt,
		&filing.SubmittedBy, &filing.SubmittedAt, &filing.AcknowledgedAt,
		&filing.AmendedBy, &filing.AmendedAt,
		&filing.CreatedBy, &filing.CreatedAt, &filing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFilingNotFound
		}
		return nil, err
	}
	filing.Status = Status(status)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &filing.Summary); err != nil {
			return nil, err
		}
	}
	if len(sideEffect) > 0 {
		var outcome PostingOutcome
		if err := json.Unmarshal(sideEffect, &outcome); err != nil {
			return nil, err
		}
		filing.SideEffect = &outcome
	}
	records, err := r.listRecords(ctx, filing.ID)
	if err != nil {
		return nil, err
	}
	filing.Records = records
	return &filing, nil
}

func (r *Repository) listRecords(ctx context.Context, filingID int64) ([]TaxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, filing_id, origin, gross_amount, withheld_amount, paid_at,
			description, reference, section_tag, created_at
		FROM wht_tax_records
		WHERE filing_id=$1
		ORDER BY paid_at, id`, filingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []TaxRecord
	for rows.Next() {
		var record TaxRecord
		var origin string
		if err := rows.Scan(&record.ID, &record.FilingID, &origin, &record.GrossAmount,
			&record.WithheldAmount, &record.PaidAt, &record.Description, &record.Reference,
			&record.SectionTag, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.Origin = Origin(origin)
		records = append(records, record)
	}
	return records, rows.Err()
}

// List returns filing headers matching the filter, newest period first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Filing, error) {
	query := `
		SELECT f.id, f.ref_id, f.company_id, f.filing_type, f.period_key,
			f.due_date, f.deposited_amount, f.status, f.created_at, f.updated_at
		FROM wht_filings f
		WHERE ($1 = 0 OR f.company_id = $1)
		  AND ($2 = '' OR f.filing_type = $2)
		  AND ($3 = '' OR f.status = $3)
		ORDER BY f.period_key DESC, f.id DESC`
	rows, err := r.pool.Query(ctx, query, filter.CompanyID, filter.FilingType, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var filings []Filing
	for rows.Next() {
		var filing Filing
		var status string
		if err := rows.Scan(&filing.ID, &filing.RefID, &filing.CompanyID, &filing.FilingType,
			&filing.PeriodKey, &filing.DueDate, &filing.DepositedAmount, &status,
			&filing.CreatedAt, &filing.UpdatedAt); err != nil {
			return nil, err
		}
		filing.Status = Status(status)
		filings = append(filings, filing)
	}
	return filings, rows.Err()
}

// AddRecords inserts a batch of tax records in one transaction.
func (r *Repository) AddRecords(ctx context.Context, filingID int64, records []TaxRecord) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, record := range records {
			if _, err := tx.Exec(ctx, `
				INSERT INTO wht_tax_records (
					filing_id, origin, gross_amount, withheld_amount, paid_at,
					description, reference, section_tag, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
				filingID, string(record.Origin), record.GrossAmount, record.WithheldAmount,
				record.PaidAt, record.Description, record.Reference, record.SectionTag); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveRecord deletes one tax record.
func (r *Repository) RemoveRecord(ctx context.Context, filingID, recordID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM wht_tax_records WHERE id=$1 AND filing_id=$2`, recordID, filingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ReplaceDerived overwrites the derived summary with the recomputed one.
func (r *Repository) ReplaceDerived(ctx context.Context, filingID int64, summary Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE wht_filings
		SET summary=$1, updated_at=NOW()
		WHERE id=$2`, payload, filingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFilingNotFound
	}
	return nil
}

// SaveTransition persists status, stamps and submission metadata.
func (r *Repository) SaveTransition(ctx context.Context, filing *Filing) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE wht_filings
		SET status=$1,
			deposited_amount=$2, payment_ref=$3, ack_number=$4,
			prepared_by=$5, prepared_at=$6,
			reviewed_by=$7, reviewed_at=$8,
			submitted_by=$9, submitted_at=$10,
			acknowledged_at=$11,
			amended_by=$12, amended_at=$13,
			updated_at=NOW()
		WHERE id=$14`,
		string(filing.Status),
		filing.DepositedAmount, filing.PaymentRef, filing.AckNumber,
		filing.PreparedBy, filing.PreparedAt,
		filing.ReviewedBy, filing.ReviewedAt,
		filing.SubmittedBy, filing.SubmittedAt,
		filing.AcknowledgedAt,
		filing.AmendedBy, filing.AmendedAt,
		filing.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFilingNotFound
	}
	return nil
}

// SavePostingOutcome records the side effect result on the filing.
func (r *Repository) SavePostingOutcome(ctx context.Context, filingID int64, outcome PostingOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE wht_filings SET side_effect=$1, updated_at=NOW() WHERE id=$2`, payload, filingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFilingNotFound
	}
	return nil
}
