package recon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for reconciliation
// documents and their statement lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the document with its initial derived summary.
func (r *Repository) Create(ctx context.Context, doc *Document) (*Document, error) {
	summary, err := json.Marshal(doc.Summary)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO recon_documents (
			ref_id, account_id, period_key, fiscal_year, period_start, period_end,
			opening_bank_balance, closing_bank_balance,
			opening_ledger_balance, closing_ledger_balance,
			summary, adjusted_bank, adjusted_ledger, variance, reconciled,
			status, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,'DRAFT',$16,NOW(),NOW())
		RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		doc.RefID, doc.AccountID, doc.PeriodKey, doc.FiscalYear, doc.PeriodStart, doc.PeriodEnd,
		doc.OpeningBankBalance, doc.ClosingBankBalance,
		doc.OpeningLedgerBalance, doc.ClosingLedgerBalance,
		summary, doc.Summary.AdjustedBank, doc.Summary.AdjustedLedger, doc.Summary.Variance, doc.Summary.Reconciled,
		doc.CreatedBy,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateDocument
		}
		return nil, err
	}
	return doc, nil
}

// Get loads a document with all statement lines.
func (r *Repository) Get(ctx context.Context, id int64) (*Document, error) {
	return r.getBy(ctx, `WHERE d.id=$1`, id)
}

// GetByIdentity loads the unique document for an (account, period) pair.
func (r *Repository) GetByIdentity(ctx context.Context, accountID int64, periodKey string) (*Document, error) {
	return r.getBy(ctx, `WHERE d.account_id=$1 AND d.period_key=$2`, accountID, periodKey)
}

func (r *Repository) getBy(ctx context.Context, where string, args ...any) (*Document, error) {
	query := `
		SELECT d.id, d.ref_id, d.account_id, d.period_key, d.fiscal_year,
			d.period_start, d.period_end,
			d.opening_bank_balance, d.closing_bank_balance,
			d.opening_ledger_balance, d.closing_ledger_balance,
			d.summary, d.status,
			d.prepared_by, d.prepared_at, d.reviewed_by, d.reviewed_at,
			d.approved_by, d.approved_at,
			d.created_by, d.created_at, d.updated_at
		FROM recon_documents d ` + where
	var doc Document
	var summary []byte
	var status string
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.RefID, &doc.AccountID, &doc.PeriodKey, &doc.FiscalYear,
		&doc.PeriodStart, &doc.PeriodEnd,
		&doc.OpeningBankBalance, &doc.ClosingBankBalance,
		&doc.OpeningLedgerBalance, &doc.ClosingLedgerBalance,
		&summary, &status,
		&doc.PreparedBy, &doc.PreparedAt, &doc.ReviewedBy, &doc.ReviewedAt,
		&doc.ApprovedBy, &doc.ApprovedAt,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	doc.Status = Status(status)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &doc.Summary); err != nil {
			return nil, err
		}
	}
	lines, err := r.listLines(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return &doc, nil
}

func (r *Repository) listLines(ctx context.Context, documentID int64) ([]StatementLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, amount, entry_date, description, reference,
			category_tag, match_status, gl_posted, created_at
		FROM recon_statement_lines
		WHERE document_id=$1
		ORDER BY entry_date, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []StatementLine
	for rows.Next() {
		var line StatementLine
		var matchStatus string
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.Amount, &line.EntryDate,
			&line.Description, &line.Reference, &line.CategoryTag, &matchStatus,
			&line.GLPosted, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.MatchStatus = MatchStatus(matchStatus)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// List returns document headers matching the filter, newest period first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	query := `
		SELECT d.id, d.ref_id, d.account_id, d.period_key, d.fiscal_year,
			d.adjusted_bank, d.adjusted_ledger, d.variance, d.reconciled,
			d.status, d.created_at, d.updated_at
		FROM recon_documents d
		WHERE ($1 = 0 OR d.account_id = $1)
		  AND ($2 = 0 OR d.fiscal_year = $2)
		  AND ($3 = '' OR d.status = $3)
		ORDER BY d.period_key DESC, d.id DESC`
	rows, err := r.pool.Query(ctx, query, filter.AccountID, filter.FiscalYear, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var doc Document
		var status string
		if err := rows.Scan(&doc.ID, &doc.RefID, &doc.AccountID, &doc.PeriodKey, &doc.FiscalYear,
			&doc.Summary.AdjustedBank, &doc.Summary.AdjustedLedger, &doc.Summary.Variance, &doc.Summary.Reconciled,
			&status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Status = Status(status)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AddLines inserts a batch of statement lines in one transaction.
func (r *Repository) AddLines(ctx context.Context, documentID int64, lines []StatementLine) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, line := range lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO recon_statement_lines (
					document_id, amount, entry_date, description, reference,
					category_tag, match_status, gl_posted, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
				documentID, line.Amount, line.EntryDate, line.Description, line.Reference,
				line.CategoryTag, string(line.MatchStatus), line.GLPosted); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveLine deletes one statement line.
func (r *Repository) RemoveLine(ctx context.Context, documentID, lineID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recon_statement_lines WHERE id=$1 AND document_id=$2`, lineID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetLineMatchStatus updates one line's match status.
func (r *Repository) SetLineMatchStatus(ctx context.Context, documentID, lineID int64, status MatchStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE recon_statement_lines SET match_status=$1 WHERE id=$2 AND document_id=$3`,
		string(status), lineID, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// SetClosingLedgerBalance stores a freshly fetched ledger balance.
func (r *Repository) SetClosingLedgerBalance(ctx context.Context, documentID int64, balance float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE recon_documents SET closing_ledger_balance=$1, updated_at=NOW() WHERE id=$2`,
		balance, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// ReplaceDerived overwrites every derived field with the recomputed summary.
func (r *Repository) ReplaceDerived(ctx context.Context, documentID int64, summary Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE recon_documents
		SET summary=$1, adjusted_bank=$2, adjusted_ledger=$3, variance=$4, reconciled=$5, updated_at=NOW()
		WHERE id=$6`,
		payload, summary.AdjustedBank, summary.AdjustedLedger, summary.Variance, summary.Reconciled, documentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// SaveTransition persists the document's status and actor stamps.
func (r *Repository) SaveTransition(ctx context.Context, doc *Document) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recon_documents
		SET status=$1,
			prepared_by=$2, prepared_at=$3,
			reviewed_by=$4, reviewed_at=$5,
			approved_by=$6, approved_at=$7,
			updated_at=NOW()
		WHERE id=$8`,
		string(doc.Status),
		doc.PreparedBy, doc.PreparedAt,
		doc.ReviewedBy, doc.ReviewedAt,
		doc.ApprovedBy, doc.ApprovedAt,
		doc.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
