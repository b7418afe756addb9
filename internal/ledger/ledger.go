package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// BalanceReader resolves a signed posted balance for an account at a cutoff.
type BalanceReader interface {
	PostedBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error)
}

// Poster records a balanced entry in the general ledger.
type Poster interface {
	PostEntry(ctx context.Context, req PostingRequest) error
}

// Repository is the PostgreSQL-backed ledger collaborator.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	group   singleflight.Group
	fetch   func(ctx context.Context, accountID int64, asOf time.Time) (float64, error)
}

// NewRepository constructs the collaborator. timeout bounds each query; a
// deadline hit is reported as ErrDependencyUnavailable.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repository{pool: pool, timeout: timeout}
}

// PostedBalance sums posted debits and credits for the account with entry
// date <= asOf and reduces them per the account class sign convention.
// Concurrent fetches for the same account/cutoff are deduplicated.
func (r *Repository) PostedBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error) {
	if r == nil || (r.pool == nil && r.fetch == nil) {
		return 0, ErrDependencyUnavailable
	}
	fetch := r.fetch
	if fetch == nil {
		fetch = r.fetchBalance
	}
	key := fmt.Sprintf("%d:%s", accountID, asOf.Format("2006-01-02"))
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		// Waiters deduplicated onto this call must not inherit the first
		// caller's cancellation; the repository timeout still applies.
		return fetch(context.WithoutCancel(ctx), accountID, asOf)
	})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrDependencyUnavailable, ctx.Err())
	case res := <-resultChan:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	}
}

func (r *Repository) fetchBalance(ctx context.Context, accountID int64, asOf time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var accountType string
	err := r.pool.QueryRow(ctx, `SELECT type FROM gl_accounts WHERE id=$1`, accountID).Scan(&accountType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, wrapUnavailable("load account", err)
	}
	class, err := ParseAccountType(accountType)
	if err != nil {
		return 0, err
	}

	var debits, credits float64
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.journal_id
		WHERE l.account_id = $1
		  AND e.status = 'POSTED'
		  AND e.entry_date <= $2`, accountID, asOf).Scan(&debits, &credits)
	if err != nil {
		return 0, wrapUnavailable("sum postings", err)
	}
	return ReduceBalance(class, debits, credits), nil
}

// PostEntry records the entry. The caller owns fire-and-record semantics:
// a failure here never rolls back the workflow transition that requested it.
func (r *Repository) PostEntry(ctx context.Context, req PostingRequest) error {
	if r == nil || r.pool == nil {
		return ErrDependencyUnavailable
	}
	if err := req.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return wrapUnavailable("begin tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var entryID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO journal_entries (reference, entry_date, memo, status, created_at)
		VALUES ($1, $2, $3, 'POSTED', NOW())
		RETURNING id`, req.Reference, req.Date, req.Memo).Scan(&entryID)
	if err != nil {
		return wrapUnavailable("insert entry", err)
	}
	for _, line := range req.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO journal_lines (journal_id, account_id, debit, credit, created_at)
			VALUES ($1, $2, $3, $4, NOW())`, entryID, line.AccountID, line.Debit, line.Credit); err != nil {
			return wrapUnavailable("insert line", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapUnavailable("commit", err)
	}
	return nil
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, op, err)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
