package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates chart-of-account classes. The class decides the
// sign convention applied when posted entries are reduced to a balance.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// EntryLine is a single debit/credit leg of a posting request.
type EntryLine struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// PostingRequest asks the ledger collaborator to post a balanced entry.
type PostingRequest struct {
	Reference uuid.UUID
	Date      time.Time
	Memo      string
	Lines     []EntryLine
}

// Validate ensures the request is balanced and well formed.
func (r PostingRequest) Validate() error {
	if r.Reference == uuid.Nil {
		return errors.New("ledger: posting reference required")
	}
	if r.Date.IsZero() {
		return errors.New("ledger: posting date required")
	}
	if len(r.Lines) < 2 {
		return ErrTooFewLines
	}
	var debits, credits float64
	for _, line := range r.Lines {
		if line.AccountID == 0 {
			return errors.New("ledger: line account required")
		}
		if line.Debit < 0 || line.Credit < 0 {
			return errors.New("ledger: line amounts must be non-negative")
		}
		if line.Debit > 0 && line.Credit > 0 {
			return errors.New("ledger: line cannot carry both debit and credit")
		}
		debits += line.Debit
		credits += line.Credit
	}
	if round2(debits) != round2(credits) {
		return ErrUnbalanced
	}
	return nil
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: entry lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: entry requires at least two lines")
	// ErrAccountNotFound indicates the account is unknown to the ledger.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrDependencyUnavailable indicates the ledger collaborator could not be
	// reached. Callers must abort the dependent computation rather than
	// substitute a zero balance.
	ErrDependencyUnavailable = errors.New("ledger: dependency unavailable")
)

// ParseAccountType normalises a stored account type string.
func ParseAccountType(s string) (AccountType, error) {
	switch AccountType(strings.ToUpper(strings.TrimSpace(s))) {
	case AccountTypeAsset:
		return AccountTypeAsset, nil
	case AccountTypeLiability:
		return AccountTypeLiability, nil
	case AccountTypeEquity:
		return AccountTypeEquity, nil
	case AccountTypeRevenue:
		return AccountTypeRevenue, nil
	case AccountTypeExpense:
		return AccountTypeExpense, nil
	}
	return "", errors.New("ledger: unknown account type " + s)
}

// ReduceBalance applies the sign convention for the account class.
// Asset and expense accounts carry debit-normal balances (debits − credits);
// liability, equity and revenue accounts carry credit-normal balances
// (credits − debits). A wrong sign here corrupts every downstream variance.
func ReduceBalance(accountType AccountType, debits, credits float64) float64 {
	switch accountType {
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return round2(credits - debits)
	default:
		return round2(debits - credits)
	}
}
