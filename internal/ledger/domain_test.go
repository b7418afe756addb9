package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReduceBalanceSignConvention(t *testing.T) {
	cases := []struct {
		name        string
		accountType AccountType
		debits      float64
		credits     float64
		want        float64
	}{
		{"asset_debit_normal", AccountTypeAsset, 1000.00, 400.00, 600.00},
		{"expense_debit_normal", AccountTypeExpense, 250.75, 0.50, 250.25},
		{"liability_credit_normal", AccountTypeLiability, 400.00, 1000.00, 600.00},
		{"liability_sign_flip", AccountTypeLiability, 1000.00, 400.00, -600.00},
		{"equity_credit_normal", AccountTypeEquity, 0, 5000.00, 5000.00},
		{"revenue_credit_normal", AccountTypeRevenue, 120.00, 80.00, -40.00},
		{"asset_overdrawn", AccountTypeAsset, 400.00, 1000.00, -600.00},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReduceBalance(tc.accountType, tc.debits, tc.credits))
		})
	}
}

func TestParseAccountType(t *testing.T) {
	got, err := ParseAccountType(" liability ")
	require.NoError(t, err)
	require.Equal(t, AccountTypeLiability, got)

	_, err = ParseAccountType("CONTRA")
	require.Error(t, err)
}

func validRequest() PostingRequest {
	return PostingRequest{
		Reference: uuid.New(),
		Date:      time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
		Memo:      "WHT deposit WHT_MONTHLY 2025-07",
		Lines: []EntryLine{
			{AccountID: 2310, Debit: 1020.00},
			{AccountID: 1010, Credit: 1020.00},
		},
	}
}

func TestPostingRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	req := validRequest()
	req.Reference = uuid.Nil
	require.Error(t, req.Validate())

	req = validRequest()
	req.Lines = req.Lines[:1]
	require.ErrorIs(t, req.Validate(), ErrTooFewLines)

	req = validRequest()
	req.Lines[1].Credit = 1019.99
	require.ErrorIs(t, req.Validate(), ErrUnbalanced)

	req = validRequest()
	req.Lines[0].Credit = 5.00
	require.Error(t, req.Validate())

	req = validRequest()
	req.Lines[0].Debit = -1020.00
	require.Error(t, req.Validate())

	req = validRequest()
	req.Lines[0].AccountID = 0
	require.Error(t, req.Validate())
}

func TestPostingRequestValidateToleratesSplitRounding(t *testing.T) {
	req := PostingRequest{
		Reference: uuid.New(),
		Date:      time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
		Lines: []EntryLine{
			{AccountID: 2310, Debit: 0.10},
			{AccountID: 2311, Debit: 0.20},
			{AccountID: 1010, Credit: 0.30},
		},
	}
	require.NoError(t, req.Validate())
}
