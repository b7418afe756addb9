package recon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyExplicitTagWinsOverText(t *testing.T) {
	line := StatementLine{
		Description: "monthly bank charge on account",
		CategoryTag: "DEPOSITS_IN_TRANSIT",
	}
	require.Equal(t, CategoryDepositsInTransit, Classify(line))
}

func TestClassifyUnknownTagFallsBackToText(t *testing.T) {
	line := StatementLine{
		Description: "interest earned on balance",
		CategoryTag: "SOMETHING_NEW",
	}
	require.Equal(t, CategoryInterestEarned, Classify(line))
}

func TestClassifyTextInference(t *testing.T) {
	cases := []struct {
		name string
		line StatementLine
		want Category
	}{
		{"deposit in transit phrase", StatementLine{Description: "Deposit in Transit #42"}, CategoryDepositsInTransit},
		{"dit token in reference", StatementLine{Reference: "DIT-2024-07"}, CategoryDepositsInTransit},
		{"outstanding cheque", StatementLine{Description: "Outstanding cheque to vendor"}, CategoryOutstandingChecks},
		{"bank fee", StatementLine{Description: "BANK FEE wire transfer"}, CategoryBankCharges},
		{"interest", StatementLine{Description: "Quarterly interest credit"}, CategoryInterestEarned},
		{"nsf token", StatementLine{Description: "NSF item returned by bank"}, CategoryReturnedChecks},
		{"no match lands in errors", StatementLine{Description: "Mystery difference"}, CategoryErrors},
		{"empty line lands in errors", StatementLine{}, CategoryErrors},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.line))
		})
	}
}

func TestClassifyCodeNeedsWholeToken(t *testing.T) {
	// "credit" contains "dit" but must not classify as deposits in transit.
	line := StatementLine{Description: "wire credit from customer"}
	require.Equal(t, CategoryErrors, Classify(line))
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// Eligible for both deposits-in-transit and interest; rule order decides.
	line := StatementLine{Description: "deposit in transit interest adjustment"}
	require.Equal(t, CategoryDepositsInTransit, Classify(line))
}
