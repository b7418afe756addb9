package wht

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func record(gross, withheld float64, tag string) TaxRecord {
	return TaxRecord{
		Origin:         OriginVendorPayment,
		GrossAmount:    gross,
		WithheldAmount: withheld,
		SectionTag:     tag,
	}
}

func TestAggregateTotalsCoverEveryRecord(t *testing.T) {
	records := []TaxRecord{
		record(10000.00, 450.00, "SECTION_153_1A"),
		record(5000.00, 400.00, "SECTION_153_1B"),
		record(2500.00, 25.50, "SECTION_235"),
		record(999.99, 10.01, ""), // lands in OTHER
	}
	buckets, grossTotal, withheldTotal := Aggregate(records)

	var grossSum, withheldSum, countSum float64
	for _, bucket := range buckets {
		grossSum += bucket.Gross
		withheldSum += bucket.Withheld
		countSum += float64(bucket.Count)
	}
	require.InDelta(t, grossTotal, grossSum, 0.005)
	require.InDelta(t, withheldTotal, withheldSum, 0.005)
	require.Equal(t, float64(len(records)), countSum)
	require.Equal(t, 1, buckets[SectionOther].Count)
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := []TaxRecord{
		record(100.10, 7.01, "SECTION_233"),
		record(200.20, 14.02, "SECTION_233"),
		record(300.30, 21.03, "SECTION_234"),
	}
	b := []TaxRecord{a[2], a[0], a[1]}

	bucketsA, grossA, withheldA := Aggregate(a)
	bucketsB, grossB, withheldB := Aggregate(b)
	require.Equal(t, bucketsA, bucketsB)
	require.InDelta(t, grossA, grossB, 1e-9)
	require.InDelta(t, withheldA, withheldB, 1e-9)
}

func TestRecomputeVarianceAgainstDeposit(t *testing.T) {
	filing := &Filing{
		Records: []TaxRecord{
			record(10000.00, 700.00, "SECTION_153_1A"),
			record(4000.00, 320.00, "SECTION_153_1B"),
		},
		DepositedAmount: 1000.00,
	}
	require.NoError(t, Recompute(filing))
	require.Equal(t, 14000.00, filing.Summary.Totals.Gross)
	require.Equal(t, 1020.00, filing.Summary.Totals.Withheld)
	require.Equal(t, 1000.00, filing.Summary.Totals.Deposited)
	require.Equal(t, 20.00, filing.Summary.Totals.Variance)
}

func TestRecomputeReplacesSummaryWholesale(t *testing.T) {
	filing := &Filing{Records: []TaxRecord{record(500.00, 35.00, "SECTION_233")}}
	require.NoError(t, Recompute(filing))
	require.Equal(t, 1, filing.Summary.Buckets[Section233].Count)

	filing.Records = nil
	require.NoError(t, Recompute(filing))
	require.Equal(t, 0, filing.Summary.Buckets[Section233].Count)
	require.Equal(t, 0.00, filing.Summary.Totals.Gross)
	require.Equal(t, 0.00, filing.Summary.Totals.Withheld)
}

func TestRecomputeIdempotent(t *testing.T) {
	filing := &Filing{
		Records: []TaxRecord{
			record(123.45, 8.64, "SECTION_234"),
			record(678.90, 47.52, ""),
		},
		DepositedAmount: 56.16,
	}
	require.NoError(t, Recompute(filing))
	first := filing.Summary
	require.NoError(t, Recompute(filing))
	require.Equal(t, first, filing.Summary)
}
