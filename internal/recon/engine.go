package recon

import "math"

// reconciledTolerance is the cent-level threshold on the absolute variance.
const reconciledTolerance = 0.01

// Aggregate classifies every included line and sums gross amounts per bucket.
// It is pure and order-independent: amounts accumulate at full double
// precision and are rounded once, at exposure. Lines marked EXCLUDED do not
// participate in reconciliation.
func Aggregate(lines []StatementLine) (map[Category]Bucket, float64) {
	sums := make(map[Category]float64, len(Categories()))
	counts := make(map[Category]int, len(Categories()))
	var total float64
	for _, line := range lines {
		if line.MatchStatus == MatchExcluded {
			continue
		}
		category := Classify(line)
		sums[category] += line.Amount
		counts[category]++
		total += line.Amount
	}
	buckets := make(map[Category]Bucket, len(Categories()))
	for _, category := range Categories() {
		buckets[category] = Bucket{
			Count: counts[category],
			Gross: round2(sums[category]),
		}
	}
	return buckets, total
}

// Balances holds the derived balance figures for one document.
type Balances struct {
	AdjustedBank   float64
	AdjustedLedger float64
	Variance       float64
	Reconciled     bool
}

// ComputeBalances derives the adjusted balances and the variance:
//
//	adjustedBank   = closingBank + depositsInTransit − outstandingChecks
//	adjustedLedger = closingLedger + interest − bankCharges − returnedChecks
//
// Only lines not yet posted to the ledger feed the interest, bank-charge and
// returned-check terms: a posted line is already reflected in the closing
// ledger balance and counting it again would double it.
func ComputeBalances(closingBank, closingLedger float64, lines []StatementLine) Balances {
	var dit, oc, charges, interest, returned float64
	for _, line := range lines {
		if line.MatchStatus == MatchExcluded {
			continue
		}
		switch Classify(line) {
		case CategoryDepositsInTransit:
			dit += line.Amount
		case CategoryOutstandingChecks:
			oc += line.Amount
		case CategoryBankCharges:
			if !line.GLPosted {
				charges += line.Amount
			}
		case CategoryInterestEarned:
			if !line.GLPosted {
				interest += line.Amount
			}
		case CategoryReturnedChecks:
			if !line.GLPosted {
				returned += line.Amount
			}
		}
	}
	adjustedBank := round2(closingBank + dit - oc)
	adjustedLedger := round2(closingLedger + interest - charges - returned)
	variance := round2(adjustedBank - adjustedLedger)
	return Balances{
		AdjustedBank:   adjustedBank,
		AdjustedLedger: adjustedLedger,
		Variance:       variance,
		Reconciled:     math.Abs(variance) < reconciledTolerance,
	}
}

// Recompute discards the document's derived fields and rebuilds them from
// the full current line set. It never patches incrementally, so bucket totals
// cannot drift from the lines they summarize.
func Recompute(doc *Document) error {
	buckets, total := Aggregate(doc.Lines)
	var bucketSum float64
	for _, bucket := range buckets {
		bucketSum += bucket.Gross
	}
	if math.Abs(round2(bucketSum)-round2(total)) >= 0.005 {
		return ErrRoundingInvariant
	}
	balances := ComputeBalances(doc.ClosingBankBalance, doc.ClosingLedgerBalance, doc.Lines)
	doc.Summary = Summary{
		Buckets:        buckets,
		TotalAmount:    round2(total),
		AdjustedBank:   balances.AdjustedBank,
		AdjustedLedger: balances.AdjustedLedger,
		Variance:       balances.Variance,
		Reconciled:     balances.Reconciled,
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
