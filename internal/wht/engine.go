package wht

import "math"

// Aggregate classifies every record and sums gross and withheld amounts per
// section. Pure and order-independent: amounts accumulate at full double
// precision and are rounded once, at exposure.
func Aggregate(records []TaxRecord) (map[Section]Bucket, float64, float64) {
	grossSums := make(map[Section]float64, len(Sections()))
	withheldSums := make(map[Section]float64, len(Sections()))
	counts := make(map[Section]int, len(Sections()))
	var grossTotal, withheldTotal float64
	for _, record := range records {
		section := Classify(record)
		grossSums[section] += record.GrossAmount
		withheldSums[section] += record.WithheldAmount
		counts[section]++
		grossTotal += record.GrossAmount
		withheldTotal += record.WithheldAmount
	}
	buckets := make(map[Section]Bucket, len(Sections()))
	for _, section := range Sections() {
		buckets[section] = Bucket{
			Count:    counts[section],
			Gross:    round2(grossSums[section]),
			Withheld: round2(withheldSums[section]),
		}
	}
	return buckets, grossTotal, withheldTotal
}

// Recompute discards the filing's derived fields and rebuilds them from the
// full current record set. The grand totals must equal the sum of the
// per-section buckets, which must equal the sum of the records, to the cent.
func Recompute(filing *Filing) error {
	buckets, grossTotal, withheldTotal := Aggregate(filing.Records)
	var grossSum, withheldSum float64
	for _, bucket := range buckets {
		grossSum += bucket.Gross
		withheldSum += bucket.Withheld
	}
	if math.Abs(round2(grossSum)-round2(grossTotal)) >= 0.005 ||
		math.Abs(round2(withheldSum)-round2(withheldTotal)) >= 0.005 {
		return ErrRoundingInvariant
	}
	withheld := round2(withheldTotal)
	deposited := round2(filing.DepositedAmount)
	filing.Summary = Summary{
		Buckets: buckets,
		Totals: Totals{
			Gross:     round2(grossTotal),
			Withheld:  withheld,
			Deposited: deposited,
			Variance:  round2(withheld - deposited),
		},
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
