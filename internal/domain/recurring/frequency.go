package recurring

import "github.com/shopspring/decimal"

type frequencyRange struct {
	frequency Frequency
	min, max  float64
}

// Inclusive mean-gap ranges in days.
var frequencyRanges = []frequencyRange{
	{Weekly, 5, 9},
	{Biweekly, 11, 17},
	{Monthly, 25, 35},
	{Quarterly, 82, 98},
	{Annually, 340, 390},
}

// ClassifyFrequency maps a mean gap in days to a cadence bucket.
func ClassifyFrequency(meanGap float64) (Frequency, bool) {
	for _, r := range frequencyRanges {
		if meanGap >= r.min && meanGap <= r.max {
			return r.frequency, true
		}
	}
	return "", false
}

var monthlyFactors = map[Frequency]decimal.Decimal{
	Weekly:    decimal.NewFromInt(52).Div(decimal.NewFromInt(12)),
	Biweekly:  decimal.NewFromInt(26).Div(decimal.NewFromInt(12)),
	Monthly:   decimal.NewFromInt(1),
	Quarterly: decimal.NewFromInt(1).Div(decimal.NewFromInt(3)),
	Annually:  decimal.NewFromInt(1).Div(decimal.NewFromInt(12)),
}

// MonthlyAmountCents converts a per-occurrence amount to its monthly equivalent,
// rounded to the nearest cent. Unknown frequencies return the amount unchanged.
func MonthlyAmountCents(amountCents int64, freq Frequency) int64 {
	factor, ok := monthlyFactors[freq]
	if !ok {
		return amountCents
	}
	return decimal.NewFromInt(amountCents).Mul(factor).Round(0).IntPart()
}
