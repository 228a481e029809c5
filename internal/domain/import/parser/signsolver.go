package parser

// MaxSolvableDay caps the exhaustive search: 2^16 sign assignments per day.
const MaxSolvableDay = 16

// BalanceToleranceCents is how far a signed sum may miss the balance delta.
const BalanceToleranceCents = 2

// SolveSigns finds the unique assignment of signs to unsigned amounts whose sum equals
// delta within BalanceToleranceCents. Bit i of mask set means amounts[i] is a credit.
// ok is false when no assignment or more than one reconciles, or when the day is too
// large to search.
func SolveSigns(amounts []int64, delta int64) (mask uint32, ok bool) {
	n := len(amounts)
	if n == 0 || n > MaxSolvableDay {
		return 0, false
	}

	matches := 0
	for m := uint32(0); m < 1<<n; m++ {
		var sum int64
		for i, a := range amounts {
			if m&(1<<i) != 0 {
				sum += a
			} else {
				sum -= a
			}
		}
		diff := sum - delta
		if diff < 0 {
			diff = -diff
		}
		if diff <= BalanceToleranceCents {
			matches++
			if matches > 1 {
				return 0, false
			}
			mask = m
		}
	}
	return mask, matches == 1
}
