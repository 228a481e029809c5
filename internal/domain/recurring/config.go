package recurring

// Config holds the detector's tolerances. Zero fields take the default.
type Config struct {
	// MinOccurrences is the smallest group or cluster considered.
	MinOccurrences int
	// AmountTolerance is the relative distance from a cluster's running mean
	// within which an amount joins that cluster.
	AmountTolerance float64
	// IntervalTolerance bounds every gap's relative distance from the mean gap.
	IntervalTolerance float64

	HabitualMinCount    int
	HabitualMonthlyRate float64
	HabitualMaxCV       float64

	// CancelledAfterGaps flags a pattern once this many mean gaps pass without a payment.
	CancelledAfterGaps float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinOccurrences:      3,
		AmountTolerance:     0.10,
		IntervalTolerance:   0.20,
		HabitualMinCount:    10,
		HabitualMonthlyRate: 10,
		HabitualMaxCV:       0.2,
		CancelledAfterGaps:  2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinOccurrences <= 0 {
		c.MinOccurrences = d.MinOccurrences
	}
	if c.AmountTolerance <= 0 {
		c.AmountTolerance = d.AmountTolerance
	}
	if c.IntervalTolerance <= 0 {
		c.IntervalTolerance = d.IntervalTolerance
	}
	if c.HabitualMinCount <= 0 {
		c.HabitualMinCount = d.HabitualMinCount
	}
	if c.HabitualMonthlyRate <= 0 {
		c.HabitualMonthlyRate = d.HabitualMonthlyRate
	}
	if c.HabitualMaxCV <= 0 {
		c.HabitualMaxCV = d.HabitualMaxCV
	}
	if c.CancelledAfterGaps <= 0 {
		c.CancelledAfterGaps = d.CancelledAfterGaps
	}
	return c
}
