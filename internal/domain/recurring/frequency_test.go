package recurring

import "testing"

func TestClassifyFrequency(t *testing.T) {
	tests := []struct {
		gap  float64
		want Frequency
		ok   bool
	}{
		{7, Weekly, true},
		{5, Weekly, true},
		{9, Weekly, true},
		{10, "", false},
		{14, Biweekly, true},
		{17, Biweekly, true},
		{18, "", false},
		{30, Monthly, true},
		{25, Monthly, true},
		{35, Monthly, true},
		{50, "", false},
		{91, Quarterly, true},
		{365, Annually, true},
		{391, "", false},
		{0, "", false},
	}

	for _, tc := range tests {
		got, ok := ClassifyFrequency(tc.gap)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ClassifyFrequency(%v) = (%q, %v), want (%q, %v)", tc.gap, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMonthlyAmountCents(t *testing.T) {
	tests := []struct {
		amount int64
		freq   Frequency
		want   int64
	}{
		{1000, Weekly, 4333},
		{1000, Biweekly, 2167},
		{1599, Monthly, 1599},
		{3000, Quarterly, 1000},
		{12000, Annually, 1000},
		{500, Frequency("DAILY"), 500},
	}

	for _, tc := range tests {
		if got := MonthlyAmountCents(tc.amount, tc.freq); got != tc.want {
			t.Fatalf("MonthlyAmountCents(%d, %s) = %d, want %d", tc.amount, tc.freq, got, tc.want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{MinOccurrences: 4}.withDefaults()
	if cfg.MinOccurrences != 4 {
		t.Fatalf("explicit MinOccurrences overwritten: %d", cfg.MinOccurrences)
	}
	want := DefaultConfig()
	want.MinOccurrences = 4
	if cfg != want {
		t.Fatalf("withDefaults() = %+v, want %+v", cfg, want)
	}
}
