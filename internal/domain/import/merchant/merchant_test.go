package merchant

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		raw     string
		display string
		key     string
	}{
		{"NETFLIX.COM", "Netflix", "netflix"},
		{"Netflix", "Netflix", "netflix"},
		{"POS NETFLIX 866-579-7172 CA", "Netflix", "netflix"},
		{"SQ *BLUE BOTTLE COFFEE 12345", "Blue Bottle Coffee", "bluebottlecoffee"},
		{"CITY WATER DEPT AUTH# 88231", "City Water Dept", "citywaterdept"},
		{"CORNER BAKERY CARD XXXX1234", "Corner Bakery", "cornerbakery"},
		{"AMZN Mktp US*2K4L91R3", "Amazon", "amazon"},
		{"PURCHASE AUTHORIZED ON 01/05 SPOTIFY USA", "Spotify", "spotify"},
		{"SHELL OIL 57444", "Shell", "shell"},
		{"WAL-MART #1234 DALLAS TX 75201", "Walmart", "walmart"},
		{"🍕 PIZZA PLANET", "Pizza Planet", "pizzaplanet"},
	}

	for _, tc := range tests {
		got := Clean(tc.raw)
		if got.DisplayName != tc.display {
			t.Errorf("Clean(%q).DisplayName = %q, want %q", tc.raw, got.DisplayName, tc.display)
		}
		if got.NormalizedKey != tc.key {
			t.Errorf("Clean(%q).NormalizedKey = %q, want %q", tc.raw, got.NormalizedKey, tc.key)
		}
	}
}

func TestClean_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		if got := Clean(raw); got != (Result{}) {
			t.Errorf("Clean(%q) = %+v, want empty result", raw, got)
		}
	}
}

func TestKey_VariantsAgree(t *testing.T) {
	variants := []string{"NETFLIX.COM", "Netflix", "NETFLIX", "  netflix  ", "Netflix.com*Stream"}
	want := Key(variants[0])
	for _, v := range variants[1:] {
		if got := Key(v); got != want {
			t.Errorf("Key(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestClean_Idempotent(t *testing.T) {
	inputs := []string{
		"SQ *BLUE BOTTLE COFFEE 12345",
		"NETFLIX.COM",
		"CORNER BAKERY CARD XXXX1234",
		"Disney Plus",
		"RANDOM LOCAL SHOP",
	}

	for _, raw := range inputs {
		first := Clean(raw)
		second := Clean(first.DisplayName)
		if first.NormalizedKey != second.NormalizedKey {
			t.Errorf("Clean not idempotent for %q: %q then %q", raw, first.NormalizedKey, second.NormalizedKey)
		}
	}
}
