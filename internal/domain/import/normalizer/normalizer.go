// Package normalizer handles regional money and date parsing.
// Converts the many spellings found in bank statements into cents and UTC calendar days.
package normalizer

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount format")
	ErrInvalidDate   = errors.New("invalid date format")
)

// ParseAmount converts a statement amount to signed cents. isEuropean selects
// "1.234,56" over "1,234.56". Negatives may be written "-12.50", "12.50-" or
// "(12.50)". Currency symbols and spaces are ignored; an empty value is zero.
func ParseAmount(raw string, isEuropean bool) (int64, error) {
	raw = strings.TrimSpace(raw)
	negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")

	digits := strings.Map(keepAmountRune, raw)
	if trimmed := strings.Trim(digits, "-"); trimmed != digits {
		negative = true
		digits = trimmed
	}
	if digits == "" {
		return 0, nil
	}

	thousands, point := ",", "."
	if isEuropean {
		thousands, point = ".", ","
	}
	digits = strings.ReplaceAll(digits, thousands, "")
	digits = strings.Replace(digits, point, ".", 1)

	cents, err := CentsFromDecimal(digits)
	if err != nil {
		return 0, err
	}
	if negative {
		return -cents, nil
	}
	return cents, nil
}

func keepAmountRune(r rune) rune {
	if unicode.IsDigit(r) || strings.ContainsRune(",.-", r) {
		return r
	}
	return -1
}

// CentsFromDecimal converts a plain decimal string ("-12.345") to cents, rounding half away from zero.
func CentsFromDecimal(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// NormalizeDebitCredit folds a debit/credit column pair into one signed amount.
// A non-zero debit wins and is always money out; otherwise the credit is money in.
func NormalizeDebitCredit(debitStr, creditStr string, isEuropean bool) (int64, error) {
	debit, err := ParseAmount(debitStr, isEuropean)
	if err != nil {
		return 0, err
	}
	if debit != 0 {
		return -abs(debit), nil
	}

	credit, err := ParseAmount(creditStr, isEuropean)
	if err != nil {
		return 0, err
	}
	return abs(credit), nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// europeanAmount matches "1.234,56" or "45,23": a comma followed by exactly two trailing digits.
var europeanAmount = regexp.MustCompile(`^[^.,]*(\d{1,3}(\.\d{3})*|\d+),\d{2}\)?-?$`)

// DetectEuropeanAmounts reports whether most non-empty samples use a decimal comma.
func DetectEuropeanAmounts(samples []string) bool {
	european, total := 0, 0
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		total++
		if europeanAmount.MatchString(s) {
			european++
		}
	}
	return total > 0 && european*2 > total
}

var (
	numericDate = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{4}|\d{2})$`)
	isoDate     = regexp.MustCompile(`^(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})$`)
)

// Fallback layouts tried after the numeric US / ISO / European passes.
var dateFormats = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"02-Jan-06",
	"Mon Jan 2 2006",
	"20060102",
}

// ParseStatementDate parses a statement date trying, in order: US month/day/year,
// ISO year-month-day, European day/month/year (only when the day exceeds 12) and a
// list of generic layouts. The result is the calendar day at UTC midnight.
func ParseStatementDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}

	if m := numericDate.FindStringSubmatch(raw); m != nil {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		year := expandYear(m[3])

		if t, ok := CalendarDate(year, first, second); ok {
			return t, nil
		}
		if first > 12 {
			if t, ok := CalendarDate(year, second, first); ok {
				return t, nil
			}
		}
		return time.Time{}, ErrInvalidDate
	}

	if m := isoDate.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if t, ok := CalendarDate(year, month, day); ok {
			return t, nil
		}
		return time.Time{}, ErrInvalidDate
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return DateOnly(t), nil
		}
	}

	return time.Time{}, ErrInvalidDate
}

// CalendarDate builds a UTC midnight date, rejecting values time.Date would roll over.
func CalendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// DateOnly drops the time of day, keeping the calendar day as seen in t's location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expandYear(s string) int {
	year, _ := strconv.Atoi(s)
	if len(s) == 2 {
		year += 2000
	}
	return year
}

var spacePattern = regexp.MustCompile(`\s+`)

// CleanDescription normalizes merchant/description text
func CleanDescription(raw string) string {
	return spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")
}
