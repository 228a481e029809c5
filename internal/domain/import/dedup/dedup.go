// Package dedup flags incoming statement lines that already exist in the store.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

// WindowPadding widens the comparison window on both sides to absorb
// timezone and posting-day skew.
const WindowPadding = 24 * time.Hour

// ExistingTransaction is the slice of a stored transaction needed for comparison.
type ExistingTransaction struct {
	ID          uuid.UUID
	Date        time.Time
	AmountCents int64
	Type        parser.TransactionType
	Description string
	ExternalID  string
}

// PreviewTransaction is a parsed line annotated for the import preview.
type PreviewTransaction struct {
	parser.ParsedTransaction
	IsDuplicate        bool       `json:"is_duplicate"`
	DuplicateOf        *uuid.UUID `json:"duplicate_of,omitempty"`
	SuggestedCategory  string     `json:"suggested_category"`
	CategoryConfidence int        `json:"category_confidence"`
	CategorySource     string     `json:"category_source"`
	CleanedMerchant    string     `json:"cleaned_merchant"`
}

// Fingerprint hashes the economic content of a transaction. Time of day is ignored.
func Fingerprint(date time.Time, amountCents int64, typ parser.TransactionType, description string) string {
	var b strings.Builder
	b.WriteString(normalizer.DateOnly(date).Format(time.DateOnly))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(amountCents, 10))
	b.WriteByte('|')
	b.WriteString(string(typ))
	b.WriteByte('|')
	b.WriteString(normalizeDescription(description))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Window returns the padded date range covering every incoming transaction.
// ok is false for an empty batch.
func Window(incoming []parser.ParsedTransaction) (from, to time.Time, ok bool) {
	if len(incoming) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from, to = incoming[0].Date, incoming[0].Date
	for _, tx := range incoming[1:] {
		if tx.Date.Before(from) {
			from = tx.Date
		}
		if tx.Date.After(to) {
			to = tx.Date
		}
	}
	return normalizer.DateOnly(from).Add(-WindowPadding), normalizer.DateOnly(to).Add(WindowPadding), true
}

// Detect marks each incoming transaction that matches an existing record, first by
// external id and then by fingerprint. Every existing record absorbs at most one
// incoming line, so a statement that legitimately repeats a charge on the same day
// only loses as many lines as the store already holds.
func Detect(existing []ExistingTransaction, incoming []parser.ParsedTransaction) []PreviewTransaction {
	byExternal := make(map[string][]int)
	byPrint := make(map[string][]int)
	for i, e := range existing {
		if e.ExternalID != "" {
			byExternal[e.ExternalID] = append(byExternal[e.ExternalID], i)
		}
		fp := Fingerprint(e.Date, e.AmountCents, e.Type, e.Description)
		byPrint[fp] = append(byPrint[fp], i)
	}

	used := make([]bool, len(existing))
	take := func(candidates []int, accept func(e ExistingTransaction) bool) (int, bool) {
		for _, idx := range candidates {
			if used[idx] || !accept(existing[idx]) {
				continue
			}
			used[idx] = true
			return idx, true
		}
		return 0, false
	}

	out := make([]PreviewTransaction, len(incoming))
	for i, tx := range incoming {
		out[i] = PreviewTransaction{ParsedTransaction: tx}

		idx, found := -1, false
		if tx.ExternalID != "" {
			idx, found = take(byExternal[tx.ExternalID], func(ExistingTransaction) bool { return true })
		}
		if !found {
			fp := Fingerprint(tx.Date, tx.AmountCents, tx.Type, tx.Description)
			idx, found = take(byPrint[fp], func(e ExistingTransaction) bool {
				// Two different format-native ids mean two different events.
				return tx.ExternalID == "" || e.ExternalID == "" || e.ExternalID == tx.ExternalID
			})
		}
		if found {
			id := existing[idx].ID
			out[i].IsDuplicate = true
			out[i].DuplicateOf = &id
		}
	}
	return out
}

// ImportHashes returns the stored dedup key for each transaction: its fingerprint
// plus its occurrence index among identical lines of the same batch. Re-importing
// the same file yields the same keys.
func ImportHashes(txs []parser.ParsedTransaction) []string {
	seen := make(map[string]int, len(txs))
	out := make([]string, len(txs))
	for i, tx := range txs {
		fp := Fingerprint(tx.Date, tx.AmountCents, tx.Type, tx.Description)
		out[i] = fp + ":" + strconv.Itoa(seen[fp])
		seen[fp]++
	}
	return out
}

// CountDuplicates reports how many preview lines are flagged.
func CountDuplicates(previews []PreviewTransaction) int {
	n := 0
	for _, p := range previews {
		if p.IsDuplicate {
			n++
		}
	}
	return n
}

func normalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
