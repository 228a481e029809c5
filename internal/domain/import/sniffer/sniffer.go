// Package sniffer works out the layout of delimited statement exports: which line
// holds the column headers, which delimiter separates fields and which column is
// which.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"unicode"
)

// Header words seen in English, Portuguese and Spanish bank exports.
var headerKeywords = []string{
	"date", "description", "amount", "debit", "credit", "balance", "category", "merchant",
	"payee", "memo", "check", "posted", "transaction",
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito",
	"data valor", "saldo", "categoria",
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

var candidateDelimiters = []rune{';', '\t', ',', '|'}

const (
	// maxHeaderSearch is how many leading lines may hold bank metadata.
	maxHeaderSearch = 20
	// minHeaderHits is how many fields must look like column names.
	minHeaderHits = 2
	// sampleRowLimit bounds how many data rows are kept for format heuristics.
	sampleRowLimit = 20
)

// FileConfig is the detected layout of one delimited file.
type FileConfig struct {
	Delimiter   rune
	SkipLines   int // metadata lines above the header row
	Headers     []string
	Fingerprint string     // identifies the column layout across uploads
	SampleRows  [][]string // first data rows, used for amount-format detection
}

// ColumnSuggestions maps column roles to header indices; -1 means absent.
type ColumnSuggestions struct {
	DateCol       int
	DescCol       int
	AmountCol     int // single signed amount column
	DebitCol      int
	CreditCol     int
	CategoryCol   int
	CheckCol      int
	IsDoubleEntry bool // separate debit and credit columns
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// DetectConfig finds the header row and delimiter of data.
func DetectConfig(data []byte) (*FileConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")
	delimiter, headerLine, headers, ok := findHeaderRow(lines)
	if !ok {
		return nil, ErrNoHeadersFound
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   headerLine,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
		SampleRows:  getSampleRows(data, delimiter, headerLine+1, sampleRowLimit),
	}, nil
}

// findHeaderRow scores each early line under each delimiter by how many of its
// fields look like column names and keeps the best one. Ties go to the earlier line.
func findHeaderRow(lines []string) (delimiter rune, index int, headers []string, ok bool) {
	best := 0
	for i, raw := range lines {
		if i >= maxHeaderSearch {
			break
		}
		line := strings.TrimRight(raw, "\r")
		for _, d := range candidateDelimiters {
			if strings.Count(line, string(d)) < 2 {
				continue
			}
			fields, err := splitLine(line, d)
			if err != nil {
				continue
			}
			hits := keywordHits(fields)
			if hits >= minHeaderHits && hits > best {
				best, delimiter, index, headers, ok = hits, d, i, fields, true
			}
		}
	}
	return delimiter, index, headers, ok
}

func splitLine(line string, d rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = d
	r.LazyQuotes = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields, nil
}

func keywordHits(fields []string) int {
	hits := 0
	for _, f := range fields {
		lower := strings.ToLower(f)
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				hits++
				break
			}
		}
	}
	return hits
}

type columnRole int

const (
	roleNone columnRole = iota
	roleDate
	roleDesc
	roleCheck
	roleDebit
	roleCredit
	roleAmount
	roleCategory
)

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// classifyHeader assigns one role to a lower-cased header. Earlier roles win.
func classifyHeader(h string) columnRole {
	switch {
	case containsAny(h, "data mov", "date", "fecha") || h == "data" || h == "posted":
		return roleDate
	case containsAny(h, "descri", "merchant", "payee") || h == "nome" || h == "name":
		return roleDesc
	case containsAny(h, "check", "cheque") || h == "chk" || h == "chk #":
		return roleCheck
	}

	debit := containsAny(h, "débito", "debito", "debit", "cargo", "withdrawal")
	credit := containsAny(h, "crédito", "credito", "credit", "abono", "deposit")
	switch {
	case debit && credit:
		// "Debit/Credit" indicator columns are neither side of a pair.
		return roleNone
	case debit:
		return roleDebit
	case credit:
		return roleCredit
	case h == "amount" || strings.HasPrefix(h, "amount ") || strings.HasPrefix(h, "amount(") ||
		h == "transaction amount" || h == "valor" || h == "importe" || h == "montante":
		return roleAmount
	case strings.Contains(h, "categ"):
		return roleCategory
	}
	return roleNone
}

// SuggestColumns picks the first header of each role.
func SuggestColumns(headers []string) *ColumnSuggestions {
	s := &ColumnSuggestions{DateCol: -1, DescCol: -1, AmountCol: -1, DebitCol: -1, CreditCol: -1, CategoryCol: -1, CheckCol: -1}
	slots := map[columnRole]*int{
		roleDate:     &s.DateCol,
		roleDesc:     &s.DescCol,
		roleCheck:    &s.CheckCol,
		roleDebit:    &s.DebitCol,
		roleCredit:   &s.CreditCol,
		roleAmount:   &s.AmountCol,
		roleCategory: &s.CategoryCol,
	}

	for i, header := range headers {
		slot, ok := slots[classifyHeader(strings.ToLower(strings.TrimSpace(header)))]
		if ok && *slot == -1 {
			*slot = i
		}
	}

	s.IsDoubleEntry = s.DebitCol != -1 && s.CreditCol != -1
	return s
}

// generateFingerprint hashes the letters and digits of each header, lower-cased,
// so cosmetic punctuation or casing changes keep the same layout id.
func generateFingerprint(headers []string) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// getSampleRows reads up to maxRows records starting at physical line startLine.
// Malformed records are skipped.
func getSampleRows(data []byte, delimiter rune, startLine, maxRows int) [][]string {
	lines := strings.SplitN(string(data), "\n", startLine+1)
	if len(lines) <= startLine {
		return nil
	}

	r := csv.NewReader(strings.NewReader(lines[startLine]))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	rows := make([][]string, 0, maxRows)
	for len(rows) < maxRows {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		rows = append(rows, record)
	}
	return rows
}
