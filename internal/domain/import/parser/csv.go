package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/sniffer"
)

// parseCSV reads delimited statements. Account metadata comes from the file name only.
func parseCSV(data []byte, fileName string) *ParsedStatement {
	stmt := &ParsedStatement{Account: accountFromFileName(fileName)}

	text := decodeText(data)
	config, err := sniffer.DetectConfig([]byte(text))
	if err != nil {
		if errors.Is(err, sniffer.ErrEmptyFile) {
			stmt.warn("file is empty")
		} else {
			stmt.warn("could not detect a header row: %v", err)
		}
		return stmt
	}
	stmt.SourceFingerprint = config.Fingerprint

	cols := sniffer.SuggestColumns(config.Headers)
	if cols.DateCol < 0 || cols.DescCol < 0 {
		stmt.warn("missing required date or description column in headers %v", config.Headers)
		return stmt
	}
	if cols.AmountCol < 0 && !cols.IsDoubleEntry {
		stmt.warn("missing amount column or debit/credit column pair in headers %v", config.Headers)
		return stmt
	}

	isEuropean := normalizer.DetectEuropeanAmounts(amountSamples(config.SampleRows, cols))

	// Skip by physical line: the csv reader drops blank lines the sniffer counted.
	lines := strings.SplitN(text, "\n", config.SkipLines+2)
	if len(lines) < config.SkipLines+2 {
		return stmt
	}

	reader := csv.NewReader(strings.NewReader(lines[config.SkipLines+1]))
	reader.Comma = config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var badDates, zeroAmounts, badAmounts, badRows int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			badRows++
			continue
		}
		if isBlankRecord(record) {
			continue
		}

		date, err := normalizer.ParseStatementDate(field(record, cols.DateCol))
		if err != nil {
			badDates++
			continue
		}

		var signed int64
		if cols.IsDoubleEntry {
			signed, err = normalizer.NormalizeDebitCredit(field(record, cols.DebitCol), field(record, cols.CreditCol), isEuropean)
		} else {
			signed, err = normalizer.ParseAmount(field(record, cols.AmountCol), isEuropean)
		}
		if err != nil {
			badAmounts++
			continue
		}
		if signed == 0 {
			zeroAmounts++
			continue
		}

		tx := ParsedTransaction{
			Date:        date,
			AmountCents: signed,
			Description: normalizer.CleanDescription(field(record, cols.DescCol)),
			Type:        TypeIncome,
			Category:    strings.TrimSpace(field(record, cols.CategoryCol)),
			CheckNumber: strings.TrimSpace(field(record, cols.CheckCol)),
		}
		if signed < 0 {
			tx.Type = TypeExpense
		}
		stmt.add(tx)
	}

	if badDates > 0 {
		stmt.warn("skipped %d rows with unparsable dates", badDates)
	}
	if zeroAmounts > 0 {
		stmt.warn("skipped %d rows with zero amounts", zeroAmounts)
	}
	if badAmounts > 0 {
		stmt.warn("skipped %d rows with invalid amounts", badAmounts)
	}
	if badRows > 0 {
		stmt.warn("skipped %d malformed rows", badRows)
	}

	return stmt
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func amountSamples(rows [][]string, cols *sniffer.ColumnSuggestions) []string {
	var samples []string
	for _, row := range rows {
		for _, idx := range []int{cols.AmountCol, cols.DebitCol, cols.CreditCol} {
			if v := field(row, idx); strings.TrimSpace(v) != "" {
				samples = append(samples, v)
			}
		}
	}
	return samples
}
