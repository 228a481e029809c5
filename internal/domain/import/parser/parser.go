// Package parser converts statement files (delimited text, OFX, extracted document
// text) into one canonical ParsedStatement.
//
// Parsers never fail on malformed input: problems become warnings and, at worst,
// an empty transaction list.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var ErrUnsupportedFormat = errors.New("unsupported statement format")

// ErrBinaryPDF rejects raw PDF documents; only their extracted text is parsed.
var ErrBinaryPDF = fmt.Errorf("%w: binary PDF, upload the statement's extracted text instead", ErrUnsupportedFormat)

// pdfSniffLen is how far into an upload the PDF signature may appear.
const pdfSniffLen = 1024

// IsBinaryPDF reports whether data carries the PDF file signature near its start.
func IsBinaryPDF(data []byte) bool {
	head := data[:min(len(data), pdfSniffLen)]
	return bytes.Contains(head, []byte("%PDF-"))
}

// CheckUpload rejects payloads the declared format can never parse.
func CheckUpload(format Format, data []byte) error {
	if format == FormatPDFText && IsBinaryPDF(data) {
		return ErrBinaryPDF
	}
	return nil
}

// Parse dispatches on the declared format.
func Parse(format Format, data []byte, fileName string) *ParsedStatement {
	var stmt *ParsedStatement
	switch format {
	case FormatCSV:
		stmt = parseCSV(data, fileName)
	case FormatOFX:
		stmt = parseOFX(data, fileName)
	case FormatPDFText:
		stmt = parseText(data, fileName, defaultTextOptions())
	default:
		stmt = &ParsedStatement{}
		stmt.warn("unsupported format %q", format)
	}

	stmt.Format = format
	if stmt.Transactions == nil {
		stmt.Transactions = []ParsedTransaction{}
	}
	if len(stmt.Transactions) == 0 {
		stmt.warn("no transactions found")
	}
	return stmt
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText strips a UTF-8 BOM, decodes Latin-1 when the bytes are not valid
// UTF-8 and normalizes line endings to "\n".
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
			data = decoded
		}
	}
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
