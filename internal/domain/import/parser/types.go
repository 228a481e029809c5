package parser

import (
	"fmt"
	"strings"
	"time"
)

// Format tags the statement file format chosen by the uploader.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatOFX     Format = "ofx"
	FormatPDFText Format = "pdf_text"
)

// ParseFormat maps a user-supplied tag (or a file extension) to a Format,
// ignoring case. PDF documents are refused: only their extracted text parses.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "tsv", "txt-csv", ".csv", ".tsv":
		return FormatCSV, nil
	case "ofx", "qfx", ".ofx", ".qfx":
		return FormatOFX, nil
	case "pdf_text", "text", "txt", ".txt":
		return FormatPDFText, nil
	case "pdf", ".pdf":
		return "", ErrBinaryPDF
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// TransactionType is the direction of money movement.
type TransactionType string

const (
	TypeIncome   TransactionType = "INCOME"
	TypeExpense  TransactionType = "EXPENSE"
	TypeTransfer TransactionType = "TRANSFER"
)

// AccountType is the advisory account kind detected in a statement.
type AccountType string

const (
	AccountChecking   AccountType = "CHECKING"
	AccountSavings    AccountType = "SAVINGS"
	AccountCredit     AccountType = "CREDIT"
	AccountInvestment AccountType = "INVESTMENT"
)

// ParsedTransaction is one canonical statement line.
// AmountCents is always positive; direction lives only in Type.
type ParsedTransaction struct {
	Date        time.Time       `json:"date"`
	AmountCents int64           `json:"amount_cents"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	CheckNumber string          `json:"check_number,omitempty"`
	Memo        string          `json:"memo,omitempty"`
}

// SignedCents returns the amount with expenses negative. Transfers move money
// between the user's own accounts without a known side, so they stay positive and
// TypeTransfer alone marks them.
func (t ParsedTransaction) SignedCents() int64 {
	if t.Type == TypeExpense {
		return -t.AmountCents
	}
	return t.AmountCents
}

// DetectedAccount holds advisory account metadata. Empty fields are unknown.
type DetectedAccount struct {
	Institution string      `json:"institution,omitempty"`
	AccountType AccountType `json:"account_type,omitempty"`
	AccountName string      `json:"account_name,omitempty"`
	AccountMask string      `json:"account_mask,omitempty"`
}

// ParsedStatement is the common output of every format parser.
type ParsedStatement struct {
	Format       Format              `json:"format"`
	Transactions []ParsedTransaction `json:"transactions"`
	Account      DetectedAccount     `json:"account"`
	Warnings     []string            `json:"warnings"`
	// SourceFingerprint identifies the column layout of delimited files.
	SourceFingerprint string `json:"source_fingerprint,omitempty"`
}

func (s *ParsedStatement) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// add appends a transaction, enforcing the positive amount invariant.
func (s *ParsedStatement) add(tx ParsedTransaction) {
	if tx.AmountCents < 0 {
		tx.AmountCents = -tx.AmountCents
	}
	if tx.AmountCents == 0 {
		return
	}
	s.Transactions = append(s.Transactions, tx)
}
