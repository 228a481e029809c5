// Package repository provides data access for import-related entities.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/account"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/dedup"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

var ErrImportJobNotFound = errors.New("import job not found")

// JobStatus is the lifecycle state of an import.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobPreviewed JobStatus = "previewed"
	JobConfirmed JobStatus = "confirmed"
	JobCancelled JobStatus = "cancelled"
	JobError     JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobConfirmed || s == JobCancelled || s == JobError
}

// ImportJob tracks one uploaded statement from preview to confirmation.
type ImportJob struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	UserID       uuid.UUID     `db:"user_id" json:"user_id"`
	AccountID    *uuid.UUID    `db:"account_id" json:"account_id,omitempty"`
	FileName     string        `db:"file_name" json:"file_name"`
	Format       parser.Format `db:"format" json:"format"`
	Status       JobStatus     `db:"status" json:"status"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	RowsTotal    int           `db:"rows_total" json:"rows_total"`
	RowsImported int           `db:"rows_imported" json:"rows_imported"`
	RowsSkipped  int           `db:"rows_skipped" json:"rows_skipped"`
	RequestedAt  time.Time     `db:"requested_at" json:"requested_at"`
	FinishedAt   *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
}

// NewTransaction is one confirmed line ready to persist. AmountCents is signed:
// negative for expenses.
type NewTransaction struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	ImportJobID         uuid.UUID
	Date                time.Time
	AmountCents         int64
	Currency            string
	Type                parser.TransactionType
	Description         string
	OriginalDescription string
	MerchantName        string
	Category            string
	ExternalID          string
	CheckNumber         string
	Memo                string
	ImportHash          string
	Source              string
}

// ImportRepository defines data access operations for imports
type ImportRepository interface {
	// Accounts
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]account.Account, error)
	CreateAccount(ctx context.Context, acct *account.Account) error

	// Import Jobs
	CreateImportJob(ctx context.Context, job *ImportJob) error
	GetImportJob(ctx context.Context, userID, id uuid.UUID) (*ImportJob, error)
	UpdateImportJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errorMessage *string) error
	FinishImportJob(ctx context.Context, id uuid.UUID, accountID uuid.UUID, rowsImported, rowsSkipped int) error

	// Transactions
	ListTransactionsInWindow(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, from, to time.Time) ([]dedup.ExistingTransaction, error)
	BulkInsertTransactions(ctx context.Context, userID uuid.UUID, txs []NewTransaction) (int, error)

	// Categorization
	ListMerchantRules(ctx context.Context, userID uuid.UUID) ([]categorizer.MerchantRule, error)
	UpsertMerchantRule(ctx context.Context, rule categorizer.MerchantRule) error
}
