package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/account"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/dedup"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// insertChunkSize keeps one statement under the 65535 bind-parameter limit.
const insertChunkSize = 500

const (
	listAccountsQuery = `
		SELECT id, user_id, name, COALESCE(institution, '') AS institution,
		       COALESCE(account_type, '') AS account_type, COALESCE(mask, '') AS mask,
		       currency_code, created_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at, id
	`

	createAccountQuery = `
		INSERT INTO accounts (id, user_id, name, institution, account_type, mask, currency_code)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		RETURNING created_at
	`

	createImportJobQuery = `
		INSERT INTO import_jobs (id, user_id, account_id, file_name, format, status, rows_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING requested_at
	`

	getImportJobQuery = `
		SELECT id, user_id, account_id, file_name, format, status, error_message,
		       rows_total, rows_imported, rows_skipped, requested_at, finished_at
		FROM import_jobs
		WHERE id = $1 AND user_id = $2
	`

	updateImportJobStatusQuery = `UPDATE import_jobs SET status = $2, error_message = $3 WHERE id = $1`

	finishImportJobQuery = `
		UPDATE import_jobs SET
			status = 'confirmed', account_id = $2, rows_imported = $3, rows_skipped = $4,
			error_message = NULL, finished_at = NOW()
		WHERE id = $1
	`

	listWindowQuery = `
		SELECT id, posted_at, ABS(amount_minor), type, description, COALESCE(external_id, '')
		FROM transactions
		WHERE user_id = $1
		  AND ($2::uuid IS NULL OR account_id = $2)
		  AND posted_at BETWEEN $3 AND $4
		ORDER BY posted_at, id
	`

	insertTransactionsPrefix = `INSERT INTO transactions (
			id, user_id, account_id, import_job_id, posted_at, amount_minor, currency_code, type,
			description, original_description, merchant_name, category, external_id,
			check_number, memo, import_hash, source
		) VALUES `

	insertTransactionsSuffix = ` ON CONFLICT DO NOTHING`

	listMerchantRulesQuery = `
		SELECT user_id, merchant_key, category
		FROM merchant_rules
		WHERE user_id = $1
	`

	upsertMerchantRuleQuery = `
		INSERT INTO merchant_rules (user_id, merchant_key, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, merchant_key) DO UPDATE SET category = EXCLUDED.category, updated_at = NOW()
	`
)

const insertColumns = 17

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pgpool PgxPool
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pgpool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pgpool: pgpool}
}

var _ ImportRepository = (*PostgresImportRepository)(nil)

func (r *PostgresImportRepository) ListAccounts(ctx context.Context, userID uuid.UUID) ([]account.Account, error) {
	rows, err := r.pgpool.Query(ctx, listAccountsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, pgx.RowToStructByName[account.Account])
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return accounts, nil
}

// CreateAccount inserts acct, assigning an id when it has none.
func (r *PostgresImportRepository) CreateAccount(ctx context.Context, acct *account.Account) error {
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	err := r.pgpool.QueryRow(ctx, createAccountQuery,
		acct.ID, acct.UserID, acct.Name, acct.Institution, string(acct.AccountType), acct.Mask, acct.Currency,
	).Scan(&acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// CreateImportJob creates a new import job
func (r *PostgresImportRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	err := r.pgpool.QueryRow(ctx, createImportJobQuery,
		job.ID, job.UserID, job.AccountID, job.FileName, string(job.Format), string(job.Status), job.RowsTotal,
	).Scan(&job.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// GetImportJob retrieves a user's import job by ID
func (r *PostgresImportRepository) GetImportJob(ctx context.Context, userID, id uuid.UUID) (*ImportJob, error) {
	var (
		job            ImportJob
		format, status string
	)
	err := r.pgpool.QueryRow(ctx, getImportJobQuery, id, userID).Scan(
		&job.ID, &job.UserID, &job.AccountID, &job.FileName, &format, &status, &job.ErrorMessage,
		&job.RowsTotal, &job.RowsImported, &job.RowsSkipped, &job.RequestedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrImportJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	job.Format, job.Status = parser.Format(format), JobStatus(status)
	return &job, nil
}

// UpdateImportJobStatus updates the status of an import job
func (r *PostgresImportRepository) UpdateImportJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, errorMessage *string) error {
	if _, err := r.pgpool.Exec(ctx, updateImportJobStatusQuery, id, string(status), errorMessage); err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	return nil
}

// FinishImportJob marks an import job as confirmed with its final counts.
func (r *PostgresImportRepository) FinishImportJob(ctx context.Context, id uuid.UUID, accountID uuid.UUID, rowsImported, rowsSkipped int) error {
	if _, err := r.pgpool.Exec(ctx, finishImportJobQuery, id, accountID, rowsImported, rowsSkipped); err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

// ListTransactionsInWindow returns stored transactions dated within [from, to],
// optionally scoped to one account, with unsigned amounts.
func (r *PostgresImportRepository) ListTransactionsInWindow(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, from, to time.Time) ([]dedup.ExistingTransaction, error) {
	rows, err := r.pgpool.Query(ctx, listWindowQuery, userID, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup window: %w", err)
	}
	defer rows.Close()

	var out []dedup.ExistingTransaction
	for rows.Next() {
		var (
			tx  dedup.ExistingTransaction
			typ string
		)
		if err := rows.Scan(&tx.ID, &tx.Date, &tx.AmountCents, &typ, &tx.Description, &tx.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Type = parser.TransactionType(typ)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dedup window: %w", err)
	}
	return out, nil
}

// BulkInsertTransactions inserts txs in one database transaction. Rows that collide
// with an existing import hash or external id are skipped, not failed; the return
// value counts only rows actually written.
func (r *PostgresImportRepository) BulkInsertTransactions(ctx context.Context, userID uuid.UUID, txs []NewTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	dbtx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	inserted := 0
	for start := 0; start < len(txs); start += insertChunkSize {
		end := min(start+insertChunkSize, len(txs))
		query, args := buildInsert(userID, txs[start:end])
		tag, err := dbtx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to bulk insert transactions: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := dbtx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transactions: %w", err)
	}
	return inserted, nil
}

func buildInsert(userID uuid.UUID, txs []NewTransaction) (string, []any) {
	var b strings.Builder
	b.WriteString(insertTransactionsPrefix)
	args := make([]any, 0, len(txs)*insertColumns)
	for i, tx := range txs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < insertColumns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*insertColumns+c+1)
		}
		b.WriteByte(')')

		id := tx.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		args = append(args,
			id, userID, tx.AccountID, tx.ImportJobID, tx.Date, tx.AmountCents, tx.Currency, string(tx.Type),
			tx.Description, tx.OriginalDescription, nullable(tx.MerchantName), nullable(tx.Category), nullable(tx.ExternalID),
			nullable(tx.CheckNumber), nullable(tx.Memo), tx.ImportHash, tx.Source,
		)
	}
	b.WriteString(insertTransactionsSuffix)
	return b.String(), args
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PostgresImportRepository) ListMerchantRules(ctx context.Context, userID uuid.UUID) ([]categorizer.MerchantRule, error) {
	rows, err := r.pgpool.Query(ctx, listMerchantRulesQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchant rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, pgx.RowToStructByName[categorizer.MerchantRule])
	if err != nil {
		return nil, fmt.Errorf("failed to scan merchant rules: %w", err)
	}
	return rules, nil
}

// UpsertMerchantRule pins rule.Category to rule.MerchantKey for the user.
func (r *PostgresImportRepository) UpsertMerchantRule(ctx context.Context, rule categorizer.MerchantRule) error {
	if _, err := r.pgpool.Exec(ctx, upsertMerchantRuleQuery, rule.UserID, rule.MerchantKey, rule.Category); err != nil {
		return fmt.Errorf("failed to upsert merchant rule: %w", err)
	}
	return nil
}
