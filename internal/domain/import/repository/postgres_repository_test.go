package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/account"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

// anyArgs matches n bind parameters of a multi-row insert.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresImportRepository_ListAccounts(t *testing.T) {
	mock := newMock(t)
	userID, acctID := uuid.New(), uuid.New()
	created := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(listAccountsQuery)).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "name", "institution", "account_type", "mask", "currency_code", "created_at"}).
			AddRow(acctID, userID, "Chase Credit ••1111", "Chase", parser.AccountCredit, "1111", "USD", created))

	repo := NewPostgresImportRepository(mock)
	accounts, err := repo.ListAccounts(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != acctID || accounts[0].Mask != "1111" || accounts[0].AccountType != parser.AccountCredit {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_CreateAccount(t *testing.T) {
	mock := newMock(t)
	userID := uuid.New()
	created := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(createAccountQuery)).
		WithArgs(pgxmock.AnyArg(), userID, "Imported account", "", "", "", "USD").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	repo := NewPostgresImportRepository(mock)
	acct := &account.Account{UserID: userID, Name: "Imported account", Currency: "USD"}
	if err := repo.CreateAccount(context.Background(), acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.ID == uuid.Nil || !acct.CreatedAt.Equal(created) {
		t.Fatalf("account not populated: %+v", acct)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_CreateImportJob_DefaultsPending(t *testing.T) {
	mock := newMock(t)
	userID := uuid.New()
	requested := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(createImportJobQuery)).
		WithArgs(pgxmock.AnyArg(), userID, (*uuid.UUID)(nil), "march.csv", "csv", "pending", 0).
		WillReturnRows(pgxmock.NewRows([]string{"requested_at"}).AddRow(requested))

	repo := NewPostgresImportRepository(mock)
	job := &ImportJob{UserID: userID, FileName: "march.csv", Format: parser.FormatCSV}
	if err := repo.CreateImportJob(context.Background(), job); err != nil {
		t.Fatalf("CreateImportJob: %v", err)
	}
	if job.Status != JobPending || job.ID == uuid.Nil {
		t.Fatalf("job defaults not applied: %+v", job)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_GetImportJob_NotFound(t *testing.T) {
	mock := newMock(t)
	userID, jobID := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(getImportJobQuery)).
		WithArgs(jobID, userID).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresImportRepository(mock)
	_, err := repo.GetImportJob(context.Background(), userID, jobID)
	if !errors.Is(err, ErrImportJobNotFound) {
		t.Fatalf("expected ErrImportJobNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_UpdateImportJobStatus(t *testing.T) {
	mock := newMock(t)
	jobID := uuid.New()
	msg := "store unreachable"
	mock.ExpectExec(regexp.QuoteMeta(updateImportJobStatusQuery)).
		WithArgs(jobID, "error", &msg).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewPostgresImportRepository(mock)
	if err := repo.UpdateImportJobStatus(context.Background(), jobID, JobError, &msg); err != nil {
		t.Fatalf("UpdateImportJobStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_ListTransactionsInWindow(t *testing.T) {
	mock := newMock(t)
	userID, txID := uuid.New(), uuid.New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	mock.ExpectQuery(regexp.QuoteMeta(listWindowQuery)).
		WithArgs(userID, (*uuid.UUID)(nil), from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "posted_at", "abs", "type", "description", "coalesce"}).
			AddRow(txID, from.AddDate(0, 0, 4), int64(450), "EXPENSE", "COFFEE SHOP", "FIT-1"))

	repo := NewPostgresImportRepository(mock)
	existing, err := repo.ListTransactionsInWindow(context.Background(), userID, nil, from, to)
	if err != nil {
		t.Fatalf("ListTransactionsInWindow: %v", err)
	}
	if len(existing) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(existing))
	}
	got := existing[0]
	if got.ID != txID || got.AmountCents != 450 || got.Type != parser.TypeExpense || got.ExternalID != "FIT-1" {
		t.Fatalf("unexpected transaction: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_BulkInsertTransactions_SkipsConflicts(t *testing.T) {
	mock := newMock(t)
	userID, acctID, jobID := uuid.New(), uuid.New(), uuid.New()
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	txs := []NewTransaction{
		{AccountID: acctID, ImportJobID: jobID, Date: date, AmountCents: -450, Currency: "USD", Type: parser.TypeExpense, Description: "Coffee", ImportHash: "h:0", Source: "csv"},
		{AccountID: acctID, ImportJobID: jobID, Date: date, AmountCents: -450, Currency: "USD", Type: parser.TypeExpense, Description: "Coffee", ImportHash: "h:1", Source: "csv"},
		{AccountID: acctID, ImportJobID: jobID, Date: date, AmountCents: 500000, Currency: "USD", Type: parser.TypeIncome, Description: "Payroll", ImportHash: "p:0", Source: "csv"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertTransactionsPrefix)).
		WithArgs(anyArgs(len(txs) * insertColumns)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	repo := NewPostgresImportRepository(mock)
	inserted, err := repo.BulkInsertTransactions(context.Background(), userID, txs)
	if err != nil {
		t.Fatalf("BulkInsertTransactions: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", inserted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_BulkInsertTransactions_Transfer(t *testing.T) {
	mock := newMock(t)
	userID := uuid.New()
	tx := NewTransaction{
		ID: uuid.New(), AccountID: uuid.New(), ImportJobID: uuid.New(),
		Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), AmountCents: 20000, Currency: "USD",
		Type: parser.TypeTransfer, Description: "Online Transfer To Savings",
		OriginalDescription: "ONLINE TRANSFER TO SAVINGS", ImportHash: "t:0", Source: "pdf_text",
	}
	var none *string

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertTransactionsPrefix)).
		WithArgs(tx.ID, userID, tx.AccountID, tx.ImportJobID, tx.Date, int64(20000), "USD", "TRANSFER",
			tx.Description, tx.OriginalDescription, none, none, none, none, none, "t:0", "pdf_text").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewPostgresImportRepository(mock)
	inserted, err := repo.BulkInsertTransactions(context.Background(), userID, []NewTransaction{tx})
	if err != nil {
		t.Fatalf("BulkInsertTransactions: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected the transfer to be inserted, got %d", inserted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_BulkInsertTransactions_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertTransactionsPrefix)).
		WithArgs(anyArgs(insertColumns)...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	repo := NewPostgresImportRepository(mock)
	_, err := repo.BulkInsertTransactions(context.Background(), uuid.New(), []NewTransaction{{Description: "x", AmountCents: 1}})
	if err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresImportRepository_BulkInsertTransactions_Empty(t *testing.T) {
	mock := newMock(t)
	repo := NewPostgresImportRepository(mock)

	inserted, err := repo.BulkInsertTransactions(context.Background(), uuid.New(), nil)
	if err != nil || inserted != 0 {
		t.Fatalf("expected no-op, got %d, %v", inserted, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBuildInsert_Chunk(t *testing.T) {
	userID := uuid.New()
	txs := []NewTransaction{{Description: "a"}, {Description: "b", Category: "Dining"}}

	query, args := buildInsert(userID, txs)

	if !strings.HasPrefix(query, insertTransactionsPrefix) || !strings.HasSuffix(query, insertTransactionsSuffix) {
		t.Fatalf("unexpected query shape: %s", query)
	}
	if !strings.Contains(query, "$34)") {
		t.Fatalf("expected 34 placeholders, got %s", query)
	}
	if len(args) != 2*insertColumns {
		t.Fatalf("expected %d args, got %d", 2*insertColumns, len(args))
	}
	if args[1] != userID {
		t.Fatalf("user id not bound: %v", args[1])
	}
	if cat, ok := args[insertColumns+11].(*string); !ok || cat == nil || *cat != "Dining" {
		t.Fatalf("category not bound: %v", args[insertColumns+11])
	}
	if cat, ok := args[11].(*string); !ok || cat != nil {
		t.Fatalf("empty category should bind NULL, got %v", args[11])
	}
}

func TestPostgresImportRepository_MerchantRules(t *testing.T) {
	mock := newMock(t)
	userID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(listMerchantRulesQuery)).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "merchant_key", "category"}).
			AddRow(userID, "netflix", "Entertainment"))
	mock.ExpectExec(regexp.QuoteMeta(upsertMerchantRuleQuery)).
		WithArgs(userID, "spotify", "Entertainment").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresImportRepository(mock)
	rules, err := repo.ListMerchantRules(context.Background(), userID)
	if err != nil {
		t.Fatalf("ListMerchantRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Category != "Entertainment" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	err = repo.UpsertMerchantRule(context.Background(), categorizer.MerchantRule{UserID: userID, MerchantKey: "spotify", Category: "Entertainment"})
	if err != nil {
		t.Fatalf("UpsertMerchantRule: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
