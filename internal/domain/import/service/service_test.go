package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/account"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/cache"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/dedup"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/echo-ingest/internal/domain/recurring"
)

type fakeImportRepo struct {
	mu sync.Mutex

	accounts         []account.Account
	createAccountErr error

	jobs     map[uuid.UUID]*repository.ImportJob
	statuses []repository.JobStatus
	messages []string

	window      []dedup.ExistingTransaction
	windowErr   error
	windowScope *uuid.UUID
	// byAccount overrides window for account-scoped lookups.
	byAccount map[uuid.UUID][]dedup.ExistingTransaction

	inserted  []repository.NewTransaction
	insertErr error
	// conflicts is how many rows the store pretends it already holds.
	conflicts int

	rules []categorizer.MerchantRule
}

var _ repository.ImportRepository = (*fakeImportRepo)(nil)

func newFakeRepo() *fakeImportRepo {
	return &fakeImportRepo{jobs: map[uuid.UUID]*repository.ImportJob{}}
}

func (f *fakeImportRepo) ListAccounts(context.Context, uuid.UUID) ([]account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]account.Account, len(f.accounts))
	copy(out, f.accounts)
	return out, nil
}

func (f *fakeImportRepo) CreateAccount(_ context.Context, acct *account.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAccountErr != nil {
		return f.createAccountErr
	}
	acct.ID = uuid.New()
	f.accounts = append(f.accounts, *acct)
	return nil
}

func (f *fakeImportRepo) CreateImportJob(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.New()
	cp := *job
	f.jobs[job.ID] = &cp
	f.statuses = append(f.statuses, job.Status)
	return nil
}

func (f *fakeImportRepo) GetImportJob(_ context.Context, userID, id uuid.UUID) (*repository.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return nil, repository.ErrImportJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeImportRepo) UpdateImportJobStatus(_ context.Context, id uuid.UUID, status repository.JobStatus, msg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Status = status
	f.jobs[id].ErrorMessage = msg
	f.statuses = append(f.statuses, status)
	if msg != nil {
		f.messages = append(f.messages, *msg)
	}
	return nil
}

func (f *fakeImportRepo) FinishImportJob(_ context.Context, id, accountID uuid.UUID, imported, skipped int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	job.Status = repository.JobConfirmed
	job.AccountID = &accountID
	job.RowsImported, job.RowsSkipped = imported, skipped
	f.statuses = append(f.statuses, repository.JobConfirmed)
	return nil
}

func (f *fakeImportRepo) ListTransactionsInWindow(_ context.Context, _ uuid.UUID, accountID *uuid.UUID, _, _ time.Time) ([]dedup.ExistingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowScope = accountID
	if accountID != nil {
		if rows, ok := f.byAccount[*accountID]; ok {
			return rows, f.windowErr
		}
	}
	return f.window, f.windowErr
}

func (f *fakeImportRepo) BulkInsertTransactions(_ context.Context, _ uuid.UUID, txs []repository.NewTransaction) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, txs...)
	return max(len(txs)-f.conflicts, 0), nil
}

func (f *fakeImportRepo) ListMerchantRules(context.Context, uuid.UUID) ([]categorizer.MerchantRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, nil
}

func (f *fakeImportRepo) UpsertMerchantRule(_ context.Context, rule categorizer.MerchantRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeImportRepo) lastStatus() repository.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

type fakeDetector struct {
	calls int
	err   error
}

func (d *fakeDetector) DetectForUser(context.Context, uuid.UUID) (*recurring.DetectionResult, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &recurring.DetectionResult{Upserted: 1}, nil
}

type brokenCategorizer struct{}

func (brokenCategorizer) Categorize(context.Context, uuid.UUID, []parser.ParsedTransaction) ([]categorizer.Categorization, error) {
	return nil, errors.New("upstream timeout")
}

const chaseCSV = "Date,Description,Amount\n" +
	"01/05/2024,Coffee Shop,-4.50\n" +
	"01/15/2024,ACME PAYROLL,2500.00\n" +
	"01/20/2024,NETFLIX.COM,-15.99\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(repo *fakeImportRepo) *ImportService {
	return NewImportService(repo, cache.NewMemoryStore(time.Hour, time.Minute), testLogger())
}

func previewChase(t *testing.T, svc *ImportService, userID uuid.UUID) *Preview {
	t.Helper()
	preview, err := svc.Preview(context.Background(), PreviewRequest{
		UserID:   userID,
		FileName: "Chase_Checking_x1234.csv",
		Format:   parser.FormatCSV,
		Data:     []byte(chaseCSV),
	})
	require.NoError(t, err)
	return preview
}

func TestPreview_MatchesAccountAndFlagsDuplicates(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	acct := account.Account{ID: uuid.New(), UserID: userID, Name: "Everyday", Institution: "Chase", AccountType: parser.AccountChecking, Mask: "1234", Currency: "USD"}
	repo.accounts = []account.Account{acct}
	existingID := uuid.New()
	repo.window = []dedup.ExistingTransaction{{
		ID: existingID, Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		AmountCents: 450, Type: parser.TypeExpense, Description: "Coffee Shop",
	}}
	svc := newTestService(repo)

	preview := previewChase(t, svc, userID)

	require.NotNil(t, preview.MatchedAccount)
	assert.Equal(t, acct.ID, preview.MatchedAccount.ID)
	require.NotNil(t, repo.windowScope)
	assert.Equal(t, acct.ID, *repo.windowScope)

	require.Len(t, preview.Transactions, 3)
	assert.Equal(t, 1, preview.DuplicateCount)
	assert.True(t, preview.Transactions[0].IsDuplicate)
	assert.Equal(t, existingID, *preview.Transactions[0].DuplicateOf)
	assert.False(t, preview.Transactions[1].IsDuplicate)

	assert.Equal(t, "Income", preview.Transactions[1].SuggestedCategory)
	assert.Equal(t, "Subscriptions", preview.Transactions[2].SuggestedCategory)
	assert.Equal(t, "Netflix", preview.Transactions[2].CleanedMerchant)
	assert.Equal(t, string(categorizer.SourceKeyword), preview.Transactions[2].CategorySource)
	assert.Equal(t, repository.JobPreviewed, repo.lastStatus())

	cached, err := svc.GetPreview(context.Background(), userID, preview.ImportID)
	require.NoError(t, err)
	assert.Equal(t, preview.ImportID, cached.ImportID)
	assert.Len(t, cached.Transactions, 3)
	assert.True(t, cached.Transactions[0].Date.Equal(preview.Transactions[0].Date))
}

func TestPreview_DegradesWhenCollaboratorsFail(t *testing.T) {
	repo := newFakeRepo()
	repo.window = []dedup.ExistingTransaction{{ID: uuid.New()}}
	repo.windowErr = errors.New("statement timeout")
	svc := newTestService(repo).WithCategorizer(brokenCategorizer{})

	preview := previewChase(t, svc, uuid.New())

	assert.Equal(t, 0, preview.DuplicateCount)
	for _, tx := range preview.Transactions {
		assert.Equal(t, string(categorizer.SourceKeyword), tx.CategorySource)
	}
	assert.Equal(t, repository.JobPreviewed, repo.lastStatus())
}

func TestPreview_EmptyStatementStillPreviews(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	preview, err := svc.Preview(context.Background(), PreviewRequest{
		UserID: uuid.New(), FileName: "blank.csv", Format: parser.FormatCSV, Data: []byte("nothing useful here"),
	})

	require.NoError(t, err)
	assert.Empty(t, preview.Transactions)
	assert.NotEmpty(t, preview.Warnings)
}

func TestPreview_RejectsEmptyUpload(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), Format: parser.FormatCSV})

	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestGetPreview_OtherUser(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	preview := previewChase(t, svc, uuid.New())

	_, err := svc.GetPreview(context.Background(), uuid.New(), preview.ImportID)

	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func TestConfirm_CreatesAccountAndSkipsDuplicates(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	repo.window = []dedup.ExistingTransaction{{
		ID: uuid.New(), Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		AmountCents: 450, Type: parser.TypeExpense, Description: "Coffee Shop",
	}}
	detector := &fakeDetector{}
	svc := newTestService(repo).WithRecurringDetector(detector).WithDefaultCurrency("eur")
	preview := previewChase(t, svc, userID)
	require.Nil(t, preview.MatchedAccount)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{
		UserID:            userID,
		ImportID:          preview.ImportID,
		CategoryOverrides: map[int]string{2: "Entertainment"},
		RememberOverrides: true,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	require.NotNil(t, result.Recurring)
	assert.Equal(t, 1, detector.calls)

	require.Len(t, repo.accounts, 1)
	created := repo.accounts[0]
	assert.Equal(t, result.AccountID, created.ID)
	assert.Equal(t, "Chase Checking ••1234", created.Name)
	assert.Equal(t, "EUR", created.Currency)

	require.Len(t, repo.inserted, 2)
	payroll, netflix := repo.inserted[0], repo.inserted[1]
	assert.Equal(t, int64(250000), payroll.AmountCents)
	assert.Equal(t, int64(-1599), netflix.AmountCents)
	assert.Equal(t, "Entertainment", netflix.Category)
	assert.Equal(t, "Netflix", netflix.MerchantName)
	assert.Equal(t, "csv", netflix.Source)
	assert.True(t, strings.HasSuffix(netflix.ImportHash, ":0"))

	require.Len(t, repo.rules, 1)
	assert.Equal(t, "netflix", repo.rules[0].MerchantKey)

	assert.Equal(t, repository.JobConfirmed, repo.lastStatus())
	_, err = svc.GetPreview(context.Background(), userID, preview.ImportID)
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

const transferStatement = `Statement Period: 01/01/2024 through 01/31/2024
Transaction History
Transfers
01/05 ONLINE TRANSFER TO SAVINGS 200.00
Withdrawals
01/07 COFFEE SHOP 4.50
`

func TestConfirm_PersistsTransferRows(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	svc := newTestService(repo)
	preview, err := svc.Preview(context.Background(), PreviewRequest{
		UserID: userID, FileName: "statement.txt", Format: parser.FormatPDFText, Data: []byte(transferStatement),
	})
	require.NoError(t, err)
	require.Len(t, preview.Transactions, 2)
	require.Equal(t, parser.TypeTransfer, preview.Transactions[0].Type)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	require.Len(t, repo.inserted, 2)
	transfer, coffee := repo.inserted[0], repo.inserted[1]
	assert.Equal(t, parser.TypeTransfer, transfer.Type)
	assert.Equal(t, int64(20000), transfer.AmountCents)
	assert.Equal(t, parser.TypeExpense, coffee.Type)
	assert.Equal(t, int64(-450), coffee.AmountCents)
	assert.Equal(t, repository.JobConfirmed, repo.lastStatus())
}

func TestConfirm_StoreConflictsCountAsSkipped(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	repo.conflicts = 3
	svc := newTestService(repo)
	preview := previewChase(t, svc, userID)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID, IncludeDuplicates: true})

	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 3, result.Skipped)
}

func TestConfirm_InsertFailureMarksJobErrored(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	repo.insertErr = errors.New("connection refused")
	svc := newTestService(repo)
	preview := previewChase(t, svc, userID)

	_, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID})

	require.Error(t, err)
	assert.ErrorIs(t, err, repo.insertErr)
	assert.Equal(t, repository.JobError, repo.lastStatus())
	require.NotEmpty(t, repo.messages)
	assert.Contains(t, repo.messages[len(repo.messages)-1], "connection refused")

	_, err = svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID})
	assert.ErrorIs(t, err, ErrImportClosed)
}

func TestConfirm_RecurringFailureIsNotFatal(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	svc := newTestService(repo).WithRecurringDetector(&fakeDetector{err: errors.New("boom")})
	preview := previewChase(t, svc, userID)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID})

	require.NoError(t, err)
	assert.Nil(t, result.Recurring)
	assert.Equal(t, 3, result.Imported)
}

func TestConfirm_UsesRequestedAccount(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	savings := account.Account{ID: uuid.New(), UserID: userID, Name: "Savings", Currency: "GBP"}
	repo.accounts = []account.Account{savings}
	svc := newTestService(repo)
	preview := previewChase(t, svc, userID)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID, AccountID: &savings.ID})
	require.NoError(t, err)
	assert.Equal(t, savings.ID, result.AccountID)
	assert.Equal(t, "GBP", repo.inserted[0].Currency)

	missing := uuid.New()
	preview = previewChase(t, svc, userID)
	_, err = svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID, AccountID: &missing})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPreview_RejectsBinaryPDF(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	_, err := svc.Preview(context.Background(), PreviewRequest{
		UserID:   uuid.New(),
		FileName: "statement.txt",
		Format:   parser.FormatPDFText,
		Data:     []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n"),
	})

	assert.ErrorIs(t, err, parser.ErrBinaryPDF)
	assert.ErrorIs(t, err, parser.ErrUnsupportedFormat)
	assert.Empty(t, repo.jobs)
}

func TestConfirm_RechecksDuplicatesForChosenAccount(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	checking := account.Account{ID: uuid.New(), UserID: userID, Name: "Everyday", Institution: "Chase", AccountType: parser.AccountChecking, Mask: "1234", Currency: "USD"}
	savings := account.Account{ID: uuid.New(), UserID: userID, Name: "Savings", Currency: "USD"}
	repo.accounts = []account.Account{checking, savings}
	storedID := uuid.New()
	repo.byAccount = map[uuid.UUID][]dedup.ExistingTransaction{
		checking.ID: nil,
		savings.ID: {{
			ID: storedID, Date: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
			AmountCents: 1599, Type: parser.TypeExpense, Description: "NETFLIX.COM",
		}},
	}
	svc := newTestService(repo)

	preview := previewChase(t, svc, userID)
	require.NotNil(t, preview.MatchedAccount)
	require.Equal(t, checking.ID, preview.MatchedAccount.ID)
	require.Equal(t, 0, preview.DuplicateCount)

	result, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID, AccountID: &savings.ID})
	require.NoError(t, err)

	require.NotNil(t, repo.windowScope)
	assert.Equal(t, savings.ID, *repo.windowScope)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, repo.inserted, 2)
	for _, row := range repo.inserted {
		assert.NotEqual(t, "NETFLIX.COM", row.Description)
		assert.Equal(t, savings.ID, row.AccountID)
	}
}

func TestConfirm_RejectsBadRequests(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	svc := newTestService(repo)
	preview := previewChase(t, svc, userID)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, ConfirmRequest{UserID: userID, ImportID: preview.ImportID, CategoryOverrides: map[int]string{9: "Dining"}})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	id := uuid.New()
	_, err = svc.Confirm(ctx, ConfirmRequest{UserID: userID, ImportID: preview.ImportID, AccountID: &id, NewAccount: &NewAccount{Name: "x"}})
	assert.ErrorIs(t, err, ErrAmbiguousAccount)

	_, err = svc.Confirm(ctx, ConfirmRequest{UserID: userID, ImportID: uuid.New()})
	assert.ErrorIs(t, err, ErrPreviewNotFound)
}

func TestConfirm_ExpiredPreviewMarksJobErrored(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	store := cache.NewMemoryStore(time.Hour, time.Minute)
	svc := NewImportService(repo, store, testLogger())
	preview := previewChase(t, svc, userID)
	require.NoError(t, store.Delete(context.Background(), cache.PreviewKey(preview.ImportID.String())))

	_, err := svc.Confirm(context.Background(), ConfirmRequest{UserID: userID, ImportID: preview.ImportID})

	assert.ErrorIs(t, err, ErrPreviewNotFound)
	assert.Equal(t, repository.JobError, repo.lastStatus())
}

func TestCancelPreview(t *testing.T) {
	userID := uuid.New()
	repo := newFakeRepo()
	svc := newTestService(repo)
	preview := previewChase(t, svc, userID)

	require.NoError(t, svc.CancelPreview(context.Background(), userID, preview.ImportID))

	assert.Equal(t, repository.JobCancelled, repo.lastStatus())
	_, err := svc.GetPreview(context.Background(), userID, preview.ImportID)
	assert.ErrorIs(t, err, ErrPreviewNotFound)
	assert.ErrorIs(t, svc.CancelPreview(context.Background(), userID, preview.ImportID), ErrImportClosed)
}
