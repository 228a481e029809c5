// Package service provides the import orchestration logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/account"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/cache"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/categorizer"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/dedup"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/merchant"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/echo-ingest/internal/domain/recurring"
	"github.com/FACorreiaa/echo-ingest/pkg/observability"
)

var tracer = otel.Tracer("echo/import")

var (
	ErrEmptyFile        = errors.New("uploaded file is empty")
	ErrPreviewNotFound  = errors.New("import preview not found or expired")
	ErrImportClosed     = errors.New("import is no longer open")
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidOverride  = errors.New("category override references an unknown row")
	ErrAmbiguousAccount = errors.New("choose either an existing account or a new one, not both")
)

const defaultCurrency = "USD"

// RecurringDetector reruns pattern detection after new transactions land.
type RecurringDetector interface {
	DetectForUser(ctx context.Context, userID uuid.UUID) (*recurring.DetectionResult, error)
}

// PreviewRequest is one uploaded statement.
type PreviewRequest struct {
	UserID   uuid.UUID
	FileName string
	Format   parser.Format
	Data     []byte
	// AccountID scopes duplicate detection to an account the user already picked.
	AccountID *uuid.UUID
}

// Preview is what the user reviews before confirming. It lives only in the cache.
type Preview struct {
	ImportID         uuid.UUID                  `json:"import_id"`
	UserID           uuid.UUID                  `json:"user_id"`
	FileName         string                     `json:"file_name"`
	Format           parser.Format              `json:"format"`
	DetectedAccount  parser.DetectedAccount     `json:"detected_account"`
	MatchedAccount   *account.Account           `json:"matched_account,omitempty"`
	SuggestedAccount string                     `json:"suggested_account_name"`
	Transactions     []dedup.PreviewTransaction `json:"transactions"`
	Warnings         []string                   `json:"warnings"`
	DuplicateCount   int                        `json:"duplicate_count"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// NewAccount describes an account to create on confirm.
type NewAccount struct {
	Name        string             `json:"name"`
	Institution string             `json:"institution"`
	AccountType parser.AccountType `json:"account_type"`
	Mask        string             `json:"mask"`
	Currency    string             `json:"currency"`
}

// ConfirmRequest carries the user's decisions for a previewed import.
type ConfirmRequest struct {
	UserID   uuid.UUID
	ImportID uuid.UUID
	// At most one of AccountID and NewAccount. With neither, the matched account is
	// used, or one is created from the detected metadata.
	AccountID  *uuid.UUID
	NewAccount *NewAccount
	// CategoryOverrides maps preview row index to category.
	CategoryOverrides map[int]string
	// RememberOverrides turns each override into a merchant rule for future imports.
	RememberOverrides bool
	// IncludeDuplicates imports rows flagged as duplicates instead of skipping them.
	IncludeDuplicates bool
}

// ConfirmResult reports what a confirmation wrote.
type ConfirmResult struct {
	ImportID  uuid.UUID                  `json:"import_id"`
	AccountID uuid.UUID                  `json:"account_id"`
	Imported  int                        `json:"imported"`
	Skipped   int                        `json:"skipped"`
	Recurring *recurring.DetectionResult `json:"recurring,omitempty"`
}

// ImportService orchestrates statement previews and confirmations
type ImportService struct {
	repo        repository.ImportRepository
	cache       cache.Store
	categorizer categorizer.Categorizer
	keyword     *categorizer.KeywordCategorizer
	recurring   RecurringDetector // Optional: nil skips detection after confirm
	logger      *slog.Logger

	previewTTL        time.Duration
	dedupTimeout      time.Duration
	categorizeTimeout time.Duration
	currency          string
	now               func() time.Time
}

// NewImportService creates a new import service. Categorization defaults to the
// local keyword table until WithCategorizer is called.
func NewImportService(repo repository.ImportRepository, store cache.Store, logger *slog.Logger) *ImportService {
	keyword := categorizer.NewKeywordCategorizer()
	return &ImportService{
		repo:        repo,
		cache:       store,
		categorizer: keyword,
		keyword:     keyword,
		logger:      logger,
		previewTTL:  cache.DefaultTTL,
		currency:    defaultCurrency,
		now:         time.Now,
	}
}

// WithCategorizer replaces the categorizer. Failures still fall back to keywords.
func (s *ImportService) WithCategorizer(c categorizer.Categorizer) *ImportService {
	s.categorizer = c
	return s
}

// WithRecurringDetector runs detection after every confirmed import.
func (s *ImportService) WithRecurringDetector(d RecurringDetector) *ImportService {
	s.recurring = d
	return s
}

// WithPreviewTTL sets how long previews stay confirmable.
func (s *ImportService) WithPreviewTTL(ttl time.Duration) *ImportService {
	if ttl > 0 {
		s.previewTTL = ttl
	}
	return s
}

// WithTimeouts bounds the dedup query and the categorizer call. Zero means no bound.
func (s *ImportService) WithTimeouts(dedup, categorize time.Duration) *ImportService {
	s.dedupTimeout = dedup
	s.categorizeTimeout = categorize
	return s
}

// WithDefaultCurrency sets the currency of accounts created without one.
func (s *ImportService) WithDefaultCurrency(code string) *ImportService {
	if code != "" {
		s.currency = strings.ToUpper(code)
	}
	return s
}

// Preview parses, categorizes and deduplicates an upload and caches the result
// under a new import id. Categorizer and dedup failures degrade; they never fail the preview.
func (s *ImportService) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	ctx, span := tracer.Start(ctx, "import.Preview", trace.WithAttributes(
		attribute.String("import.format", string(req.Format)),
		attribute.Int("import.bytes", len(req.Data)),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Preview"), slog.String("user_id", req.UserID.String()))

	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if err := parser.CheckUpload(req.Format, req.Data); err != nil {
		return nil, err
	}

	job := &repository.ImportJob{
		UserID:    req.UserID,
		AccountID: req.AccountID,
		FileName:  req.FileName,
		Format:    req.Format,
		Status:    repository.JobPending,
	}
	if err := s.repo.CreateImportJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create import job failed")
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	span.SetAttributes(attribute.String("import.id", job.ID.String()))
	l = l.With(slog.String("import_id", job.ID.String()))

	stmt := parser.Parse(req.Format, req.Data, req.FileName)
	observability.StatementsParsed.WithLabelValues(string(req.Format)).Inc()
	observability.ParseWarnings.WithLabelValues(string(req.Format)).Add(float64(len(stmt.Warnings)))
	span.SetAttributes(attribute.Int("import.transactions", len(stmt.Transactions)))

	categories := s.categorize(ctx, l, req.UserID, stmt.Transactions)

	accounts, err := s.repo.ListAccounts(ctx, req.UserID)
	if err != nil {
		l.Warn("failed to load accounts, skipping account match", slog.Any("error", err))
	}
	matched := s.pickAccount(accounts, req.AccountID, stmt.Account)

	var scope *uuid.UUID
	if matched != nil {
		scope = &matched.ID
	}
	previews := s.detectDuplicates(ctx, l, req.UserID, scope, stmt.Transactions)
	for i := range previews {
		c := categories[i]
		previews[i].SuggestedCategory = c.Category
		previews[i].CategoryConfidence = c.Confidence
		previews[i].CategorySource = string(c.Source)
		previews[i].CleanedMerchant = c.CleanedMerchant
	}

	preview := &Preview{
		ImportID:         job.ID,
		UserID:           req.UserID,
		FileName:         req.FileName,
		Format:           stmt.Format,
		DetectedAccount:  stmt.Account,
		MatchedAccount:   matched,
		SuggestedAccount: account.DisplayName(stmt.Account),
		Transactions:     previews,
		Warnings:         stmt.Warnings,
		DuplicateCount:   dedup.CountDuplicates(previews),
		CreatedAt:        s.now().UTC(),
	}
	if preview.Format == "" {
		preview.Format = req.Format
	}
	if preview.Warnings == nil {
		preview.Warnings = []string{}
	}
	observability.DuplicatesFlagged.Add(float64(preview.DuplicateCount))

	if err := cache.SetJSON(ctx, s.cache, cache.PreviewKey(job.ID.String()), preview, s.previewTTL); err != nil {
		return nil, s.fail(ctx, l, span, job.ID, fmt.Errorf("failed to cache preview: %w", err))
	}
	if err := s.repo.UpdateImportJobStatus(ctx, job.ID, repository.JobPreviewed, nil); err != nil {
		_ = s.cache.Delete(ctx, cache.PreviewKey(job.ID.String()))
		return nil, s.fail(ctx, l, span, job.ID, err)
	}

	l.Info("import previewed",
		slog.Int("transactions", len(previews)),
		slog.Int("duplicates", preview.DuplicateCount),
		slog.Int("warnings", len(preview.Warnings)))
	return preview, nil
}

// GetPreview returns a cached preview owned by userID.
func (s *ImportService) GetPreview(ctx context.Context, userID, importID uuid.UUID) (*Preview, error) {
	var preview Preview
	err := cache.GetJSON(ctx, s.cache, cache.PreviewKey(importID.String()), &preview)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrPreviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preview: %w", err)
	}
	if preview.UserID != userID {
		return nil, ErrPreviewNotFound
	}
	return &preview, nil
}

// CancelPreview discards a preview and closes its import.
func (s *ImportService) CancelPreview(ctx context.Context, userID, importID uuid.UUID) error {
	l := s.logger.With(slog.String("method", "CancelPreview"), slog.String("import_id", importID.String()))

	job, err := s.openJob(ctx, userID, importID)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cache.PreviewKey(importID.String())); err != nil {
		l.Warn("failed to delete cached preview", slog.Any("error", err))
	}
	if err := s.repo.UpdateImportJobStatus(ctx, job.ID, repository.JobCancelled, nil); err != nil {
		return fmt.Errorf("failed to cancel import: %w", err)
	}
	l.Info("import cancelled")
	return nil
}

// Confirm persists a previewed import and reruns recurring detection. Rows flagged
// as duplicates are skipped unless IncludeDuplicates is set; rows the store already
// holds are skipped by the insert itself.
func (s *ImportService) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ctx, span := tracer.Start(ctx, "import.Confirm", trace.WithAttributes(
		attribute.String("import.id", req.ImportID.String()),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "Confirm"),
		slog.String("user_id", req.UserID.String()),
		slog.String("import_id", req.ImportID.String()))

	if req.AccountID != nil && req.NewAccount != nil {
		return nil, ErrAmbiguousAccount
	}

	job, err := s.openJob(ctx, req.UserID, req.ImportID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.JobPreviewed {
		return nil, ErrImportClosed
	}

	preview, err := s.GetPreview(ctx, req.UserID, req.ImportID)
	if errors.Is(err, ErrPreviewNotFound) {
		return nil, s.fail(ctx, l, span, job.ID, err)
	}
	if err != nil {
		return nil, err
	}
	for idx := range req.CategoryOverrides {
		if idx < 0 || idx >= len(preview.Transactions) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidOverride, idx)
		}
	}

	acct, err := s.resolveAccount(ctx, req, preview)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, s.fail(ctx, l, span, job.ID, err)
	}

	s.rescopeDuplicates(ctx, l, req.UserID, preview, acct)
	rows, flagged := s.buildRows(req, preview, acct, job.ID)
	inserted, err := s.repo.BulkInsertTransactions(ctx, req.UserID, rows)
	if err != nil {
		return nil, s.fail(ctx, l, span, job.ID, err)
	}
	skipped := flagged + len(rows) - inserted
	observability.TransactionsImported.Add(float64(inserted))

	if err := s.repo.FinishImportJob(ctx, job.ID, acct.ID, inserted, skipped); err != nil {
		l.Error("transactions inserted but import job not finalized", slog.Any("error", err))
	}
	if err := s.cache.Delete(ctx, cache.PreviewKey(req.ImportID.String())); err != nil {
		l.Warn("failed to delete cached preview", slog.Any("error", err))
	}
	if req.RememberOverrides {
		s.rememberOverrides(ctx, l, req, preview)
	}

	result := &ConfirmResult{ImportID: job.ID, AccountID: acct.ID, Imported: inserted, Skipped: skipped}
	if s.recurring != nil && inserted > 0 {
		detection, err := s.recurring.DetectForUser(ctx, req.UserID)
		if err != nil {
			l.Warn("recurring detection after import failed", slog.Any("error", err))
		} else {
			result.Recurring = detection
		}
	}

	span.SetAttributes(attribute.Int("import.inserted", inserted), attribute.Int("import.skipped", skipped))
	l.Info("import confirmed",
		slog.String("account_id", acct.ID.String()),
		slog.Int("imported", inserted),
		slog.Int("skipped", skipped))
	return result, nil
}

func (s *ImportService) categorize(ctx context.Context, l *slog.Logger, userID uuid.UUID, txs []parser.ParsedTransaction) []categorizer.Categorization {
	ctx, span := tracer.Start(ctx, "import.categorize")
	defer span.End()

	if s.categorizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.categorizeTimeout)
		defer cancel()
	}
	out, err := s.categorizer.Categorize(ctx, userID, txs)
	if err == nil && len(out) == len(txs) {
		return out
	}
	if err == nil {
		err = fmt.Errorf("%w: got %d, want %d", categorizer.ErrResultMismatch, len(out), len(txs))
	}
	l.Warn("categorizer failed, using keywords", slog.Any("error", err))
	observability.CategorizerFallbacks.Inc()
	span.RecordError(err)
	out, _ = s.keyword.Categorize(ctx, userID, txs)
	return out
}

func (s *ImportService) pickAccount(accounts []account.Account, requested *uuid.UUID, detected parser.DetectedAccount) *account.Account {
	if requested != nil {
		for i := range accounts {
			if accounts[i].ID == *requested {
				return &accounts[i]
			}
		}
	}
	return account.Match(accounts, detected)
}

// detectDuplicates degrades to "nothing is a duplicate" when the window query fails.
func (s *ImportService) detectDuplicates(ctx context.Context, l *slog.Logger, userID uuid.UUID, accountID *uuid.UUID, txs []parser.ParsedTransaction) []dedup.PreviewTransaction {
	from, to, ok := dedup.Window(txs)
	if !ok {
		return dedup.Detect(nil, txs)
	}

	ctx, span := tracer.Start(ctx, "import.dedup")
	defer span.End()
	if s.dedupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dedupTimeout)
		defer cancel()
	}

	existing, err := s.repo.ListTransactionsInWindow(ctx, userID, accountID, from, to)
	if err != nil {
		l.Warn("dedup window query failed, treating all rows as new", slog.Any("error", err))
		span.RecordError(err)
		existing = nil
	}
	span.SetAttributes(attribute.Int("dedup.window_size", len(existing)))
	return dedup.Detect(existing, txs)
}

// rescopeDuplicates recomputes duplicate flags when the confirmed account is
// not the one the preview was deduplicated against. Categories are kept.
func (s *ImportService) rescopeDuplicates(ctx context.Context, l *slog.Logger, userID uuid.UUID, preview *Preview, acct *account.Account) {
	if preview.MatchedAccount != nil && preview.MatchedAccount.ID == acct.ID {
		return
	}
	parsed := make([]parser.ParsedTransaction, len(preview.Transactions))
	for i := range preview.Transactions {
		parsed[i] = preview.Transactions[i].ParsedTransaction
	}
	fresh := s.detectDuplicates(ctx, l, userID, &acct.ID, parsed)
	count := 0
	for i := range preview.Transactions {
		preview.Transactions[i].IsDuplicate = fresh[i].IsDuplicate
		preview.Transactions[i].DuplicateOf = fresh[i].DuplicateOf
		if fresh[i].IsDuplicate {
			count++
		}
	}
	if count != preview.DuplicateCount {
		l.Info("duplicate flags changed for confirmed account",
			slog.String("account_id", acct.ID.String()),
			slog.Int("previewed", preview.DuplicateCount),
			slog.Int("confirmed", count))
	}
	preview.DuplicateCount = count
}

func (s *ImportService) resolveAccount(ctx context.Context, req ConfirmRequest, preview *Preview) (*account.Account, error) {
	switch {
	case req.AccountID != nil:
		accounts, err := s.repo.ListAccounts(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		for i := range accounts {
			if accounts[i].ID == *req.AccountID {
				return &accounts[i], nil
			}
		}
		return nil, ErrAccountNotFound

	case req.NewAccount != nil:
		n := req.NewAccount
		acct := &account.Account{
			UserID:      req.UserID,
			Name:        strings.TrimSpace(n.Name),
			Institution: strings.TrimSpace(n.Institution),
			AccountType: n.AccountType,
			Mask:        n.Mask,
			Currency:    strings.ToUpper(n.Currency),
		}
		if acct.Name == "" {
			acct.Name = preview.SuggestedAccount
		}
		return s.createAccount(ctx, acct)

	case preview.MatchedAccount != nil:
		return preview.MatchedAccount, nil

	default:
		d := preview.DetectedAccount
		return s.createAccount(ctx, &account.Account{
			UserID:      req.UserID,
			Name:        preview.SuggestedAccount,
			Institution: d.Institution,
			AccountType: d.AccountType,
			Mask:        d.AccountMask,
		})
	}
}

func (s *ImportService) createAccount(ctx context.Context, acct *account.Account) (*account.Account, error) {
	if acct.Currency == "" {
		acct.Currency = s.currency
	}
	if err := s.repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// buildRows returns the rows to insert and how many flagged duplicates were left out.
func (s *ImportService) buildRows(req ConfirmRequest, preview *Preview, acct *account.Account, jobID uuid.UUID) ([]repository.NewTransaction, int) {
	parsed := make([]parser.ParsedTransaction, len(preview.Transactions))
	for i, p := range preview.Transactions {
		parsed[i] = p.ParsedTransaction
	}
	hashes := dedup.ImportHashes(parsed)

	rows := make([]repository.NewTransaction, 0, len(preview.Transactions))
	flagged := 0
	for i, p := range preview.Transactions {
		if p.IsDuplicate && !req.IncludeDuplicates {
			flagged++
			continue
		}
		category := p.SuggestedCategory
		if override, ok := req.CategoryOverrides[i]; ok {
			category = strings.TrimSpace(override)
		}
		if category == categorizer.Uncategorized {
			category = ""
		}
		rows = append(rows, repository.NewTransaction{
			AccountID:           acct.ID,
			ImportJobID:         jobID,
			Date:                p.Date,
			AmountCents:         p.SignedCents(),
			Currency:            acct.Currency,
			Type:                p.Type,
			Description:         p.Description,
			OriginalDescription: p.Description,
			MerchantName:        p.CleanedMerchant,
			Category:            category,
			ExternalID:          p.ExternalID,
			CheckNumber:         p.CheckNumber,
			Memo:                p.Memo,
			ImportHash:          hashes[i],
			Source:              string(preview.Format),
		})
	}
	return rows, flagged
}

func (s *ImportService) rememberOverrides(ctx context.Context, l *slog.Logger, req ConfirmRequest, preview *Preview) {
	for idx, category := range req.CategoryOverrides {
		category = strings.TrimSpace(category)
		p := preview.Transactions[idx]
		text := p.Merchant
		if text == "" {
			text = p.Description
		}
		key := merchant.Key(text)
		if key == "" || category == "" {
			continue
		}
		rule := categorizer.MerchantRule{UserID: req.UserID, MerchantKey: key, Category: category}
		if err := s.repo.UpsertMerchantRule(ctx, rule); err != nil {
			l.Warn("failed to save merchant rule", slog.String("merchant_key", key), slog.Any("error", err))
		}
	}
}

func (s *ImportService) openJob(ctx context.Context, userID, importID uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.repo.GetImportJob(ctx, userID, importID)
	if errors.Is(err, repository.ErrImportJobNotFound) {
		return nil, ErrPreviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import job: %w", err)
	}
	if job.Status.Terminal() {
		return nil, ErrImportClosed
	}
	return job, nil
}

// fail moves the job to the error state and returns cause.
func (s *ImportService) fail(ctx context.Context, l *slog.Logger, span trace.Span, jobID uuid.UUID, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	msg := cause.Error()
	if err := s.repo.UpdateImportJobStatus(ctx, jobID, repository.JobError, &msg); err != nil {
		l.Error("failed to mark import as errored", slog.Any("error", err), slog.Any("cause", cause))
		return cause
	}
	l.Error("import failed", slog.Any("error", cause))
	return cause
}
