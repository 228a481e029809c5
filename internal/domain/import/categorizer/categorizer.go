// Package categorizer suggests a spending category for each parsed transaction.
package categorizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

// Source records which strategy produced a suggestion.
type Source string

const (
	SourceAI      Source = "ai"
	SourceRule    Source = "rule"
	SourceKeyword Source = "keyword"
	SourceCache   Source = "cache"
)

// Uncategorized is suggested when no strategy recognises a transaction.
const Uncategorized = "Uncategorized"

var ErrResultMismatch = errors.New("categorizer returned a different number of results")

// Categorization is the suggestion for one transaction, aligned by index with the input.
type Categorization struct {
	Category        string `json:"category"`
	Confidence      int    `json:"confidence"`
	Source          Source `json:"source"`
	CleanedMerchant string `json:"cleaned_merchant"`
}

// Categorizer suggests categories for a whole import batch in one call.
type Categorizer interface {
	Categorize(ctx context.Context, userID uuid.UUID, txs []parser.ParsedTransaction) ([]Categorization, error)
}

type fallback struct {
	primary  Categorizer
	fallback Categorizer
	onError  func(error)
}

// Option configures WithFallback.
type Option func(*fallback)

// OnFallback registers a hook invoked with the primary's error before falling back.
func OnFallback(fn func(error)) Option {
	return func(f *fallback) { f.onError = fn }
}

// WithFallback returns a Categorizer that answers with fallback whenever primary fails.
func WithFallback(primary, secondary Categorizer, opts ...Option) Categorizer {
	f := &fallback{primary: primary, fallback: secondary}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *fallback) Categorize(ctx context.Context, userID uuid.UUID, txs []parser.ParsedTransaction) ([]Categorization, error) {
	out, err := f.primary.Categorize(ctx, userID, txs)
	if err == nil && len(out) != len(txs) {
		err = fmt.Errorf("%w: got %d, want %d", ErrResultMismatch, len(out), len(txs))
	}
	if err == nil {
		return out, nil
	}
	if f.onError != nil {
		f.onError(err)
	}
	return f.fallback.Categorize(ctx, userID, txs)
}

func merchantText(tx parser.ParsedTransaction) string {
	if tx.Merchant != "" {
		return tx.Merchant
	}
	return tx.Description
}
