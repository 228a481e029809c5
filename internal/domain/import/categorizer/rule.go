package categorizer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/merchant"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

const ruleConfidence = 95

// MerchantRule pins a category to a normalized merchant key for one user.
type MerchantRule struct {
	UserID      uuid.UUID `db:"user_id"`
	MerchantKey string    `db:"merchant_key"`
	Category    string    `db:"category"`
}

// RuleStore loads a user's merchant rules.
type RuleStore interface {
	ListMerchantRules(ctx context.Context, userID uuid.UUID) ([]MerchantRule, error)
}

// RuleCategorizer applies user merchant rules and hands everything else to next.
type RuleCategorizer struct {
	rules RuleStore
	next  Categorizer
}

func NewRuleCategorizer(rules RuleStore, next Categorizer) *RuleCategorizer {
	return &RuleCategorizer{rules: rules, next: next}
}

func (r *RuleCategorizer) Categorize(ctx context.Context, userID uuid.UUID, txs []parser.ParsedTransaction) ([]Categorization, error) {
	rules, err := r.rules.ListMerchantRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant rules: %w", err)
	}
	byKey := make(map[string]string, len(rules))
	for _, rule := range rules {
		byKey[rule.MerchantKey] = rule.Category
	}

	out := make([]Categorization, len(txs))
	var rest []parser.ParsedTransaction
	var restIdx []int
	for i, tx := range txs {
		m := merchant.Clean(merchantText(tx))
		if category, ok := byKey[m.NormalizedKey]; ok && m.NormalizedKey != "" {
			out[i] = Categorization{Category: category, Confidence: ruleConfidence, Source: SourceRule, CleanedMerchant: m.DisplayName}
			continue
		}
		rest = append(rest, tx)
		restIdx = append(restIdx, i)
	}

	if len(rest) == 0 {
		return out, nil
	}
	suggested, err := r.next.Categorize(ctx, userID, rest)
	if err != nil {
		return nil, err
	}
	if len(suggested) != len(rest) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrResultMismatch, len(suggested), len(rest))
	}
	for j, idx := range restIdx {
		out[idx] = suggested[j]
	}
	return out, nil
}
