package categorizer

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/merchant"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

const (
	keywordConfidence   = 60
	statementConfidence = 70
)

type keywordRule struct {
	category string
	keywords []string
}

// Checked in order; the first category with a matching keyword wins.
var keywordRules = []keywordRule{
	{"Income", []string{"payroll", "salary", "direct dep", "dir dep", "interest paid", "dividend", "tax refund"}},
	{"Transfers", []string{"transfer", "zelle", "venmo", "paypal", "wire ", "xfer"}},
	{"Housing", []string{" rent", "mortgage", "hoa ", "property mgmt"}},
	{"Utilities", []string{"electric", "water", "gas co", "power", "energy", "comcast", "xfinity", "verizon", "at&t", "t-mobile", "internet"}},
	{"Subscriptions", []string{"netflix", "spotify", "hulu", "disney", "hbo", "apple.com", "youtube", "patreon", "audible", "icloud", "prime video"}},
	{"Groceries", []string{"grocery", "market", "whole foods", "trader joe", "safeway", "kroger", "aldi", "costco", "lidl", "pingo doce", "continente"}},
	{"Dining", []string{"restaurant", "coffee", "cafe", "café", "starbucks", "mcdonald", "pizza", "bakery", "doordash", "uber eats", "grubhub", "bar "}},
	{"Transportation", []string{"uber", "lyft", "metro", "transit", "parking", "toll", "shell", "chevron", "exxon", "bp ", "fuel", "gas station"}},
	{"Shopping", []string{"amazon", "amzn", "target", "walmart", "wal-mart", "best buy", "ikea", "etsy", "ebay"}},
	{"Health", []string{"pharmacy", "cvs", "walgreens", "dental", "clinic", "hospital", "gym", "fitness"}},
	{"Insurance", []string{"insurance", "geico", "allstate", "progressive"}},
	{"Travel", []string{"airline", "airbnb", "hotel", "marriott", "hilton", "expedia", "delta air", "united air"}},
	{"Fees", []string{"fee", "overdraft", "service charge", "interest charge"}},
}

// Categories lists every category the keyword table can produce.
func Categories() []string {
	out := make([]string, 0, len(keywordRules)+1)
	for _, r := range keywordRules {
		out = append(out, r.category)
	}
	return append(out, Uncategorized)
}

// KeywordCategorizer matches descriptions against a static keyword table. It never fails.
type KeywordCategorizer struct{}

func NewKeywordCategorizer() *KeywordCategorizer {
	return &KeywordCategorizer{}
}

func (k *KeywordCategorizer) Categorize(_ context.Context, _ uuid.UUID, txs []parser.ParsedTransaction) ([]Categorization, error) {
	out := make([]Categorization, len(txs))
	for i, tx := range txs {
		out[i] = k.categorizeOne(tx)
	}
	return out, nil
}

func (k *KeywordCategorizer) categorizeOne(tx parser.ParsedTransaction) Categorization {
	cleaned := merchant.Clean(merchantText(tx)).DisplayName
	c := Categorization{Category: Uncategorized, Source: SourceKeyword, CleanedMerchant: cleaned}

	// A category column in the statement itself beats our guess.
	if tx.Category != "" {
		c.Category, c.Confidence = tx.Category, statementConfidence
		return c
	}

	haystack := " " + strings.ToLower(tx.Description+" "+cleaned) + " "
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				c.Category, c.Confidence = rule.category, keywordConfidence
				return c
			}
		}
	}
	if tx.Type == parser.TypeIncome {
		c.Category, c.Confidence = "Income", keywordConfidence/2
	}
	return c
}
