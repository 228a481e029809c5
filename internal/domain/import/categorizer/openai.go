package categorizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/merchant"
	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

// ChatClient is the part of *openai.Client the categorizer needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ ChatClient = (*openai.Client)(nil)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const (
	defaultMemoTTL   = 24 * time.Hour
	maxAIConfidence  = 90
	systemPromptText = "You categorize bank transactions. Reply only with a JSON object of the form " +
		`{"results":[{"merchant":"...","category":"...","confidence":0}]}` +
		" with one entry per merchant, in the order given. confidence is an integer from 0 to 100."
)

// OpenAICategorizer asks a chat model to categorize each distinct merchant of a batch.
// Answers are memoized by merchant key; memo hits report SourceCache.
type OpenAICategorizer struct {
	client   ChatClient
	model    string
	memo     *cache.Cache
	keywords *KeywordCategorizer
	allowed  map[string]string
}

// NewOpenAICategorizer builds a categorizer that restricts answers to categories.
// An empty model selects DefaultModel.
func NewOpenAICategorizer(client ChatClient, model string, categories []string) *OpenAICategorizer {
	if model == "" {
		model = DefaultModel
	}
	allowed := make(map[string]string, len(categories))
	for _, c := range categories {
		allowed[strings.ToLower(c)] = c
	}
	return &OpenAICategorizer{
		client:   client,
		model:    model,
		memo:     cache.New(defaultMemoTTL, time.Hour),
		keywords: NewKeywordCategorizer(),
		allowed:  allowed,
	}
}

type aiResult struct {
	Merchant   string `json:"merchant"`
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
}

type aiResponse struct {
	Results []aiResult `json:"results"`
}

func (o *OpenAICategorizer) Categorize(ctx context.Context, _ uuid.UUID, txs []parser.ParsedTransaction) ([]Categorization, error) {
	out := make([]Categorization, len(txs))
	cleaned := make([]merchant.Result, len(txs))

	var pending []string
	pendingSeen := map[string]bool{}
	displayFor := map[string]string{}
	for i, tx := range txs {
		cleaned[i] = merchant.Clean(merchantText(tx))
		key := cleaned[i].NormalizedKey
		if key == "" {
			continue
		}
		if _, hit := o.memo.Get(key); hit || pendingSeen[key] {
			continue
		}
		pendingSeen[key] = true
		pending = append(pending, key)
		displayFor[key] = cleaned[i].DisplayName
	}

	fresh := map[string]Categorization{}
	if len(pending) > 0 {
		names := make([]string, len(pending))
		for i, key := range pending {
			names[i] = displayFor[key]
		}
		results, err := o.ask(ctx, names)
		if err != nil {
			return nil, err
		}
		for i, key := range pending {
			if i >= len(results) {
				break
			}
			category, ok := o.allowed[strings.ToLower(strings.TrimSpace(results[i].Category))]
			if !ok {
				continue
			}
			c := Categorization{Category: category, Confidence: clampConfidence(results[i].Confidence), Source: SourceAI}
			fresh[key] = c
			o.memo.SetDefault(key, c)
		}
	}

	for i, tx := range txs {
		key := cleaned[i].NormalizedKey
		if c, ok := fresh[key]; ok {
			c.CleanedMerchant = cleaned[i].DisplayName
			out[i] = c
			continue
		}
		if v, ok := o.memo.Get(key); ok && key != "" {
			c := v.(Categorization)
			c.Source = SourceCache
			c.CleanedMerchant = cleaned[i].DisplayName
			out[i] = c
			continue
		}
		// The model had no usable answer for this merchant.
		out[i] = o.keywords.categorizeOne(tx)
	}
	return out, nil
}

func (o *OpenAICategorizer) ask(ctx context.Context, merchants []string) ([]aiResult, error) {
	categories := make([]string, 0, len(o.allowed))
	for _, c := range o.allowed {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var prompt strings.Builder
	prompt.WriteString("Allowed categories: ")
	prompt.WriteString(strings.Join(categories, ", "))
	prompt.WriteString("\nMerchants:\n")
	for _, m := range merchants {
		prompt.WriteString("- ")
		prompt.WriteString(m)
		prompt.WriteByte('\n')
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPromptText},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Some models wrap JSON in a fenced block even in JSON mode.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed aiResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return nil, fmt.Errorf("invalid categorizer response: %w", err)
	}
	return parsed.Results, nil
}

func clampConfidence(c int) int {
	switch {
	case c < 0:
		return 0
	case c > maxAIConfidence:
		return maxAIConfidence
	}
	return c
}
