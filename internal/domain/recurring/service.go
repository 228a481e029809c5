package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/echo-ingest/pkg/observability"
)

var tracer = otel.Tracer("echo/recurring")

// Store is the persistence the recurring service needs.
type Store interface {
	PatternLister
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error)
	UpsertPattern(ctx context.Context, userID uuid.UUID, p *RecurringPattern) (uuid.UUID, error)
}

// DetectionResult summarizes one detection run. Patterns holds one pattern per
// (merchant, frequency); Collapsed counts the amount clusters that lost to a
// stronger pattern with the same key.
type DetectionResult struct {
	Patterns  []RecurringPattern `json:"patterns"`
	Upserted  int                `json:"upserted"`
	Failed    int                `json:"failed"`
	Collapsed int                `json:"collapsed"`
}

// PatternView is a stored pattern with its monthly equivalent.
type PatternView struct {
	RecurringPattern
	MonthlyAmountCents int64 `json:"monthly_amount_cents"`
}

// Service runs detection over stored history and persists the results.
type Service struct {
	store    Store
	detector *Detector
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, detector *Detector, logger *slog.Logger) *Service {
	return &Service{store: store, detector: detector, logger: logger, now: time.Now}
}

// DetectForUser recomputes every pattern from the user's full history. A pattern
// that fails to persist is logged and counted without stopping the others.
func (s *Service) DetectForUser(ctx context.Context, userID uuid.UUID) (*DetectionResult, error) {
	ctx, span := tracer.Start(ctx, "recurring.DetectForUser")
	defer span.End()
	l := s.logger.With(slog.String("method", "DetectForUser"), slog.String("user_id", userID.String()))

	history, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history query failed")
		return nil, fmt.Errorf("failed to load transaction history: %w", err)
	}

	detected := s.detector.Detect(history, s.now().UTC())
	span.SetAttributes(attribute.Int("history.size", len(history)), attribute.Int("patterns.detected", len(detected)))

	patterns := strongestPerKey(detected)
	result := &DetectionResult{Patterns: patterns, Collapsed: len(detected) - len(patterns)}
	if result.Collapsed > 0 {
		l.Info("collapsed amount clusters sharing a merchant and frequency", slog.Int("collapsed", result.Collapsed))
	}
	for i := range patterns {
		p := &result.Patterns[i]
		observability.PatternsDetected.WithLabelValues(string(p.Frequency)).Inc()
		if _, err := s.store.UpsertPattern(ctx, userID, p); err != nil {
			result.Failed++
			observability.PatternUpsertFailures.Inc()
			l.Warn("failed to persist recurring pattern",
				slog.String("merchant", p.MerchantName),
				slog.String("frequency", string(p.Frequency)),
				slog.Any("error", err))
			continue
		}
		result.Upserted++
	}

	l.Info("recurring detection finished",
		slog.Int("transactions", len(history)),
		slog.Int("patterns", len(patterns)),
		slog.Int("collapsed", result.Collapsed),
		slog.Int("failed", result.Failed))
	return result, nil
}

// strongestPerKey keeps one pattern per (merchant, frequency), the stored key.
// More occurrences win, then the more recent last charge. Order follows the
// first appearance of each key.
func strongestPerKey(patterns []RecurringPattern) []RecurringPattern {
	type key struct {
		merchant  string
		frequency Frequency
	}
	index := make(map[key]int, len(patterns))
	out := make([]RecurringPattern, 0, len(patterns))
	for _, p := range patterns {
		k := key{p.MerchantName, p.Frequency}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, p)
			continue
		}
		cur := out[i]
		if len(p.TransactionIDs) > len(cur.TransactionIDs) ||
			(len(p.TransactionIDs) == len(cur.TransactionIDs) && p.LastDate.After(cur.LastDate)) {
			out[i] = p
		}
	}
	return out
}

// ListPatterns returns the user's stored patterns with monthly equivalents.
func (s *Service) ListPatterns(ctx context.Context, userID uuid.UUID) ([]PatternView, error) {
	patterns, err := s.store.ListPatterns(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	views := make([]PatternView, len(patterns))
	for i, p := range patterns {
		views[i] = PatternView{RecurringPattern: p, MonthlyAmountCents: MonthlyAmountCents(p.AverageAmountCents, p.Frequency)}
	}
	return views, nil
}

// Membership builds a per-request membership memo over this service's store.
func (s *Service) Membership(userID uuid.UUID) *Membership {
	return NewMembership(s.store, userID)
}
