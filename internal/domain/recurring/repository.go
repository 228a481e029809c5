package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const (
	listHistoryQuery = `
		SELECT id, posted_at, ABS(amount_minor) AS amount_minor, description, COALESCE(category, '') AS category
		FROM transactions
		WHERE user_id = $1 AND amount_minor <> 0
		ORDER BY posted_at, id
	`

	upsertPatternQuery = `
		INSERT INTO recurring_patterns (
			id, user_id, merchant_name, frequency, average_amount_minor, last_amount_minor,
			first_date, last_date, next_expected_date, transaction_ids, category, status, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid[], $11, $12, $13)
		ON CONFLICT (user_id, merchant_name, frequency) DO UPDATE SET
			average_amount_minor = EXCLUDED.average_amount_minor,
			last_amount_minor = EXCLUDED.last_amount_minor,
			first_date = EXCLUDED.first_date,
			last_date = EXCLUDED.last_date,
			next_expected_date = EXCLUDED.next_expected_date,
			transaction_ids = EXCLUDED.transaction_ids,
			category = COALESCE(NULLIF(EXCLUDED.category, ''), recurring_patterns.category),
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING id
	`

	listPatternsQuery = `
		SELECT id, merchant_name, frequency, average_amount_minor, last_amount_minor,
		       first_date, last_date, next_expected_date, transaction_ids::text[], category, status, description
		FROM recurring_patterns
		WHERE user_id = $1
		ORDER BY merchant_name, frequency
	`
)

// PostgresRepository stores patterns and reads transaction history.
type PostgresRepository struct {
	pgpool PgxPool
}

func NewPostgresRepository(pgpool PgxPool) *PostgresRepository {
	return &PostgresRepository{pgpool: pgpool}
}

// ListTransactions returns the user's full history in date order with unsigned amounts.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	rows, err := r.pgpool.Query(ctx, listHistoryQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction history: %w", err)
	}
	txs, err := pgx.CollectRows(rows, pgx.RowToStructByName[Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction history: %w", err)
	}
	return txs, nil
}

// UpsertPattern inserts p or updates the stored pattern with the same
// (user, merchant, frequency) in one statement, so concurrent runs cannot duplicate it.
func (r *PostgresRepository) UpsertPattern(ctx context.Context, userID uuid.UUID, p *RecurringPattern) (uuid.UUID, error) {
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	txIDs := make([]string, len(p.TransactionIDs))
	for i, t := range p.TransactionIDs {
		txIDs[i] = t.String()
	}

	var stored uuid.UUID
	err := r.pgpool.QueryRow(ctx, upsertPatternQuery,
		id, userID, p.MerchantName, string(p.Frequency), p.AverageAmountCents, p.LastAmountCents,
		p.FirstDate, p.LastDate, p.NextExpectedDate, txIDs, p.Category, string(p.Status), p.Description,
	).Scan(&stored)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert recurring pattern %q: %w", p.MerchantName, err)
	}
	p.ID = stored
	return stored, nil
}

func (r *PostgresRepository) ListPatterns(ctx context.Context, userID uuid.UUID) ([]RecurringPattern, error) {
	rows, err := r.pgpool.Query(ctx, listPatternsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring patterns: %w", err)
	}
	defer rows.Close()

	var patterns []RecurringPattern
	for rows.Next() {
		var (
			p                 RecurringPattern
			frequency, status string
			txIDs             []string
			category          *string
			first, last, next time.Time
		)
		if err := rows.Scan(
			&p.ID, &p.MerchantName, &frequency, &p.AverageAmountCents, &p.LastAmountCents,
			&first, &last, &next, &txIDs, &category, &status, &p.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recurring pattern: %w", err)
		}
		p.Frequency, p.Status = Frequency(frequency), Status(status)
		p.FirstDate, p.LastDate, p.NextExpectedDate = first.UTC(), last.UTC(), next.UTC()
		if category != nil {
			p.Category = *category
		}
		for _, s := range txIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("invalid transaction id %q on pattern %s: %w", s, p.ID, err)
			}
			p.TransactionIDs = append(p.TransactionIDs, id)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recurring patterns: %w", err)
	}
	return patterns, nil
}
