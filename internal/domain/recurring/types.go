// Package recurring finds periodic payment patterns in a user's transaction history.
package recurring

import (
	"time"

	"github.com/google/uuid"
)

// Frequency is the cadence bucket of a pattern.
type Frequency string

const (
	Weekly    Frequency = "WEEKLY"
	Biweekly  Frequency = "BIWEEKLY"
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Annually  Frequency = "ANNUALLY"
)

// Status tells whether a pattern is still being paid.
type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusPossiblyCancelled Status = "POSSIBLY_CANCELLED"
)

// Transaction is one stored transaction as seen by the detector. AmountCents is unsigned.
type Transaction struct {
	ID          uuid.UUID `db:"id"`
	Date        time.Time `db:"posted_at"`
	AmountCents int64     `db:"amount_minor"`
	Description string    `db:"description"`
	Category    string    `db:"category"`
}

// RecurringPattern is a detected periodic payment. It references the transactions
// that make it up but does not own them.
type RecurringPattern struct {
	ID                 uuid.UUID   `json:"id"`
	MerchantName       string      `json:"merchant_name"`
	Frequency          Frequency   `json:"frequency"`
	AverageAmountCents int64       `json:"average_amount_cents"`
	LastAmountCents    int64       `json:"last_amount_cents"`
	FirstDate          time.Time   `json:"first_date"`
	LastDate           time.Time   `json:"last_date"`
	NextExpectedDate   time.Time   `json:"next_expected_date"`
	TransactionIDs     []uuid.UUID `json:"transaction_ids"`
	Category           string      `json:"category,omitempty"`
	Status             Status      `json:"status"`
	Description        string      `json:"description"`
}
