// Package account matches statement metadata to a user's existing accounts.
package account

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

// Account is a user's financial account as stored.
type Account struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	UserID      uuid.UUID          `db:"user_id" json:"user_id"`
	Name        string             `db:"name" json:"name"`
	Institution string             `db:"institution" json:"institution"`
	AccountType parser.AccountType `db:"account_type" json:"account_type"`
	Mask        string             `db:"mask" json:"mask"`
	Currency    string             `db:"currency_code" json:"currency"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}

const (
	scoreMask        = 10
	scoreInstitution = 5
	scoreType        = 3

	// MinScore is the lowest score accepted as a match.
	MinScore = 5
)

// Match returns the best-scoring existing account for the detected metadata, or nil.
// Ties keep the earlier account.
func Match(existing []Account, detected parser.DetectedAccount) *Account {
	if detected.AccountMask == "" && strings.TrimSpace(detected.Institution) == "" {
		return nil
	}

	var best *Account
	bestScore := 0
	for i := range existing {
		s := Score(existing[i], detected)
		if s > bestScore {
			best, bestScore = &existing[i], s
		}
	}
	if bestScore < MinScore {
		return nil
	}
	return best
}

// Score rates how well a stored account fits the detected metadata.
func Score(a Account, detected parser.DetectedAccount) int {
	score := 0
	if detected.AccountMask != "" && a.Mask == detected.AccountMask {
		score += scoreMask
	}
	if institutionsOverlap(a.Institution, detected.Institution) {
		score += scoreInstitution
	}
	if detected.AccountType != "" && a.AccountType == detected.AccountType {
		score += scoreType
	}
	return score
}

func institutionsOverlap(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// DisplayName builds a name for an account created from statement metadata.
func DisplayName(detected parser.DetectedAccount) string {
	if detected.AccountName != "" {
		return detected.AccountName
	}
	var parts []string
	if detected.Institution != "" {
		parts = append(parts, detected.Institution)
	}
	if detected.AccountType != "" {
		t := strings.ToLower(string(detected.AccountType))
		parts = append(parts, strings.ToUpper(t[:1])+t[1:])
	}
	if detected.AccountMask != "" {
		parts = append(parts, "••"+detected.AccountMask)
	}
	if len(parts) == 0 {
		return "Imported account"
	}
	return strings.Join(parts, " ")
}
