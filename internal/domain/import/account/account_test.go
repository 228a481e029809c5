package account

import (
	"testing"

	"github.com/google/uuid"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/parser"
)

func TestMatch(t *testing.T) {
	chaseChecking := Account{ID: uuid.New(), Institution: "JPMorgan Chase", AccountType: parser.AccountChecking, Mask: "1234"}
	chaseCard := Account{ID: uuid.New(), Institution: "Chase", AccountType: parser.AccountCredit, Mask: "9999"}
	ally := Account{ID: uuid.New(), Institution: "Ally Bank", AccountType: parser.AccountSavings, Mask: "5555"}
	accounts := []Account{chaseChecking, chaseCard, ally}

	tests := []struct {
		name     string
		detected parser.DetectedAccount
		want     *uuid.UUID
	}{
		{
			name:     "mask alone",
			detected: parser.DetectedAccount{AccountMask: "5555"},
			want:     &ally.ID,
		},
		{
			name:     "institution substring both ways plus type",
			detected: parser.DetectedAccount{Institution: "chase", AccountType: parser.AccountCredit},
			want:     &chaseCard.ID,
		},
		{
			name:     "mask beats institution and type",
			detected: parser.DetectedAccount{Institution: "Chase", AccountType: parser.AccountCredit, AccountMask: "1234"},
			want:     &chaseChecking.ID,
		},
		{
			name:     "type alone is never enough",
			detected: parser.DetectedAccount{Institution: "Unknown Bank", AccountType: parser.AccountSavings},
			want:     nil,
		},
		{
			name:     "no mask and no institution",
			detected: parser.DetectedAccount{AccountType: parser.AccountChecking},
			want:     nil,
		},
		{
			name:     "unknown mask",
			detected: parser.DetectedAccount{AccountMask: "0000"},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(accounts, tt.detected)
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("expected no match, got %+v", got)
			case tt.want != nil && got == nil:
				t.Fatalf("expected account %s, got no match", *tt.want)
			case tt.want != nil && got.ID != *tt.want:
				t.Fatalf("expected account %s, got %s", *tt.want, got.ID)
			}
		})
	}
}

func TestMatch_NoAccounts(t *testing.T) {
	if got := Match(nil, parser.DetectedAccount{AccountMask: "1234"}); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestScore(t *testing.T) {
	a := Account{Institution: "Bank of America", AccountType: parser.AccountChecking, Mask: "9012"}
	d := parser.DetectedAccount{Institution: "bank of america", AccountType: parser.AccountChecking, AccountMask: "9012"}

	if got := Score(a, d); got != 18 {
		t.Fatalf("Score() = %d, want 18", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		detected parser.DetectedAccount
		want     string
	}{
		{parser.DetectedAccount{AccountName: "Total Checking", Institution: "Chase"}, "Total Checking"},
		{parser.DetectedAccount{Institution: "Chase", AccountType: parser.AccountCredit, AccountMask: "1111"}, "Chase Credit ••1111"},
		{parser.DetectedAccount{}, "Imported account"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.detected); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.detected, got, tt.want)
		}
	}
}
