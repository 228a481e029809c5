package recurring

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PatternLister loads a user's stored patterns.
type PatternLister interface {
	ListPatterns(ctx context.Context, userID uuid.UUID) ([]RecurringPattern, error)
}

// Membership answers "is this transaction part of a recurring pattern?" for one
// request. Patterns are loaded on first use and kept until the request ends.
type Membership struct {
	lister PatternLister
	userID uuid.UUID

	once sync.Once
	byTx map[uuid.UUID]*RecurringPattern
	err  error
}

func NewMembership(lister PatternLister, userID uuid.UUID) *Membership {
	return &Membership{lister: lister, userID: userID}
}

func (m *Membership) load(ctx context.Context) error {
	m.once.Do(func() {
		patterns, err := m.lister.ListPatterns(ctx, m.userID)
		if err != nil {
			m.err = err
			return
		}
		m.byTx = make(map[uuid.UUID]*RecurringPattern)
		for i := range patterns {
			for _, id := range patterns[i].TransactionIDs {
				m.byTx[id] = &patterns[i]
			}
		}
	})
	return m.err
}

// PatternFor returns the pattern containing txID, or nil.
func (m *Membership) PatternFor(ctx context.Context, txID uuid.UUID) (*RecurringPattern, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m.byTx[txID], nil
}

func (m *Membership) IsRecurring(ctx context.Context, txID uuid.UUID) (bool, error) {
	p, err := m.PatternFor(ctx, txID)
	return p != nil, err
}

type membershipKey struct{}

// WithMembership attaches m to ctx.
func WithMembership(ctx context.Context, m *Membership) context.Context {
	return context.WithValue(ctx, membershipKey{}, m)
}

// MembershipFrom returns the Membership attached to ctx, if any.
func MembershipFrom(ctx context.Context) (*Membership, bool) {
	m, ok := ctx.Value(membershipKey{}).(*Membership)
	return m, ok && m != nil
}
