package recurring

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLister struct {
	patterns []RecurringPattern
	err      error
	calls    int
}

func (c *countingLister) ListPatterns(context.Context, uuid.UUID) ([]RecurringPattern, error) {
	c.calls++
	return c.patterns, c.err
}

func TestMembership_LoadsOnce(t *testing.T) {
	member, other := uuid.New(), uuid.New()
	lister := &countingLister{patterns: []RecurringPattern{
		{MerchantName: "netflix", Frequency: Monthly, TransactionIDs: []uuid.UUID{uuid.New(), member}},
	}}
	m := NewMembership(lister, uuid.New())
	ctx := context.Background()

	ok, err := m.IsRecurring(ctx, member)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsRecurring(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := m.PatternFor(ctx, member)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "netflix", p.MerchantName)

	assert.Equal(t, 1, lister.calls)
}

func TestMembership_LoadError(t *testing.T) {
	lister := &countingLister{err: errors.New("db down")}
	m := NewMembership(lister, uuid.New())

	_, err := m.IsRecurring(context.Background(), uuid.New())
	require.Error(t, err)
	_, err = m.PatternFor(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, 1, lister.calls)
}

func TestMembership_Context(t *testing.T) {
	_, ok := MembershipFrom(context.Background())
	assert.False(t, ok)

	m := NewMembership(&countingLister{}, uuid.New())
	got, ok := MembershipFrom(WithMembership(context.Background(), m))
	assert.True(t, ok)
	assert.Same(t, m, got)
}
