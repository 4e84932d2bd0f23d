package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	release, err := l.Acquire(ctx, "expire-leads", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "expire-leads", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err = l.Acquire(ctx, "lead-reminders", time.Minute)
	assert.NoError(t, err, "different keys do not block each other")

	release()
	release2, err := l.Acquire(ctx, "expire-leads", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.Acquire(ctx, "match-leads", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(ctx, "match-leads", time.Minute)
	assert.NoError(t, err)
}
