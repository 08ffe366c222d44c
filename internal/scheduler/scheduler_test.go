package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids    []uuid.UUID
	err    error
	cutoff time.Time
	limit  int
}

func (f *fakeLister) ListStale(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.cutoff, f.limit = cutoff, limit
	return f.ids, f.err
}

func TestCheckRequestsStaleItems(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	lister := &fakeLister{ids: []uuid.UUID{a, b, c}}
	var got []uuid.UUID
	cb := func(_ context.Context, id uuid.UUID) error {
		if id == b {
			return errors.New("queue down")
		}
		got = append(got, id)
		return nil
	}

	s, err := New(lister, cb, Options{Schedule: "0 4 * * *", RefreshAfter: 30 * 24 * time.Hour, Batch: 2}, nil)
	require.NoError(t, err)
	now := time.Date(2026, 10, 1, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, 2, s.Check(context.Background()))
	assert.Equal(t, []uuid.UUID{a, c}, got)
	assert.Equal(t, time.Date(2026, 9, 1, 4, 0, 0, 0, time.UTC), lister.cutoff)
	assert.Equal(t, 2, lister.limit)
}

func TestCheckStopsWhenCanceled(t *testing.T) {
	lister := &fakeLister{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	calls := 0
	s, err := New(lister, func(context.Context, uuid.UUID) error { calls++; return nil },
		Options{Schedule: "@daily", RefreshAfter: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, s.Check(ctx))
	assert.Zero(t, calls)
	assert.Equal(t, 100, lister.limit)
}

func TestCheckListError(t *testing.T) {
	s, err := New(&fakeLister{err: errors.New("db down")}, func(context.Context, uuid.UUID) error { return nil },
		Options{Schedule: "@hourly", RefreshAfter: time.Hour}, nil)
	require.NoError(t, err)
	assert.Zero(t, s.Check(context.Background()))
}

func TestNewRejectsBadOptions(t *testing.T) {
	cb := func(context.Context, uuid.UUID) error { return nil }
	_, err := New(&fakeLister{}, cb, Options{Schedule: "every tuesday", RefreshAfter: time.Hour}, nil)
	assert.Error(t, err)
	_, err = New(&fakeLister{}, cb, Options{Schedule: "@daily"}, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeLister{}, func(context.Context, uuid.UUID) error { return nil },
		Options{Schedule: "@daily", RefreshAfter: time.Hour}, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	s.Stop()
}
