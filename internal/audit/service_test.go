package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	rows        []Entry
	lastLimit   int
	lastOffset  int
	lastFilters Filters
}

func (s *stubRepo) ListEntries(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	s.lastFilters = f
	s.lastLimit = limit
	s.lastOffset = offset
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func makeEntries(n int) []Entry {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			ID:           int64(n - i),
			Actor:        1,
			Action:       ActionRoleAssigned,
			ResourceType: "user_role_assignment",
			ResourceID:   "1",
			At:           base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestQueryDefaultsPaging(t *testing.T) {
	repo := &stubRepo{rows: makeEntries(25)}
	svc := NewService(repo)

	result, err := svc.Query(context.Background(), Filters{})
	require.NoError(t, err)
	require.Len(t, result.Entries, 20)
	require.Equal(t, 1, result.Paging.Page)
	require.Equal(t, 20, result.Paging.PageSize)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Zero(t, result.Paging.PrevPage)
	// One extra row is fetched to detect the next page.
	require.Equal(t, 21, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
}

func TestQuerySecondPage(t *testing.T) {
	repo := &stubRepo{rows: makeEntries(25)}
	svc := NewService(repo)

	result, err := svc.Query(context.Background(), Filters{Page: 2})
	require.NoError(t, err)
	require.Len(t, result.Entries, 5)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 20, repo.lastOffset)
}

func TestQueryClampsPageSize(t *testing.T) {
	repo := &stubRepo{rows: makeEntries(120)}
	svc := NewService(repo)

	result, err := svc.Query(context.Background(), Filters{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, result.Entries, 50)
	require.Equal(t, 50, result.Paging.PageSize)

	_, err = svc.Query(context.Background(), Filters{Page: -3, PageSize: -1})
	require.NoError(t, err)
	require.Equal(t, 21, repo.lastLimit)
	require.Equal(t, 0, repo.lastOffset)
}

func TestQueryPassesFiltersThrough(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Query(context.Background(), Filters{Actor: 9, Action: ActionApprovalDecided, From: from})
	require.NoError(t, err)
	require.Equal(t, int64(9), repo.lastFilters.Actor)
	require.Equal(t, ActionApprovalDecided, repo.lastFilters.Action)
	require.Equal(t, from, repo.lastFilters.From)
}
