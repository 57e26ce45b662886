package principals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubPrincipalRepo struct {
	principals []Principal
	lastLimit  int
	lastOffset int
}

func (s *stubPrincipalRepo) ListPrincipals(ctx context.Context, limit, offset int) ([]Principal, error) {
	s.lastLimit = limit
	s.lastOffset = offset
	if offset >= len(s.principals) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.principals) {
		end = len(s.principals)
	}
	return s.principals[offset:end], nil
}

func (s *stubPrincipalRepo) CountPrincipals(ctx context.Context) (int, error) {
	return len(s.principals), nil
}

func TestListPrincipalsPaging(t *testing.T) {
	repo := &stubPrincipalRepo{}
	for i := 1; i <= 45; i++ {
		repo.principals = append(repo.principals, Principal{ID: int64(i), IsActive: true, CreatedAt: time.Now()})
	}
	svc := NewService(repo)

	page, paging, err := svc.ListPrincipals(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 20)
	require.Equal(t, 1, paging.Page)
	require.Equal(t, 20, paging.PerPage)
	require.Equal(t, 45, paging.Total)
	require.Equal(t, 3, paging.TotalPages)

	page, paging, err = svc.ListPrincipals(context.Background(), 3, 20)
	require.NoError(t, err)
	require.Len(t, page, 5)
	require.Equal(t, 40, repo.lastOffset)
	require.Equal(t, int64(41), page[0].ID)
	require.Equal(t, 3, paging.Page)
}
