package audit

import (
	"context"
	"fmt"
)

// Repository provides read access to the ledger.
type Repository interface {
	ListEntries(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
}

// Service coordinates ledger queries with paging.
type Service struct {
	repo Repository
}

// NewService builds a query service over the ledger.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Query returns entries most-recent-first for the given filters.
func (s *Service) Query(ctx context.Context, f Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to detect whether a next page exists.
	rows, err := s.repo.ListEntries(ctx, f, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: rows, Paging: paging}, nil
}
