package shared

import (
	"net/http"
	"strconv"
)

// DefaultPerPage is used when the request does not ask for a page size.
const DefaultPerPage = 20

// Pagination describes one page of a listing.
type Pagination struct {
	Page    int
	PerPage int
	Total   int
}

// PageFromRequest reads ?page= and ?per_page= with sane bounds.
func PageFromRequest(r *http.Request) Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return NewPagination(page, perPage, 0)
}

// NewPagination normalises page and size.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 || perPage > 100 {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	return Pagination{Page: page, PerPage: perPage, Total: total}
}

// Offset is the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages rounds Total up to whole pages.
func (p Pagination) TotalPages() int {
	if p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// HasPrev reports whether a previous page exists.
func (p Pagination) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a next page exists.
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages() }
