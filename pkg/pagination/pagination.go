// Package pagination turns list query parameters into bounded page requests
// and wraps list results with page metadata.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/query"
)

// ErrInvalidRequest is returned when page or page_size is not an integer.
var ErrInvalidRequest = errors.New("invalid pagination parameter")

// Request selects one page of a filtered, sorted list.
type Request struct {
	Page     int
	PageSize int
	Search   *string
	Sort     []query.SortField
}

// Normalize clamps page to at least 1 and page size into [1, MaxPageSize],
// substituting the default size when none was requested.
func (r *Request) Normalize(cfg Config) {
	r.Page = max(r.Page, 1)
	if r.PageSize < 1 {
		r.PageSize = cfg.DefaultPageSize
	}
	r.PageSize = min(r.PageSize, cfg.MaxPageSize)
}

func (r Request) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// FromQuery reads page, page_size, search and sort from query values.
// Missing values fall back to defaults; malformed integers are rejected.
func FromQuery(values url.Values, cfg Config) (Request, error) {
	page, err := intParam(values, "page")
	if err != nil {
		return Request{}, err
	}
	size, err := intParam(values, "page_size")
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Page:     page,
		PageSize: size,
		Sort:     query.ParseSortFields(values.Get("sort")),
	}
	if s := values.Get("search"); s != "" {
		req.Search = &s
	}

	req.Normalize(cfg)
	return req, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidRequest, name, raw)
	}
	return n, nil
}

// Page is one page of T plus the counts a client needs to walk the rest.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// NewPage builds a Page. Data is never nil so it always encodes as an array.
func NewPage[T any](data []T, total, page, pageSize int) Page[T] {
	pages := 1
	if pageSize > 0 && total > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pages,
		HasMore:    page < pages,
	}
}

// Slice pages an in-memory result set that is already filtered and sorted.
func Slice[T any](items []T, req Request) Page[T] {
	total := len(items)
	start := min(req.Offset(), total)
	end := min(start+req.PageSize, total)
	return NewPage(items[start:end], total, req.Page, req.PageSize)
}
