package utils

import (
	"net/http"
	"strconv"
)

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Page   int `json:"page"`
	// Before is an exclusive sequence cursor; zero means "from the newest".
	Before int64 `json:"before,omitempty"`
}

func GetPaginationDetails(r *http.Request) (int, int, int) {
	limitStr := r.URL.Query().Get("limit")
	limit := 10
	if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
		limit = val
	}
	if limit > 100 {
		limit = 100
	}

	pageStr := r.URL.Query().Get("page")
	page := 1
	if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
		page = val
	}

	offset := (page - 1) * limit
	return limit, offset, page
}

// GetPagination is GetPaginationDetails plus the optional "before" cursor.
func GetPagination(r *http.Request) Pagination {
	limit, offset, page := GetPaginationDetails(r)
	p := Pagination{Limit: limit, Offset: offset, Page: page}
	if val, err := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64); err == nil && val > 0 {
		p.Before = val
	}
	return p
}
