package common

import (
	"net/http"
	"strconv"
)

// Pagination echoes the paging applied to a list response.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
	Count   int `json:"count"`
}

// ParsePagination extracts page and perPage query parameters. Values that are
// missing, non-numeric or above maxPerPage fall back to the defaults.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int) {
	page = 1
	perPage = defaultPerPage
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("perPage")); err == nil && l > 0 && l <= maxPerPage {
		perPage = l
	}
	return
}
