package utils

import (
	"errors"
	"net/http"
	"strconv"
)

// PaginatedResponse represents the standard paginated API response structure
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
	Error      string         `json:"error,omitempty"`
}

// PaginationMeta contains pagination metadata
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

// ParsePaginationParams extracts and validates pagination parameters from request
func ParsePaginationParams(r *http.Request) (int, int, error) {
	query := r.URL.Query()

	// Parse page number (default to 1)
	page := 1
	if query.Get("page") != "" {
		parsedPage, err := strconv.Atoi(query.Get("page"))
		if err != nil || parsedPage < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = parsedPage
	}

	// Parse per_page (default to 20, cap at 100)
	perPage := 20
	if query.Get("per_page") != "" {
		parsedPerPage, err := strconv.Atoi(query.Get("per_page"))
		if err != nil || parsedPerPage < 1 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if parsedPerPage > 100 {
			perPage = 100 // Cap at 100 to prevent excessive queries
		} else {
			perPage = parsedPerPage
		}
	}

	return page, perPage, nil
}
