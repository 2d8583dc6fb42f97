package httputil

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	validation "github.com/jellydator/validation"
)

// Page is an offset window parsed from the offset and limit query parameters.
type Page struct {
	Offset int
	Limit  int
}

// ParsePagination reads offset (default 0) and limit (default defaultLimit, at most
// maxLimit) from the query string.
func ParsePagination(c *gin.Context, defaultLimit, maxLimit int) (Page, error) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		return Page{}, fmt.Errorf("invalid offset parameter: must be a non-negative integer")
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil {
		return Page{}, fmt.Errorf("invalid limit parameter: must be between 1 and %d", maxLimit)
	}

	if err := validation.Validate(offset, validation.Min(0)); err != nil {
		return Page{}, fmt.Errorf("invalid offset parameter: must be a non-negative integer")
	}
	if err := validation.Validate(limit, validation.Min(1), validation.Max(maxLimit)); err != nil {
		return Page{}, fmt.Errorf("invalid limit parameter: must be between 1 and %d", maxLimit)
	}

	return Page{Offset: offset, Limit: limit}, nil
}

// Paginate returns the window of items selected by p. Out of range offsets yield
// an empty slice.
func Paginate[T any](items []T, p Page) []T {
	if p.Offset >= len(items) {
		return items[:0]
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}
