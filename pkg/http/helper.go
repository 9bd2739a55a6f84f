package http

import (
	"net/http"
	"net/url"
	"strconv"

	"bonzai/pkg/config"
	apperrors "bonzai/pkg/errors"
)

// Page selects a slice of a listing. Values from ParsePage are already
// clamped to the configured bounds.
type Page struct {
	Limit  int
	Offset int64
}

// ParsePage reads ?limit= and ?offset=. Absent values fall back to the
// defaults; values that are not integers are rejected.
func ParsePage(r *http.Request) (Page, error) {
	query := r.URL.Query()

	limit, err := queryInt(query, "limit", strconv.IntSize)
	if err != nil {
		return Page{}, err
	}
	offset, err := queryInt(query, "offset", 64)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Limit:  config.NormalizePaginationLimit(int(limit)),
		Offset: config.NormalizeOffset(offset),
	}, nil
}

func queryInt(query url.Values, name string, bits int) (int64, error) {
	s := query.Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return 0, apperrors.InvalidInput("invalid " + name + " parameter: " + s)
	}
	return v, nil
}
