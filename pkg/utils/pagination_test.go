package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func paramsFor(query string) PaginationParams {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations?"+query, nil)
	return GetPaginationParams(e.NewContext(req, httptest.NewRecorder()))
}

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		query string
		want  PaginationParams
	}{
		{"", PaginationParams{Page: 1, PageSize: DefaultPageSize, Offset: 0}},
		{"page=3&limit=10", PaginationParams{Page: 3, PageSize: 10, Offset: 20}},
		{"page=-1&limit=0", PaginationParams{Page: 1, PageSize: DefaultPageSize, Offset: 0}},
		{"limit=500", PaginationParams{Page: 1, PageSize: MaxPageSize, Offset: 0}},
		{"page=9&limit=10&offset=25", PaginationParams{Page: 3, PageSize: 10, Offset: 25}},
		{"offset=bogus&page=2", PaginationParams{Page: 2, PageSize: DefaultPageSize, Offset: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, paramsFor(tt.query))
		})
	}
}
