package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/pkg/errors"
)

func TestGetHistoryParams(t *testing.T) {
	e := echo.New()
	cursor := time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC)

	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantTime  time.Time
		wantCode  string
	}{
		{name: "defaults", query: "", wantLimit: DefaultHistoryLimit},
		{name: "clamped", query: "?limit=5000", wantLimit: MaxHistoryLimit},
		{name: "cursor", query: "?limit=10&cursor=" + FormatCursor(cursor), wantLimit: 10, wantTime: cursor},
		{name: "bad limit", query: "?limit=abc", wantCode: errors.CodeBadRequest},
		{name: "bad cursor", query: "?cursor=yesterday", wantCode: errors.CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/messages"+tt.query, nil)
			c := e.NewContext(req, httptest.NewRecorder())

			params, err := GetHistoryParams(c)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, params.Limit)
			assert.True(t, tt.wantTime.Equal(params.Cursor))
		})
	}
}
