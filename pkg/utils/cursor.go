package utils

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"carelink/pkg/errors"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryParams represents cursor pagination parameters for message history
type HistoryParams struct {
	Cursor time.Time
	Limit  int
}

// GetHistoryParams extracts cursor and limit from the request. An absent
// cursor means "from the beginning".
func GetHistoryParams(c echo.Context) (HistoryParams, error) {
	params := HistoryParams{Limit: ClampLimit(0)}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return params, errors.BadRequest("limit must be an integer", err)
		}
		params.Limit = ClampLimit(limit)
	}

	if raw := c.QueryParam("cursor"); raw != "" {
		cursor, err := ParseCursor(raw)
		if err != nil {
			return params, errors.BadRequest("cursor must be an RFC3339 timestamp", err)
		}
		params.Cursor = cursor
	}

	return params, nil
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func FormatCursor(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func ParseCursor(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
