package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// getClientID extracts the authenticated client id stored in context
// by the JWT middleware.  JWT numeric claims arrive as float64; string
// subjects are parsed.  A missing or malformed value means the request
// bypassed the auth middleware and is rejected upstream as 401.
func getClientID(c echo.Context) (uint64, error) {
	switch t := c.Get("client_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid client_id in context")
}

// pathID parses a numeric path parameter, rejecting zero.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}
