package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
)

func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// Status answers change with the task, so no response is cacheable.
func noStore(h http.Header) { h.Set("Cache-Control", "no-store") }

func writeJSON(c *gin.Context, code int, v any) {
	noStore(c.Writer.Header())
	c.JSON(code, v)
}

func writeEchoJSON(c echo.Context, code int, v any) error {
	noStore(c.Response().Header())
	return c.JSON(code, v)
}
