package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// EchoHandler serves the same routes as Handler on an echo engine.
func (r *Router) EchoHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover(), r.echoLimit)

	g := e.Group(r.basePath)
	g.POST("/start", r.echoAction(actionStart))
	g.POST("/stop", r.echoAction(actionStop))
	g.POST("/restart", r.echoAction(actionRestart))
	g.GET("/status", func(c echo.Context) error {
		code, body := r.status(c.Request().Context(), c.QueryParam("detail"))
		return writeEchoJSON(c, code, body)
	})
	return e
}

func (r *Router) echoLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !r.allow() {
			return writeEchoJSON(c, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
		}
		return next(c)
	}
}

func (r *Router) echoAction(a action) echo.HandlerFunc {
	return func(c echo.Context) error {
		code, body := r.act(c.Request().Context(), a)
		return writeEchoJSON(c, code, body)
	}
}
