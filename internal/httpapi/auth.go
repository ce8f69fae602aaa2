package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"horse.fit/upkeep/internal/auth"
)

// requireAdmin guards mutating routes with a bearer token checked against
// ADMIN_TOKEN_HASH. Without a configured hash every request passes.
func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.AdminTokenHash == "" {
				return next(c)
			}

			token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" || !auth.VerifyToken(token, s.opts.AdminTokenHash) {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return fail(c, http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}
