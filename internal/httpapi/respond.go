package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return c.JSON(code, data)
}

func fail(c echo.Context, code int, message string) error {
	return c.JSON(code, errorResponse{Error: message})
}

func failBadRequest(c echo.Context, message string) error {
	return fail(c, http.StatusBadRequest, message)
}

func internalError(c echo.Context, message string) error {
	return fail(c, http.StatusInternalServerError, message)
}
