package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type jsendBody struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func jsendSuccess(c echo.Context, code int, data any) error {
	return c.JSON(code, jsendBody{Status: "success", Data: data})
}

func jsendFail(c echo.Context, code int, data any) error {
	return c.JSON(code, jsendBody{Status: "fail", Data: data})
}

func jsendError(c echo.Context, code int, message string) error {
	return c.JSON(code, jsendBody{Status: "error", Message: message})
}

func jsendNotFound(c echo.Context, what string) error {
	return jsendFail(c, http.StatusNotFound, map[string]string{"resource": what})
}
