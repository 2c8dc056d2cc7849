// Package httpapi wires the HTTP routes onto the Orchestrator and
// QueryService, every response wrapped in the {success, data, error}
// envelope. Routes are registered via a RegisterRoutes(g *echo.Group)
// method so the group can be mounted under any prefix.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/denghuinow/kg-api-server/internal/apierr"
)

// envelope is the {success, data, error} shape every response uses.
type envelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *apierr.Error `json:"error,omitempty"`
}

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

// fail writes the error envelope, translating a bare (non-*apierr.Error)
// error into NEO4J_ERROR/500 since every GraphStore/MetadataStore failure
// that reaches a handler ungrouped is a backing-store failure.
func fail(c echo.Context, err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return c.JSON(apierr.HTTPStatus(apiErr.Code), envelope{Error: apiErr})
	}
	wrapped := apierr.New(apierr.CodeNeo4jError, err.Error())
	return c.JSON(http.StatusInternalServerError, envelope{Error: wrapped})
}
