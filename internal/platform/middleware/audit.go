package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/auth"
)

// Audit emits one "clinical_audit" event for every authenticated request on
// a prescription, medicine or staff route: who did what to which record and
// how it ended. Requests rejected by the authorization pipeline carry no
// identity and are left to the access log.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			resource := resourceOf(c.Path())
			if resource == "" {
				return err
			}
			id, ok := auth.IdentityFromContext(c.Request().Context())
			if !ok {
				return err
			}

			rid, _ := c.Get("request_id").(string)
			logger.Info().
				Str("type", "clinical_audit").
				Str("request_id", rid).
				Str("user_id", id.UserID.String()).
				Str("role", id.Role.String()).
				Str("action", actionOf(c.Request().Method)).
				Str("resource", resource).
				Str("resource_id", c.Param("id")).
				Str("doctor_id", c.Param("doctor_id")).
				Int("status", responseStatus(c, err)).
				Msg("record_access")
			return err
		}
	}
}

// resourceOf names the record type behind a route template.
func resourceOf(route string) string {
	switch {
	case strings.Contains(route, "/prescriptions"):
		return "prescription"
	case strings.Contains(route, "/medicines"):
		return "medicine"
	case strings.HasPrefix(route, "/management/"), strings.HasSuffix(route, "/password"), route == "/auth/register":
		return "staff"
	}
	return ""
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// responseStatus is the status the client will see for a handler result.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}
