package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Lab roles. RoleAdmin passes every role check.
const (
	RoleAdmin      = "admin"
	RoleLabManager = "lab_manager"
	RoleLabClerk   = "lab_clerk"
	RoleAnalyst    = "analyst"
	RoleVerifier   = "verifier"
)

var (
	// ReadRoles may look patients up.
	ReadRoles = []string{RoleLabManager, RoleLabClerk, RoleAnalyst, RoleVerifier}
	// WriteRoles may register and edit patients.
	WriteRoles = []string{RoleLabManager, RoleLabClerk}
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
