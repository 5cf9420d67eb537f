package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	LabIDKey  contextKey = "lab_id"
	DBConnKey contextKey = "db_conn"
)

// LabHeader names the lab a request is for when the token does not.
const LabHeader = "X-Lab-ID"

var labIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the schema holding the data of a lab.
func SchemaFor(labID string) string {
	return "lab_" + labID
}

// LabMiddleware resolves the lab a request belongs to and pins a connection
// whose search_path points at that lab's schema.
func LabMiddleware(pool *pgxpool.Pool, defaultLab string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			labID := extractLabID(c, defaultLab)
			if !labIDPattern.MatchString(labID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid lab identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(labID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "lab resolution failed")
			}

			ctx = context.WithValue(ctx, LabIDKey, labID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("lab_id", labID)

			return next(c)
		}
	}
}

// extractLabID looks at the token claim, then the X-Lab-ID header, then the
// lab_id query parameter.
func extractLabID(c echo.Context, defaultLab string) string {
	if lid, ok := c.Get("jwt_lab_id").(string); ok && lid != "" {
		return lid
	}
	if lid := c.Request().Header.Get(LabHeader); lid != "" {
		return lid
	}
	if lid := c.QueryParam("lab_id"); lid != "" {
		return lid
	}
	return defaultLab
}

// ConnFromContext retrieves the lab-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// LabFromContext retrieves the lab ID from context.
func LabFromContext(ctx context.Context) string {
	lid, _ := ctx.Value(LabIDKey).(string)
	return lid
}

// CreateLab creates the schema of a new lab and, when migrations is not nil,
// brings it up to date.
func CreateLab(ctx context.Context, pool *pgxpool.Pool, labID string, migrations fs.FS) error {
	if !labIDPattern.MatchString(labID) {
		return fmt.Errorf("invalid lab identifier: %s", labID)
	}
	schema := SchemaFor(labID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
