package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check is a named dependency probe reported by HealthHandler.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthResult is the body served by HealthHandler.
type HealthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

// RunChecks probes every check and reports "ok" or the probe error.
func RunChecks(ctx context.Context, checks []Check) HealthResult {
	res := HealthResult{Status: "healthy", Checks: make(map[string]string, len(checks))}
	for _, c := range checks {
		if err := c.Probe(ctx); err != nil {
			res.Status = "unhealthy"
			res.Checks[c.Name] = err.Error()
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	return res
}

// HealthHandler pings the database plus any extra checks.
func HealthHandler(pool *pgxpool.Pool, extra ...Check) echo.HandlerFunc {
	checks := append([]Check{{Name: "database", Probe: pool.Ping}}, extra...)
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		res := RunChecks(ctx, checks)
		res.Pool = GetPoolStats(pool)
		if res.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, res)
		}
		return c.JSON(http.StatusOK, res)
	}
}
