package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先の疎通確認を行う。*sql.DBはPingContextでこれを満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NamedHealthChecker はログに出す名前付きのHealthChecker。
type NamedHealthChecker struct {
	Name    string
	Checker HealthChecker
}

// NewHealthHandler は全依存先が応答する場合に200、いずれかが失敗した場合に503を返すハンドラーを返す。
// GET /health
func NewHealthHandler(checkers ...NamedHealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		for _, c := range checkers {
			if err := c.Checker.PingContext(ctx); err != nil {
				slog.Error("health check failed",
					slog.String("dependency", c.Name),
					slog.String("error", err.Error()),
				)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
