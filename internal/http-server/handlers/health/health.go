package health

import (
	"context"
	"log/slog"
	"net/http"
	"vpnbot/lib/api/response"
	"vpnbot/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	Health(ctx context.Context) error
}

// Check reports whether the service and its storage are reachable.
func Check(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.health")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if err := handler.Health(r.Context()); err != nil {
			logger.Error("health check", sl.Err(err))
			render.Status(r, 503)
			render.JSON(w, r, response.Error("Storage unreachable"))
			return
		}

		render.JSON(w, r, response.Ok("ok"))
	}
}
