package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"vpnbot/entity"
	"vpnbot/impl/core"
	"vpnbot/impl/ledger"
	"vpnbot/lib/api/cont"
	"vpnbot/lib/api/response"
	"vpnbot/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	CreateInvite(ctx context.Context, creator *entity.User, maxUses int, validDays int) (*entity.InviteCode, error)
	ValidateInvite(ctx context.Context, code string) (*entity.InviteCode, error)
}

// Create mints an invite code for the authenticated staff user.
func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.invites")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req entity.InviteRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		creator := cont.GetUser(r.Context())
		logger = logger.With(
			slog.Int64("creator", creator.TelegramId),
			slog.Int("max_uses", req.MaxUses),
		)

		invite, err := handler.CreateInvite(r.Context(), creator, req.MaxUses, req.ValidDays)
		if err != nil {
			logger.Error("create invite", sl.Err(err))
			switch {
			case errors.Is(err, core.ErrPermission):
				render.Status(r, 403)
				render.JSON(w, r, response.Error("Staff access required"))
			case errors.Is(err, ledger.ErrInvalidArgument):
				render.Status(r, 400)
				render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			default:
				render.Status(r, 500)
				render.JSON(w, r, response.Error("Create invite failed"))
			}
			return
		}
		logger.Debug("invite created")

		render.JSON(w, r, response.Ok(invite))
	}
}

// Validate classifies a code without consuming a use.
func Validate(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.invites")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		code := chi.URLParam(r, "code")
		logger = logger.With(sl.Secret("code", code))

		invite, err := handler.ValidateInvite(r.Context(), code)
		if err != nil {
			logger.Debug("validate invite", sl.Err(err))
			render.Status(r, 422)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		render.JSON(w, r, response.Ok(invite))
	}
}
