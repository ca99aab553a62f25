package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
	"vpnbot/internal/config"
	"vpnbot/internal/http-server/handlers/errors"
	"vpnbot/internal/http-server/handlers/health"
	"vpnbot/internal/http-server/handlers/invites"
	"vpnbot/internal/http-server/handlers/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"vpnbot/internal/http-server/middleware/authenticate"
	"vpnbot/internal/http-server/middleware/timeout"
	"vpnbot/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	webhook.Core
	invites.Core
	health.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, handler))
		rootApi.Get("/health", health.Check(log, handler))
		rootApi.Route("/invites", func(inv chi.Router) {
			inv.Post("/", invites.Create(log, handler))
			inv.Get("/{code}", invites.Validate(log, handler))
		})
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Post("/stripe", webhook.Stripe(log, handler))
		rootWH.Post("/cryptobot", webhook.CryptoBot(log, handler))
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
