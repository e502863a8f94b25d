package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isopen-io/meeshy-sub020/internal/app/server/handlers"
	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/middleware"
)

type Server struct {
	mux      *http.ServeMux
	addr     string
	appName  string
	log      *slog.Logger
	tokenSvc *services.TokenService
	httpSrv  *http.Server

	authHandler     *handlers.AuthHandler
	wsHandler       *handlers.WSHandler
	messageHandler  *handlers.MessageHandler
	presenceHandler *handlers.PresenceHandler
	promRegistry    *prometheus.Registry
}

func NewServer(
	log *slog.Logger,
	addr, appName string,
	tokenSvc *services.TokenService,
	pipeline *services.Pipeline,
	rooms *services.RoomService,
	typing *services.TypingTracker,
	registry contracts.Registry,
	convs domain.ConversationRepository,
	policy domain.SessionPolicy,
	promRegistry *prometheus.Registry,
) *Server {
	s := &Server{
		mux:             http.NewServeMux(),
		addr:            addr,
		appName:         appName,
		log:             log,
		tokenSvc:        tokenSvc,
		authHandler:     handlers.NewAuthHandler(convs, tokenSvc),
		wsHandler:       handlers.NewWSHandler(registry, pipeline, rooms, typing, policy),
		messageHandler:  handlers.NewMessageHandler(pipeline),
		presenceHandler: handlers.NewPresenceHandler(rooms),
		promRegistry:    promRegistry,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.Auth(s.tokenSvc)
	logged := middleware.RequestLogger(s.log)
	traced := middleware.Tracer(s.appName)

	protected := func(h http.HandlerFunc) http.Handler {
		return traced(logged(auth(h)))
	}
	public := func(h http.HandlerFunc) http.Handler {
		return traced(logged(h))
	}

	s.mux.Handle("POST /auth/guest", public(s.authHandler.GuestToken))
	s.mux.Handle("GET /ws", protected(s.wsHandler.Handler))

	s.mux.Handle("POST /conversations/{id}/messages", protected(s.messageHandler.Post))
	s.mux.Handle("GET /conversations/{id}/messages", protected(s.messageHandler.History))
	s.mux.Handle("GET /conversations/{id}/presence", protected(s.presenceHandler.Roster))
	s.mux.Handle("PATCH /messages/{id}", protected(s.messageHandler.Patch))
	s.mux.Handle("DELETE /messages/{id}", protected(s.messageHandler.Delete))

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
}

// Start serves until ctx is cancelled, then drains in-flight requests.
// Websocket sessions are closed by their own context propagation.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.addr,
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: websocket connections are long-lived
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("server - start - shutting down")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
