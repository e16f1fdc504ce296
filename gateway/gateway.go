// Package gateway exposes the voice pipeline over HTTP: one endpoint
// accepts a recorded clip and returns reply audio plus mouth cues, with
// optional incremental delivery over server-sent events.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emiliacb/voice-agent/config"
	"github.com/emiliacb/voice-agent/providers"
)

const messageRoute = "/message"

// Server is the stateless backend gateway. The only cross-request state
// is the rate-limit counters and the observer registry.
type Server struct {
	cfg      config.ServerConfig
	pipeline *Pipeline

	// warmer is poked by /health to hide the viseme extractor's
	// cold-start latency.
	warmer    providers.VisemeExtractor
	warmingUp atomic.Bool

	clientLimiter *Limiter
	routeLimiter  *Limiter

	observers *observerHub
	upgrader  websocket.Upgrader

	server *http.Server
}

// New creates a gateway around an assembled pipeline. warmer may be nil
// when no extractor needs pre-warming.
func New(cfg config.ServerConfig, rl config.RateLimitConfig, pipeline *Pipeline, warmer providers.VisemeExtractor) *Server {
	s := &Server{
		cfg:           cfg,
		pipeline:      pipeline,
		warmer:        warmer,
		clientLimiter: NewLimiter(rl.PerClientLimit, rl.Window),
		routeLimiter:  NewLimiter(rl.PerRouteLimit, rl.Window),
		observers:     newObserverHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: makeOriginCheck(cfg.AllowedOrigins),
		},
	}
	return s
}

func makeOriginCheck(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		return allowed[r.Header.Get("Origin")]
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc(messageRoute, s.handleMessage).Methods("POST", "OPTIONS")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/ws/observe", s.handleObserve).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(corsMiddleware(s.cfg.AllowedOrigins))
	router.Use(loggingMiddleware)

	return router
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	go func() {
		slog.Info("Gateway listening", "addr", s.cfg.ListenAddr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
