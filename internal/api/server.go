package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/store"
)

// Runner accepts transfers for background processing.
type Runner interface {
	NewRequest(direction internal.Direction, asset, amount, sender, recipient, label string) (internal.TransferRequest, error)
	Enqueue(ctx context.Context, job internal.Job) error
}

// Server exposes transfers over HTTP.
type Server struct {
	runner Runner
	store  store.Store
	logger *zap.Logger
}

func NewServer(logger *zap.Logger, runner Runner, snapshots store.Store) *Server {
	return &Server{
		runner: runner,
		store:  snapshots,
		logger: logger.With(zap.String("component", "API")),
	}
}

// Handler returns the router of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Options("/*", corsHeaders)

	r.Get("/health", s.healthCheck)
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", s.listTransfers)
		r.Get("/{id}", s.getTransfer)
		r.Post("/{id}/resume", s.resumeTransfer)
		r.Post("/eth-to-solana", s.startTransfer(internal.DirectionEthToSolana))
		r.Post("/solana-to-eth", s.startTransfer(internal.DirectionSolanaToEth))
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

func corsHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
