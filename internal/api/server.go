package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/futures-guardian/internal/config"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/internal/orchestrator"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

const maxBodyBytes = 1 << 20

// Server exposes the guardian to operators and to the strategy and
// order-transmission collaborators over HTTP
type Server struct {
	logger  *logger.Logger
	service *orchestrator.Service
	config  config.ServerConfig
	router  chi.Router

	// operator writes are rate limited so a stuck script cannot flap the mode
	writes *rate.Limiter
}

// NewServer builds the router for svc
func NewServer(log *logger.Logger, svc *orchestrator.Service, cfg config.ServerConfig) *Server {
	s := &Server{
		logger:  log.Named("api"),
		service: svc,
		config:  cfg,
		writes:  rate.NewLimiter(rate.Limit(5), 10),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.service.Health().ServeHTTP)
	r.Handle("/metrics", monitoring.NewMetricsHandler())
	r.Get("/ws", s.service.Hub().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(limitBody)

		r.Get("/mode", s.getMode)
		r.With(s.limitWrites).Post("/mode", s.setMode)
		r.With(s.limitWrites).Post("/mode/release", s.releaseOverride)
		r.Get("/transitions", s.listTransitions)
		r.Post("/orders/check", s.checkOrder)
		r.Post("/targets", s.filterTargets)
		r.Get("/risk", s.getRisk)
	})
	return r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening on %s", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type modeResponse struct {
	Mode            types.Mode `json:"mode"`
	Overridden      bool       `json:"overridden"`
	SnapshotVersion uint64     `json:"snapshot_version"`
	Triggers        []string   `json:"triggers"`
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	machine := s.service.Machine()
	writeJSON(w, http.StatusOK, modeResponse{
		Mode:            machine.Mode(),
		Overridden:      machine.Overridden(),
		SnapshotVersion: s.service.Snapshots().Version(),
		Triggers:        machine.TriggerIDs(),
	})
}

type setModeRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.service.Machine().ManualSetMode(mode, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Zap().Warn("operator set mode",
		zap.String("mode", mode.String()),
		zap.String("remote", r.RemoteAddr),
		zap.String("request_id", middleware.GetReqID(r.Context())))
	writeJSON(w, http.StatusOK, rec)
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) releaseOverride(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.service.Machine().ReleaseOverride(req.Reason) {
		writeError(w, http.StatusConflict, "no manual override is active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"released": true,
		"mode":     s.service.Machine().Mode(),
	})
}

// listTransitions returns the history, optionally only the last ?limit= records
func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	history := s.service.Machine().History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(history) {
			history = history[len(history)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) checkOrder(w http.ResponseWriter, r *http.Request) {
	var order types.Order
	if !decodeJSON(w, r, &order) {
		return
	}
	decision, err := s.service.Gateway().Submit(r.Context(), order)
	switch {
	case errors.Is(err, orchestrator.ErrGatewayClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, decision)
	}
}

type targetsRequest struct {
	Targets []types.TargetPosition `json:"targets"`
}

func (s *Server) filterTargets(w http.ResponseWriter, r *http.Request) {
	var req targetsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap := s.service.Snapshots().Latest()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available")
		return
	}
	result := s.service.Filter().Apply(s.service.Machine().Mode(), req.Targets, snap.Account)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getRisk(w http.ResponseWriter, r *http.Request) {
	report := s.service.Monitor().Latest()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, "no risk report yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.writes.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many operator requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Zap().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
