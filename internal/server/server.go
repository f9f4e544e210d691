package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/vote-trader/internal/engine"
	"github.com/Rajchodisetti/vote-trader/internal/observ"
	"github.com/Rajchodisetti/vote-trader/internal/risk"
)

// APIKeyHeader carries the operator key on /api requests.
const APIKeyHeader = "X-API-Key"

// Config wires the ops surface to a running engine.
type Config struct {
	Port        int
	APIKey      string // empty disables the key check
	CORSOrigins []string
	Engine      *engine.Engine
	Scheduler   *engine.Scheduler
	Hub         http.Handler // served on /ws; nil leaves the route out
	// BaseContext parents scheduler loops started over the API.
	BaseContext context.Context
}

// Server is the HTTP API in front of the engine.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

func New(cfg Config) *Server {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	s := &Server{
		router: chi.NewRouter(),
		log:    observ.Logger("http"),
		cfg:    cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router, mostly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", observ.HealthHandler().ServeHTTP)
	s.router.Get("/metrics", observ.Handler().ServeHTTP)
	if s.cfg.Hub != nil {
		s.router.Get("/ws", s.cfg.Hub.ServeHTTP)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireKey)
		// bounds handlers waiting on the engine lock
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", s.handleStatus)
		r.Get("/trades", s.handleTrades)

		r.Route("/risk", func(r chi.Router) {
			r.Get("/", s.handleGetRisk)
			r.Put("/", s.handlePutRisk)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleSubmitOrder)
			r.Post("/preview", s.handlePreviewOrder)
		})
		r.Route("/scheduler", func(r chi.Router) {
			r.Put("/", s.handleSchedulerUpdate)
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
		})
		r.Post("/halt/clear", s.handleClearHalt)
	})
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting http server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
		observ.IncCounter("http_requests_total", map[string]string{"status": strconv.Itoa(ww.Status())})
	})
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			got := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("missing or invalid api key"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) status() engine.Status {
	st := s.cfg.Engine.Status()
	if s.cfg.Scheduler != nil {
		sched := s.cfg.Scheduler.Status()
		st.Scheduler = &sched
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit %q: want a non-negative integer", v))
			return
		}
		limit = n
	}
	trades, err := s.cfg.Engine.Ledger().Trades(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Engine.Ledger().Snapshot().Risk)
}

func (s *Server) handlePutRisk(w http.ResponseWriter, r *http.Request) {
	var p risk.Patch
	if err := decode(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.cfg.Engine.UpdateRisk(r.Context(), p)
	switch {
	case errors.Is(err, risk.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		// applied in memory, not yet durable
		writeJSON(w, http.StatusAccepted, map[string]any{"risk": cfg, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, cfg)
	}
}

type orderRequest struct {
	Side     string  `json:"side"`
	Fraction float64 `json:"fraction"`
}

func (o orderRequest) parse() (risk.Side, float64, error) {
	side, err := engine.ParseSide(o.Side)
	if err != nil {
		return "", 0, err
	}
	f := o.Fraction
	if f == 0 {
		f = 1
	}
	if f < 0 || f > 1 {
		return "", 0, fmt.Errorf("fraction %v: want (0, 1]", o.Fraction)
	}
	return side, f, nil
}

func (s *Server) handlePreviewOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side, f, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.cfg.Engine.Preview(side, f)
	if errors.Is(err, engine.ErrNoPrice) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	side, f, err := req.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.cfg.Engine.Submit(r.Context(), side, f)
	switch {
	case errors.Is(err, engine.ErrNoPrice):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil && res.Trade != nil:
		// filled in memory, not yet durable; retrying would trade twice
		writeJSON(w, http.StatusAccepted, map[string]any{"verdict": res.Verdict, "trade": res.Trade, "error": err.Error()})
	case err != nil && !res.Verdict.Latch:
		writeError(w, http.StatusInternalServerError, err)
	case res.Trade == nil:
		// rejected by the gate; the verdict carries the reason
		writeJSON(w, http.StatusUnprocessableEntity, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type schedulerUpdate struct {
	IntervalMs *float64 `json:"interval_ms,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

func (s *Server) handleSchedulerUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		writeError(w, http.StatusNotFound, errors.New("scheduler not configured"))
		return
	}
	var u schedulerUpdate
	if err := decode(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if u.IntervalMs != nil {
		if *u.IntervalMs <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("interval_ms %v must be positive", *u.IntervalMs))
			return
		}
		s.cfg.Scheduler.SetInterval(time.Duration(*u.IntervalMs * float64(time.Millisecond)))
	}
	if u.Enabled != nil {
		s.cfg.Scheduler.SetEnabled(*u.Enabled)
	}
	observ.Log("scheduler_updated", map[string]any{"status": s.cfg.Scheduler.Status()})
	writeJSON(w, http.StatusOK, s.cfg.Scheduler.Status())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		writeError(w, http.StatusNotFound, errors.New("scheduler not configured"))
		return
	}
	started := s.cfg.Scheduler.Start(s.cfg.BaseContext)
	writeJSON(w, http.StatusOK, map[string]any{"changed": started, "scheduler": s.cfg.Scheduler.Status()})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		writeError(w, http.StatusNotFound, errors.New("scheduler not configured"))
		return
	}
	stopped := s.cfg.Scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"changed": stopped, "scheduler": s.cfg.Scheduler.Status()})
}

func (s *Server) handleClearHalt(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Engine.ClearHalt(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	observ.Log("halt_cleared", map[string]any{"request_id": middleware.GetReqID(r.Context())})
	writeJSON(w, http.StatusOK, s.status())
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
