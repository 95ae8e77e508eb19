// Package httpserver exposes the orchestrator over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	orchestratorx "github.com/tanpawarit/agent-squad-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
	"github.com/tanpawarit/agent-squad-router/agent/overlap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// Router is the part of the orchestrator the transport needs.
type Router interface {
	RouteRequest(ctx context.Context, userInput, userID, sessionID string, additionalParams map[string]string) (*orchestratorx.Response, error)
	AgentInfos() []contractx.Info
	AnalyzeAgentOverlap() overlap.Report
}

type RouteRequest struct {
	Input            string            `json:"input"`
	UserID           string            `json:"user_id"`
	SessionID        string            `json:"session_id"`
	AdditionalParams map[string]string `json:"additional_params,omitempty"`
}

type RouteResponse struct {
	Metadata  orchestratorx.Metadata `json:"metadata"`
	Streaming bool                   `json:"streaming"`
	Output    string                 `json:"output"`
}

type Server struct {
	router Router
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
}

func New(router Router, cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		router: router,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/tanpawarit/agent-squad-router/httpserver"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.telemetry)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Get("/agents", s.handleAgents)
		r.Get("/agents/overlap", s.handleOverlap)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := s.router.RouteRequest(r.Context(), req.Input, req.UserID, req.SessionID, req.AdditionalParams)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, contractx.ErrInvalidKey) || errors.Is(err, contractx.ErrValidation) {
			status = http.StatusBadRequest
		}
		s.logger.Error().Err(err).Str("user_id", req.UserID).Str("session_id", req.SessionID).Msg("route request failed")
		respondError(w, status, err.Error())
		return
	}

	if resp.Streaming && wantsEventStream(r) {
		s.streamEvents(w, resp)
		return
	}

	text, err := resp.Text()
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", resp.Metadata.RequestID).Msg("drain response stream")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, RouteResponse{Metadata: resp.Metadata, Streaming: resp.Streaming, Output: text})
}

// streamEvents writes one "chunk" event per fragment, then "done" with the
// metadata, or "error" if the stream or its persistence fails.
func (s *Server) streamEvents(w http.ResponseWriter, resp *orchestratorx.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer resp.Stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := resp.Stream.Recv()
		if errors.Is(err, io.EOF) {
			writeEvent(w, "done", resp.Metadata)
			flusher.Flush()
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Str("request_id", resp.Metadata.RequestID).Msg("response stream failed")
			writeEvent(w, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}
		writeEvent(w, "chunk", map[string]string{"text": chunk})
		flusher.Flush()
	}
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"agents": s.router.AgentInfos()})
}

func (s *Server) handleOverlap(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.router.AnalyzeAgentOverlap())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := s.logger.Info()
		if status >= 400 {
			event = s.logger.Warn()
		}
		if status >= 500 {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeEvent(w io.Writer, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{"error":"encode event"}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
