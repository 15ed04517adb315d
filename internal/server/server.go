// Package server exposes the pipeline stages over HTTP. Every stage is a
// POST endpoint taking the JSON body its upstream stage sends.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/mail"
	"github.com/sells-group/lead-pipeline/internal/outreach"
	"github.com/sells-group/lead-pipeline/internal/score"
	"github.com/sells-group/lead-pipeline/internal/session"
)

// Route paths.
const (
	PathDiscover     = "/discover"
	PathEnrich       = "/getDetails"
	PathBatchScore   = "/batch/score"
	PathScore        = "/score"
	PathBatchLetters = "/batch/letters"
	PathLetters      = "/letters"
	PathSend         = "/sendLetters"
	PathAnalysis     = "/analysis"
	PathHealth       = "/health"
)

// Discoverer starts a session.
type Discoverer interface {
	Run(ctx context.Context, req discovery.Request) (*discovery.Result, error)
}

// Stepper runs one enrichment step.
type Stepper interface {
	Step(ctx context.Context, job enrich.Job) (enrich.Outcome, error)
}

// Scorer is the scoring stage.
type Scorer interface {
	BatchScore(ctx context.Context, req score.BatchRequest) (*score.BatchResult, error)
	Score(ctx context.Context, req score.Request) (*session.CompanyRecord, error)
	Finish(ctx context.Context, sessionID, recipient string) error
	Analysis(ctx context.Context, sessionID string) (map[string]*session.Probability, error)
}

// Outreach is the letters stage.
type Outreach interface {
	BatchLetters(ctx context.Context, req outreach.BatchRequest) (*outreach.BatchResult, error)
	Letters(ctx context.Context, req outreach.LettersRequest) (*outreach.LetterResult, error)
	Send(ctx context.Context, req outreach.SendRequest) (*mail.Delivery, error)
}

// Stages are the handlers behind the routes.
type Stages struct {
	Discover Discoverer
	Enrich   Stepper
	Score    Scorer
	Outreach Outreach
}

// Server routes stage requests. Work that continues after the response
// runs on the server's base context and is tracked until Wait returns.
type Server struct {
	stages  Stages
	base    context.Context
	origins []string
	wg      sync.WaitGroup
}

// New creates a Server. base bounds background work; cancel it to abort
// in-flight stages on shutdown.
func New(base context.Context, stages Stages, allowedOrigins []string) *Server {
	return &Server{stages: stages, base: base, origins: allowedOrigins}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(PathDiscover, s.handleDiscover)
	r.Post(PathEnrich, s.handleEnrich)
	r.Post(PathBatchScore, s.handleBatchScore)
	r.Post(PathScore, s.handleScore)
	r.Post(PathBatchLetters, s.handleBatchLetters)
	r.Post(PathLetters, s.handleLetters)
	r.Post(PathSend, s.handleSend)
	r.Post(PathAnalysis, s.handleAnalysis)
	return r
}

// Wait blocks until background work started by handlers has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// background runs fn detached from the request.
func (s *Server) background(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.base); err != nil {
			zap.L().Error("server: background stage failed", zap.String("stage", name), zap.Error(err))
		}
	}()
}

type fulfillment struct {
	FulfillmentText any    `json:"fulfillmentText"`
	SessionID       string `json:"sessionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
