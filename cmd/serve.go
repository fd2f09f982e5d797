package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/fetcher"
	"github.com/sells-group/docflow/internal/mapping"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/monitoring"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/ruletest"
	"github.com/sells-group/docflow/internal/store"
	"github.com/sells-group/docflow/internal/workflow"
)

var (
	servePort     int
	serveTemporal bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for document processing, rules and rule tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &server{
			ctx:       ctx,
			store:     env.Store,
			resolver:  env.Resolver,
			processor: env.Processor,
			tester:    env.Tester(),
			breakers:  env.Extractor.BreakerStatus,
			fetcher:   env.Fetcher,
			taskQueue: cfg.Temporal.TaskQueue,
		}
		if serveTemporal {
			c, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
			if err != nil {
				return eris.Wrap(err, "connect to temporal")
			}
			defer c.Close()
			srv.starter = c
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
				env.Extractor.BreakerStatus,
			)
			go checker.Run(ctx)
		}

		// Pick up rule changes written by other processes.
		interval := time.Duration(cfg.Mapping.SyncIntervalSecs) * time.Second
		if interval > 0 {
			go env.Resolver.Watch(ctx, env.Store, interval)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		srv.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveTemporal, "temporal", false, "accept async rule tests through Temporal")
	rootCmd.AddCommand(serveCmd)
}

type documentProcessor interface {
	Process(ctx context.Context, doc model.Document) (*model.RunContext, error)
}

type ruleRunner interface {
	Run(ctx context.Context, candidate model.MappingRule, filter ruletest.SampleFilter) (*ruletest.Report, error)
}

// server holds the HTTP handlers' collaborators.
type server struct {
	// ctx outlives requests; accepted documents keep processing after the
	// response is written and stop on shutdown.
	ctx       context.Context
	store     store.Store
	resolver  *mapping.Resolver
	processor documentProcessor
	tester    ruleRunner
	breakers  func() []resilience.BreakerStatus
	starter   workflow.Starter // nil disables async rule tests
	fetcher   fetcher.Fetcher  // nil disables submission by source_uri
	taskQueue string

	inflight sync.WaitGroup
}

func (s *server) routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", s.handleSubmitDocument)
		r.Get("/documents/{id}", s.handleGetResult)
		r.Put("/documents/{id}/ground-truth", s.handleGroundTruth)

		r.Get("/mapping", s.handleResolve)
		r.Get("/terms", s.handleListTerms)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleCreateRule)
		r.Get("/rules/{id}", s.handleGetRule)
		r.Put("/rules/{id}", s.handleUpdateRule)
		r.Delete("/rules/{id}", s.handleDeactivateRule)

		r.Post("/ruletests", s.handleRuleTest)

		r.Get("/stats", s.handleStats)
	})
	return r
}

// wait blocks until accepted documents finish.
func (s *server) wait() {
	s.inflight.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		cfgErr *model.ConfigError
		ambErr *mapping.AmbiguityError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &cfgErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ambErr):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		status, code, storeStatus = "degraded", http.StatusServiceUnavailable, err.Error()
	}
	extractor := make(map[string]resilience.BreakerState)
	for _, b := range s.extractorStatus() {
		extractor[b.Backend] = b.State
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"store":         storeStatus,
		"extractor":     extractor,
		"mapping_cache": s.resolver.Stats(),
	})
}

type submitDocumentRequest struct {
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	TemplateID string `json:"template_id"`
	CompanyID  string `json:"company_id"`
	Text       string `json:"text"`
	Content    []byte `json:"content"` // base64 in JSON
	SourceURI  string `json:"source_uri"`
}

// handleSubmitDocument accepts a document for processing. With ?wait=true
// the run completes before the response, which then carries its summary.
func (s *server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req submitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.TemplateID == "" {
		badRequest(w, "template_id is required")
		return
	}
	if len(req.Content) == 0 && req.Text == "" && req.SourceURI == "" {
		badRequest(w, "content, text or source_uri is required")
		return
	}
	if req.SourceURI != "" && !fetcher.IsRemote(req.SourceURI) {
		badRequest(w, "source_uri must be an http(s) url")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	doc := model.Document{
		ID:         req.ID,
		FileName:   req.FileName,
		MimeType:   req.MimeType,
		Content:    req.Content,
		SourceURI:  req.SourceURI,
		TemplateID: req.TemplateID,
		CompanyID:  req.CompanyID,
		Text:       req.Text,
		UploadedAt: time.Now().UTC(),
	}
	if len(doc.Content) == 0 && doc.SourceURI != "" {
		if s.fetcher == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "fetching by source_uri is not enabled"})
			return
		}
		dl, err := s.fetcher.Fetch(r.Context(), doc.SourceURI)
		if err != nil {
			zap.L().Warn("document fetch failed", zap.String("source_uri", doc.SourceURI), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		doc.Content = dl.Content
		if doc.FileName == "" {
			doc.FileName = dl.FileName
		}
		if doc.MimeType == "" {
			doc.MimeType = dl.MimeType
		}
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		rc, err := s.processor.Process(r.Context(), doc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(rc))
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		log := zap.L().With(zap.String("document_id", doc.ID))
		rc, err := s.processor.Process(s.ctx, doc)
		if err != nil {
			log.Error("document processing failed", zap.Error(err))
			return
		}
		log.Info("document processed",
			zap.String("routing_decision", string(rc.RoutingDecision)),
			zap.Float64("confidence", rc.OverallConfidence),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"document_id": doc.ID,
	})
}

func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleGroundTruth(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil || len(values) == 0 {
		badRequest(w, "body must be a non-empty object of target field to value")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.DocumentStatus(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.RecordGroundTruth(r.Context(), id, values); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, err := s.resolver.Resolve(r.Context(), mappingKey(q.Get("template"), q.Get("company"), q.Get("format")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *server) handleListTerms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("template") == "" {
		badRequest(w, "template is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	terms, err := s.store.ListTerms(r.Context(), q.Get("template"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": terms})
}

func (s *server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RuleFilter{TemplateID: q.Get("template")}
	filter.IncludeInactive, _ = strconv.ParseBool(q.Get("all"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("scope"); raw != "" {
		scope, err := model.ParseScope(raw)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		filter.Scope = &scope
	}
	rules, err := s.store.ListRules(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func decodeRule(r *http.Request) (model.MappingRule, error) {
	rule := model.MappingRule{IsActive: true}
	err := json.NewDecoder(r.Body).Decode(&rule)
	return rule, err
}

func (s *server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeRule(r)
	if err != nil {
		badRequest(w, "invalid rule")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else if _, err := s.store.GetRule(r.Context(), rule.ID); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "rule " + rule.ID + " already exists"})
		return
	}
	change, err := s.resolver.Create(r.Context(), s.store, rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, change)
}

func (s *server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeRule(r)
	if err != nil {
		badRequest(w, "invalid rule")
		return
	}
	rule.ID = chi.URLParam(r, "id")
	change, err := s.resolver.Update(r.Context(), s.store, rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	change, err := s.resolver.Deactivate(r.Context(), s.store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

type ruleTestRequest struct {
	Candidate   model.MappingRule     `json:"candidate"`
	Filter      ruletest.SampleFilter `json:"filter"`
	Async       bool                  `json:"async"`
	RequestedBy string                `json:"requested_by"`
}

func (s *server) handleRuleTest(w http.ResponseWriter, r *http.Request) {
	var req ruleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	if req.Async {
		if s.starter == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "async rule tests are not enabled"})
			return
		}
		submitted, runID, err := workflow.Submit(r.Context(), s.starter, s.taskQueue, workflow.RuleTestRequest{
			Candidate:   req.Candidate,
			Filter:      req.Filter,
			RequestedBy: req.RequestedBy,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"request_id": submitted.RequestID,
			"run_id":     runID,
		})
		return
	}

	report, err := s.tester.Run(r.Context(), req.Candidate, req.Filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleStats reports document outcomes over ?hours (default 24).
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "hours must be a positive integer")
			return
		}
		hours = n
	}
	snap, err := monitoring.NewCollector(s.store).Collect(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{MetricsSnapshot: snap, Extractors: s.extractorStatus()})
}

// statsResponse is the outcome snapshot plus the extraction backends'
// breakers.
type statsResponse struct {
	*monitoring.MetricsSnapshot
	Extractors []resilience.BreakerStatus `json:"extractors"`
}

func (s *server) extractorStatus() []resilience.BreakerStatus {
	if s.breakers == nil {
		return []resilience.BreakerStatus{}
	}
	return s.breakers()
}
