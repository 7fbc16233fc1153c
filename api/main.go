package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krxwatch/disclosure-radar/backend/internal/collector"
	"github.com/krxwatch/disclosure-radar/backend/internal/config"
	"github.com/krxwatch/disclosure-radar/backend/internal/docstore"
	"github.com/krxwatch/disclosure-radar/backend/internal/elasticsearch"
	"github.com/krxwatch/disclosure-radar/backend/internal/faults"
	"github.com/krxwatch/disclosure-radar/backend/internal/logger"
	"github.com/krxwatch/disclosure-radar/backend/internal/metrics"
	"github.com/krxwatch/disclosure-radar/backend/internal/models"
	"github.com/krxwatch/disclosure-radar/backend/internal/query"
	"github.com/krxwatch/disclosure-radar/backend/internal/ratelimit"
	"github.com/krxwatch/disclosure-radar/backend/internal/retry"
	"github.com/krxwatch/disclosure-radar/backend/internal/source"
	"github.com/krxwatch/disclosure-radar/backend/internal/status"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	metrics.Register()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.DisclosuresIndex, cfg.ExecutionsIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	docs, err := docstore.NewRedis(cfg.RedisAddrs, cfg.RedisPassword, "documents:")
	if err != nil {
		log.Error("init document store", slog.Any("err", err))
		os.Exit(1)
	}
	defer docs.Close()

	loc, err := time.LoadLocation(cfg.SourceTimezone)
	if err != nil {
		log.Error("load source timezone", slog.Any("err", err))
		os.Exit(1)
	}

	tracker := status.NewTracker(esClient)
	orch := collector.New(collector.Config{
		SourceName: cfg.SourceName,
		Fetcher:    source.NewHTTPFetcher(cfg.SourceBaseURL, &http.Client{Timeout: 30 * time.Second}),
		Docs:       docs,
		Index:      esClient,
		Tracker:    tracker,
		Limiter:    ratelimit.New(cfg.FetchSpacing),
		Location:   loc,
		Log:        log,
	})
	router := query.NewRouter(esClient, loc, retry.Options{}, log)

	srv := &server{
		log:     log,
		cfg:     cfg,
		es:      esClient,
		orch:    orch,
		router:  router,
		tracker: tracker,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)
	r.Post("/harvest", srv.handleHarvest)
	r.Get("/disclosures", srv.handleQuery)
	r.Get("/executions/{id}", srv.handleExecution)
	r.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type harvester interface {
	Run(ctx context.Context, event models.CollectorEvent) models.CollectionResult
}

type querier interface {
	Query(ctx context.Context, params models.QueryParams) (*models.QueryResult, error)
}

type executionReader interface {
	Get(ctx context.Context, executionID string) (*models.ExecutionStatus, error)
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	es      *elasticsearch.Client
	orch    harvester
	router  querier
	tracker executionReader
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHarvest runs an on-demand harvest synchronously. The run itself never
// errors out of its entry point; only an undecodable body is a 400.
func (s *server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var event models.CollectorEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if event.Mode == "" {
		event.Mode = models.ModeOnDemand
	}

	result := s.orch.Run(r.Context(), event)
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	params := models.QueryParams{
		EntityCode: strings.TrimSpace(r.URL.Query().Get("entity_code")),
		StartDate:  strings.TrimSpace(r.URL.Query().Get("start_date")),
		EndDate:    strings.TrimSpace(r.URL.Query().Get("end_date")),
		Category:   strings.TrimSpace(r.URL.Query().Get("category")),
		Limit:      clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit),
		Offset:     parseOffset(r.URL.Query().Get("offset")),
	}

	result, err := s.router.Query(ctx, params)
	if err != nil {
		if faults.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleExecution(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := s.tracker.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if st == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "execution not found"})
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func parseOffset(raw string) int {
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
