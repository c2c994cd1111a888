// Package main provides the HTTP API server for webhook ingestion and stats queries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"github.com/redis/rueidis"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/metrics"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/service"
	"github.com/jnst/mail-tracker/internal/stats"
)

const (
	contentTypeJSON        = "Content-Type"
	applicationJSON        = "application/json"
	failedToEncodeResponse = "failed to encode response"
	maxWebhookBytes        = 10 << 20
	shutdownTimeout        = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
	signalBufferSize       = 1
	exitCode               = 1
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIServer handles HTTP requests for webhook ingestion and stats.
type APIServer struct {
	ingestService service.IngestService
	statsService  service.StatsService
	store         Pinger
	loc           *time.Location
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(
	ingestService service.IngestService,
	statsService service.StatsService,
	store Pinger,
	loc *time.Location,
) *APIServer {
	if loc == nil {
		loc = time.UTC
	}

	return &APIServer{
		ingestService: ingestService,
		statsService:  statsService,
		store:         store,
		loc:           loc,
	}
}

// Routes builds the router.
func (s *APIServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Post("/webhooks/mail", s.HandleWebhook)
	r.Get("/stats", s.GetStats)
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// HandleWebhook handles POST /webhooks/mail. Uncorrelated or malformed elements are
// dropped, so any JSON array is acknowledged with 200.
func (s *APIServer) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	report, err := s.ingestService.ProcessPayload(r.Context(), body)
	if err != nil {
		http.Error(w, "Invalid JSON array", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type percentCollection struct {
	Overview *model.PercentResult                        `json:"overview"`
	Groups   map[model.StatsGroup][]*model.PercentResult `json:"groups,omitempty"`
}

// GetStats handles GET /stats.
func (s *APIServer) GetStats(w http.ResponseWriter, r *http.Request) {
	q, percent, err := parseStatsQuery(r, s.loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	collection, err := s.statsService.Query(r.Context(), q)
	if err != nil {
		if isQueryError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		slog.Error("stats query failed", slog.String("error", err.Error()))
		http.Error(w, "Stats query failed", http.StatusInternalServerError)

		return
	}

	if !percent {
		writeJSON(w, http.StatusOK, collection)
		return
	}

	out := percentCollection{
		Overview: collection.AsPercent(),
		Groups:   make(map[model.StatsGroup][]*model.PercentResult),
	}
	for _, group := range []model.StatsGroup{model.GroupDays, model.GroupMonths, model.GroupYears} {
		if !collection.HasGroup(group) {
			continue
		}

		results := make([]*model.PercentResult, 0, len(collection.Group(group)))
		for _, bucket := range collection.Group(group) {
			results = append(results, bucket.AsPercent())
		}
		out.Groups[group] = results
	}

	writeJSON(w, http.StatusOK, out)
}

// HealthCheck handles GET /health endpoint for service health check.
func (s *APIServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(failedToEncodeResponse, slog.String("error", err.Error()))
	}
}

func isQueryError(err error) bool {
	for _, target := range []error{
		model.ErrInvalidPeriod,
		model.ErrUnknownWindow,
		model.ErrInvalidFilter,
		model.ErrInvalidGranularity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// parseStatsQuery reads window, from, to, granularity, percent and one parameter per
// filter dimension. Filter values may be repeated or comma separated.
func parseStatsQuery(r *http.Request, loc *time.Location) (stats.Query, bool, error) {
	values := r.URL.Query()

	var q stats.Query

	if window := values.Get("window"); window != "" {
		w, err := stats.ParseWindow(window)
		if err != nil {
			return q, false, err
		}
		q.Window = w
	}

	from, to := values.Get("from"), values.Get("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			return q, false, fmt.Errorf("%w: from and to must be given together", model.ErrInvalidPeriod)
		}

		fromTime, err := parseTime(from, loc, false)
		if err != nil {
			return q, false, err
		}
		toTime, err := parseTime(to, loc, true)
		if err != nil {
			return q, false, err
		}
		q.Period = &stats.Period{From: fromTime, To: toTime}
	}

	granularity, err := stats.ParseGranularity(values.Get("granularity"))
	if err != nil {
		return q, false, err
	}
	q.Granularity = granularity

	for _, dim := range model.Dimensions {
		var list []string
		for _, raw := range values[string(dim)] {
			for _, v := range strings.Split(raw, ",") {
				if v = strings.TrimSpace(v); v != "" {
					list = append(list, v)
				}
			}
		}
		if len(list) > 0 {
			q.Filters = append(q.Filters, stats.Filter{Dimension: dim, Values: list})
		}
	}

	percent := false
	if raw := values.Get("percent"); raw != "" {
		percent, err = strconv.ParseBool(raw)
		if err != nil {
			return q, false, fmt.Errorf("invalid percent parameter: %q", raw)
		}
	}

	return q, percent, nil
}

// parseTime accepts RFC 3339 or a bare date in loc. A bare "to" date covers the whole day.
func parseTime(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	t, err := time.ParseInLocation(stats.DayLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cannot parse %q", model.ErrInvalidPeriod, raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	return t, nil
}

func setupRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Notify.Mode == config.NotifyDirect || cfg.Ingest.DedupeEnabled
}

// apiStoreOptions leaves the tracker id source at the backend default; the api
// only correlates existing sends and never allocates tracker ids.
func apiStoreOptions(cfg *config.Config) repository.StoreOptions {
	return repository.StoreOptions{
		Backend:     cfg.StorageBackend,
		DatabaseURL: cfg.DatabaseURL,
	}
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping API server")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel)
	slog.SetDefault(loggerInstance)

	ctx, cancel := setupSignalHandling()
	defer cancel()

	var redisClient rueidis.Client
	if needsRedis(cfg) {
		redisClient, err = setupRedisClient(cfg)
		if err != nil {
			slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(exitCode)
		}
		defer redisClient.Close()
	}

	store, err := repository.Open(ctx, apiStoreOptions(cfg))
	if err != nil {
		slog.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer store.Close()

	ingestCfg := service.IngestConfig{DenyKeys: cfg.Tracking.DenyKeys}
	if cfg.Ingest.DedupeEnabled {
		ingestCfg.Deduplicator = service.NewRedisDeduplicator(redisClient, cfg.Ingest.DedupeTTL)
	}

	var publisher notify.Publisher
	switch cfg.Notify.Mode {
	case config.NotifyOutbox:
		publisher = notify.NewOutboxPublisher(store.Outbox)
		ingestCfg.Transactional = true
	default:
		publisher = notify.NewStreamPublisher(redisClient, cfg.Notify.Stream)
	}

	ingestService := service.NewIngestServiceImpl(store.Sends, store.Events, store.Tx, publisher, ingestCfg)
	statsService := service.NewStatsServiceImpl(store.Sends, cfg.Location())

	server := NewAPIServer(ingestService, statsService, store, cfg.Location())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down server", slog.String("error", err.Error()))
		}
	}()

	slog.Info("starting API server",
		slog.String("service", "api"),
		slog.String("port", cfg.Port),
		slog.String("storage", cfg.StorageBackend),
		slog.String("notify_mode", cfg.Notify.Mode),
	)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("failed to start server", slog.String("error", err.Error()))
		return
	}
}
