package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/service"
	"github.com/jnst/mail-tracker/internal/stats"
)

type testServer struct {
	handler  http.Handler
	store    *repository.Store
	recorder *notify.Recorder
	tracker  *service.TrackerServiceImpl
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewInMemoryStore()
	recorder := &notify.Recorder{}

	ingest := service.NewIngestServiceImpl(store.Sends, store.Events, store.Tx, recorder,
		service.IngestConfig{DenyKeys: []string{"ip"}})
	statsService := service.NewStatsServiceImpl(store.Sends, time.UTC)
	tracker := service.NewTrackerServiceImpl(store.Sends, store.TrackerIDs, store.Tx, service.TrackerConfig{
		Tracking: config.TrackingOptions{TrackTo: true, TrackCC: true},
	})

	return &testServer{
		handler:  NewAPIServer(ingest, statsService, store, time.UTC).Routes(),
		store:    store,
		recorder: recorder,
		tracker:  tracker,
	}
}

func (s *testServer) do(method, target string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, target, bytes.NewReader(body)))

	return rec
}

func TestAPIServer_WebhookThenStats(t *testing.T) {
	s := newTestServer(t)

	receipt, err := s.tracker.RecordSend(context.Background(),
		model.SendMeta{MessageClass: "WelcomeMail", Category: strPtr("welcome")},
		[]model.RecipientInfo{
			{Email: "a@example.com", DistributionType: model.DistributionTo},
			{Email: "b@example.com", DistributionType: model.DistributionTo},
		})
	require.NoError(t, err)

	body := fmt.Sprintf(`[
		{"tracker_id":%[1]d,"email":"a@example.com","event":"delivered"},
		{"tracker_id":%[1]d,"email":"a@example.com","event":"open"},
		{"tracker_id":%[1]d,"email":"b@example.com","event":"bounce"},
		{"tracker_id":999999,"email":"a@example.com","event":"open"}
	]`, receipt.TrackerID)

	rec := s.do(http.MethodPost, "/webhooks/mail", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, service.BatchReport{Received: 4, Ingested: 3, Skipped: 1}, report)
	assert.Len(t, s.recorder.Names(), 6)

	rec = s.do(http.MethodGet, "/stats?window=past24Hours&granularity=days&category=welcome", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, applicationJSON, rec.Header().Get(contentTypeJSON))

	var got struct {
		Overview model.StatsResult              `json:"overview"`
		Groups   map[string][]model.StatsResult `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Overview.Total)
	assert.Equal(t, map[string]int{"delivered": 1, "open": 1, "bounce": 1}, got.Overview.Events)
	require.Len(t, got.Groups["days"], 1)
	assert.Equal(t, 2, got.Groups["days"][0].Total)

	rec = s.do(http.MethodGet, "/stats?percent=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var percent struct {
		Overview model.PercentResult `json:"overview"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &percent))
	assert.Equal(t, "50.00", percent.Overview.Emails["a@example.com"])
	assert.Equal(t, "100.00", percent.Overview.Categories["welcome"])
}

func TestAPIServer_WebhookRejectsNonArray(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/webhooks/mail", []byte(`{"event":"open"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/webhooks/mail", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIServer_StatsRejectsBadParameters(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{
		"/stats?window=lastDecade",
		"/stats?granularity=weeks",
		"/stats?from=2024-03-01",
		"/stats?from=2024-03-02&to=2024-03-01",
		"/stats?from=yesterday&to=2024-03-01",
		"/stats?distribution_type=fax",
		"/stats?percent=maybe",
	} {
		rec := s.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestParseStatsQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/stats?window=past7Days&granularity=days,months&category=welcome,reset&status=open&status=click&percent=1", nil)

	q, percent, err := parseStatsQuery(req, time.UTC)
	require.NoError(t, err)

	assert.True(t, percent)
	assert.Equal(t, stats.Past7Days, q.Window)
	assert.Equal(t, stats.Days|stats.Months, q.Granularity)
	assert.Equal(t, []stats.Filter{
		{Dimension: model.DimensionCategory, Values: []string{"welcome", "reset"}},
		{Dimension: model.DimensionStatus, Values: []string{"open", "click"}},
	}, q.Filters)

	req = httptest.NewRequest(http.MethodGet, "/stats?from=2024-03-01&to=2024-03-31", nil)
	q, _, err = parseStatsQuery(req, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, q.Period)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), q.Period.From)
	assert.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), q.Period.To)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestAPIServer_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := NewAPIServer(nil, nil, downStore{}, nil).Routes()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health", nil)

	rec := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mail_tracker_http_requests_total")
}

func strPtr(s string) *string { return &s }

func TestNeedsRedis(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want bool
	}{
		{name: "direct notifications", cfg: config.Config{Notify: config.NotifyOptions{Mode: config.NotifyDirect}}, want: true},
		{name: "outbox without dedupe", cfg: config.Config{Notify: config.NotifyOptions{Mode: config.NotifyOutbox}}, want: false},
		{name: "outbox with dedupe", cfg: config.Config{
			Notify: config.NotifyOptions{Mode: config.NotifyOutbox},
			Ingest: config.IngestOptions{DedupeEnabled: true},
		}, want: true},
		{name: "redis tracker ids alone", cfg: config.Config{
			Notify:          config.NotifyOptions{Mode: config.NotifyOutbox},
			TrackerIDSource: config.BackendRedis,
		}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsRedis(&tt.cfg))
		})
	}
}

func TestAPIStoreOptions_OpensWithoutRedis(t *testing.T) {
	cfg := &config.Config{StorageBackend: config.BackendMemory, TrackerIDSource: config.BackendRedis}

	opts := apiStoreOptions(cfg)
	assert.Empty(t, opts.TrackerIDSource)
	assert.Nil(t, opts.Redis)

	store, err := repository.Open(context.Background(), opts)
	require.NoError(t, err)
	defer store.Close()
}
