// Package handlers exposes the alert service, the monitor and live trigger
// streams over HTTP.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/models"
	"pricealerts/internal/monitor"
	"pricealerts/internal/notify"
	"pricealerts/internal/price"
	"pricealerts/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	browsePrefix   = "browse_alerts_"
	browseEndpoint = "/alerts"
)

type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type AlertService interface {
	Create(ctx context.Context, in models.CreateInput) (*models.Alert, error)
	List(ctx context.Context, userIdentifier string, activeOnly bool) ([]*models.Alert, error)
	Get(ctx context.Context, id int64) (*models.Alert, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Toggle(ctx context.Context, id int64) (*models.Alert, error)
	Reset(ctx context.Context, id int64) (*models.Alert, error)
	Statistics(ctx context.Context, userIdentifier string) (models.AlertStats, error)
	TestWebhook(ctx context.Context, url string) error
}

type MonitorControl interface {
	Start() error
	Stop() error
	Restart() error
	Status(ctx context.Context) monitor.Status
	ForceCheck(ctx context.Context) (monitor.CycleStats, error)
	SetInterval(d time.Duration) error
}

type PriceResolver interface {
	Resolve(ctx context.Context, base, quote string) (price.Quote, error)
}

// BrowseCache caches alert listings. *cache.Client satisfies it.
type BrowseCache interface {
	Get(ctx context.Context, key, endpoint string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	InvalidateByPrefix(ctx context.Context, prefix, endpoint string)
}

type Options struct {
	Alerts  AlertService
	Monitor MonitorControl
	Prices  PriceResolver
	Hub     *Hub
	// Cache is optional; listings are not cached without it.
	Cache    BrowseCache
	CacheTTL time.Duration
	Instance string
}

type Server struct {
	alerts   AlertService
	monitor  MonitorControl
	prices   PriceResolver
	hub      *Hub
	cache    BrowseCache
	cacheTTL time.Duration
	instance string
	logger   *zap.Logger
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(logger)
	}
	return &Server{
		alerts:   opts.Alerts,
		monitor:  opts.Monitor,
		prices:   opts.Prices,
		hub:      opts.Hub,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		instance: opts.Instance,
		logger:   logger,
	}
}

// SetMonitor attaches the monitor once it exists. The monitor publishes to
// the server, so it is built after it.
func (s *Server) SetMonitor(m MonitorControl) {
	s.monitor = m
}

// Routes builds the HTTP routing table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/alerts/stream", s.hub.ServeSSE)
	mux.HandleFunc("/alerts/ws", s.hub.ServeWS)
	mux.HandleFunc("/alerts/statistics", s.StatisticsHandler)
	mux.HandleFunc("/alerts", s.AlertsHandler)
	mux.HandleFunc("/alerts/", s.AlertsHandler)
	mux.HandleFunc("/webhooks/test", s.TestWebhookHandler)
	mux.HandleFunc("/monitor/", s.MonitorHandler)
	mux.HandleFunc("/prices/current", s.CurrentPriceHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Publish drops cached alert listings after a trigger changed an alert.
func (s *Server) Publish(ctx context.Context, _ events.TriggerEvent) error {
	s.invalidate(ctx)
	return nil
}

// AlertsHandler dispatches collection and single-alert operations.
// URL patterns: /alerts, /alerts/{id}, /alerts/{id}/toggle, /alerts/{id}/reset
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(pathParts) < 2 || pathParts[1] == "" {
		switch r.Method {
		case http.MethodGet:
			s.BrowseAlertsHandler(w, r)
		case http.MethodPost:
			s.CreateAlertHandler(w, r)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
		}
		return
	}

	id, err := strconv.ParseInt(pathParts[1], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid alert id"})
		return
	}

	if len(pathParts) == 3 {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
			return
		}
		switch pathParts[2] {
		case "toggle":
			s.mutateAlert(w, r, id, "toggled", s.alerts.Toggle)
		case "reset":
			s.mutateAlert(w, r, id, "reset", s.alerts.Reset)
		default:
			writeJSON(w, http.StatusNotFound, Response{Message: "Not found"})
		}
		return
	}
	if len(pathParts) > 3 {
		writeJSON(w, http.StatusNotFound, Response{Message: "Not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.GetAlertHandler(w, r, id)
	case http.MethodDelete:
		s.DeleteAlertHandler(w, r, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
	}
}

// BrowseAlertsHandler lists alerts, optionally filtered by user_identifier
// and active_only.
func (s *Server) BrowseAlertsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "BrowseAlertsHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	cacheKey := generateCacheKey(r, browsePrefix)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey, browseEndpoint)
		if err == nil && cached != "" {
			s.logger.Debug("Cache hit for /alerts",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(cached))
			return
		}
	}

	q := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(q.Get("active_only"))

	alerts, err := s.alerts.List(ctx, q.Get("user_identifier"), activeOnly)
	if err != nil {
		s.fail(w, traceID, "Failed to fetch alerts", err)
		return
	}

	respBytes, err := json.Marshal(Response{
		Message: "Alerts retrieved successfully",
		Data:    alerts,
	})
	if err != nil {
		s.fail(w, traceID, "Failed to encode JSON response", err)
		return
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, cacheKey, string(respBytes), s.cacheTTL); cacheErr != nil {
			s.logger.Warn("Failed to store response in cache",
				zap.String("trace_id", traceID),
				zap.String("cache_key", cacheKey),
				zap.Error(cacheErr),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)
}

// CreateAlertHandler handles creating a new alert
func (s *Server) CreateAlertHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "CreateAlertHandler")
	defer span.End()

	traceID := span.SpanContext().TraceID().String()

	var req models.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Info("Failed to parse request body",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
		return
	}

	alert, err := s.alerts.Create(ctx, req)
	if err != nil {
		s.fail(w, traceID, "Failed to create alert", err)
		return
	}

	s.invalidate(ctx)
	writeJSON(w, http.StatusCreated, Response{
		Message: "Alert created successfully",
		Data:    alert,
	})
}

// GetAlertHandler retrieves a specific alert by ID
func (s *Server) GetAlertHandler(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "GetAlertHandler")
	defer span.End()

	alert, err := s.alerts.Get(ctx, id)
	if err != nil {
		s.fail(w, span.SpanContext().TraceID().String(), "Failed to fetch alert", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Message: "Alert retrieved successfully",
		Data:    alert,
	})
}

// DeleteAlertHandler deletes an alert
func (s *Server) DeleteAlertHandler(w http.ResponseWriter, r *http.Request, id int64) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "DeleteAlertHandler")
	defer span.End()

	ok, err := s.alerts.Delete(ctx, id)
	if err != nil {
		s.fail(w, span.SpanContext().TraceID().String(), "Failed to delete alert", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Message: "Alert not found"})
		return
	}

	s.invalidate(ctx)
	writeJSON(w, http.StatusOK, Response{Message: "Alert deleted successfully"})
}

func (s *Server) mutateAlert(w http.ResponseWriter, r *http.Request, id int64, verb string, op func(context.Context, int64) (*models.Alert, error)) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(r.Context(), "MutateAlertHandler")
	defer span.End()

	alert, err := op(ctx, id)
	if err != nil {
		s.fail(w, span.SpanContext().TraceID().String(), "Failed to update alert", err)
		return
	}

	s.invalidate(ctx)
	writeJSON(w, http.StatusOK, Response{
		Message: fmt.Sprintf("Alert %s successfully", verb),
		Data:    alert,
	})
}

// StatisticsHandler returns alert counts, optionally for one user.
func (s *Server) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
		return
	}
	stats, err := s.alerts.Statistics(r.Context(), r.URL.Query().Get("user_identifier"))
	if err != nil {
		s.fail(w, "", "Failed to load statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Statistics retrieved successfully", Data: stats})
}

type testWebhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// TestWebhookHandler sends a test notification to the posted webhook URL.
func (s *Server) TestWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
		return
	}
	var req testWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
		return
	}
	if err := s.alerts.TestWebhook(r.Context(), req.WebhookURL); err != nil {
		s.fail(w, "", "Webhook test failed", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "Test notification delivered"})
}

type intervalRequest struct {
	Seconds float64 `json:"seconds"`
}

// MonitorHandler controls the monitor loop.
// URL patterns: /monitor/status, /monitor/{start,stop,restart,check}, /monitor/interval
func (s *Server) MonitorHandler(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/monitor/")

	if action == "status" {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, Response{Message: "Monitor status", Data: s.monitor.Status(r.Context())})
		return
	}

	if r.Method != http.MethodPost && !(action == "interval" && r.Method == http.MethodPut) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
		return
	}

	var err error
	switch action {
	case "start":
		err = s.monitor.Start()
	case "stop":
		err = s.monitor.Stop()
	case "restart":
		err = s.monitor.Restart()
	case "check":
		stats, cerr := s.monitor.ForceCheck(r.Context())
		if cerr != nil {
			s.fail(w, "", "Alert check failed", cerr)
			return
		}
		s.invalidate(r.Context())
		writeJSON(w, http.StatusOK, Response{Message: "Alert check completed", Data: stats})
		return
	case "interval":
		var req intervalRequest
		if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil || req.Seconds <= 0 {
			writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
			return
		}
		err = s.monitor.SetInterval(time.Duration(req.Seconds * float64(time.Second)))
	default:
		writeJSON(w, http.StatusNotFound, Response{Message: "Not found"})
		return
	}

	if err != nil {
		s.fail(w, "", "Monitor "+action+" failed", err)
		return
	}
	s.logger.Info("Monitor control applied", zap.String("action", action), zap.String("instance", s.instance))
	writeJSON(w, http.StatusOK, Response{Message: "Monitor " + action + " applied", Data: s.monitor.Status(r.Context())})
}

// CurrentPriceHandler resolves the current ratio for ?base=&quote=.
func (s *Server) CurrentPriceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Message: "Method not allowed"})
		return
	}
	base := models.NormalizeCurrency(r.URL.Query().Get("base"))
	quote := models.NormalizeCurrency(r.URL.Query().Get("quote"))
	if base == "" || quote == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Missing required parameters: base, quote"})
		return
	}

	q, err := s.prices.Resolve(r.Context(), base, quote)
	if err != nil {
		s.fail(w, "", "Price unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Message: fmt.Sprintf("%s/%s", base, quote),
		Data:    q,
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Message: "ok", Data: map[string]interface{}{
		"instance":       s.instance,
		"stream_clients": s.hub.Clients(),
	}})
}

func (s *Server) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateByPrefix(ctx, browsePrefix, browseEndpoint)
	}
}

// fail maps err to a status code and writes it. Server-side failures are
// logged with the trace id.
func (s *Server) fail(w http.ResponseWriter, traceID, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(message, zap.String("trace_id", traceID), zap.Error(err))
	}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, Response{Message: verr.Error(), Data: map[string]string{"field": verr.Field}})
		return
	}
	writeJSON(w, status, Response{Message: fmt.Sprintf("%s: %v", message, err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, monitor.ErrIntervalFloor):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyRunning), errors.Is(err, monitor.ErrNotRunning), errors.Is(err, monitor.ErrStopping):
		return http.StatusConflict
	case errors.Is(err, price.ErrPriceUnavailable), errors.Is(err, notify.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, monitor.ErrStopTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func generateCacheKey(r *http.Request, prefix string) string {
	queryParams := r.URL.Query()
	var keys []string
	for k := range queryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var queryString []string
	for _, k := range keys {
		queryString = append(queryString, fmt.Sprintf("%s=%s", k, strings.Join(queryParams[k], ",")))
	}
	joinedParams := strings.Join(queryString, "&")

	hash := sha256.Sum256([]byte(joinedParams))
	return prefix + hex.EncodeToString(hash[:8])
}
