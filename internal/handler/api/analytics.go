package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"ClinicPulse/internal/domain/models"
	domrepo "ClinicPulse/internal/domain/repository"
	"ClinicPulse/internal/domain/service"
	"ClinicPulse/internal/service/metrics"
	"ClinicPulse/internal/service/ratelimit"
	"ClinicPulse/internal/services/analytics"
	"ClinicPulse/internal/usecase"
	"ClinicPulse/pkg/cache"
	xhttp "ClinicPulse/pkg/http"
	applogger "ClinicPulse/pkg/logger"
	xutil "ClinicPulse/pkg/util"

	"github.com/labstack/echo/v4"
)

const cachePrefix = "api"

var riskModelVersions = map[string]string{
	usecase.RiskDelinquency:     analytics.DelinquencyModelVersion,
	usecase.RiskTrialConversion: analytics.ConversionModelVersion,
}

// AnalyticsHandler serves recompute triggers and artifact reads.
type AnalyticsHandler struct {
	logger     *applogger.Logger
	dispatcher usecase.Dispatcher
	store      domrepo.ArtifactStore
	cache      cache.Service
	cacheTTL   time.Duration
	rl         *ratelimit.Limiter
	now        func() time.Time
}

// HandlerOption configures AnalyticsHandler.
type HandlerOption func(*AnalyticsHandler)

// WithResponseCache caches artifact reads for ttl. Recomputes invalidate the tenant's entries.
func WithResponseCache(c cache.Service, ttl time.Duration) HandlerOption {
	return func(h *AnalyticsHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

// WithRateLimiter limits recompute requests per tenant.
func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *AnalyticsHandler) { h.rl = l }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *AnalyticsHandler) { h.now = now }
}

func NewAnalyticsHandler(logger *applogger.Logger, d usecase.Dispatcher, store domrepo.ArtifactStore, opts ...HandlerOption) *AnalyticsHandler {
	metrics.Register()
	h := &AnalyticsHandler{
		logger:     logger,
		dispatcher: d,
		store:      store,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = applogger.Nop()
	}
	return h
}

func (h *AnalyticsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api/v1")
	g.POST("/recompute/:entry", h.Recompute)
	g.GET("/insights", h.Insights)
	g.GET("/anomalies", h.Anomalies)
	g.GET("/risk", h.Risk)
	g.GET("/forecasts", h.Forecasts)
	g.GET("/cohorts", h.Cohorts)
	g.GET("/correlations", h.Correlations)
}

func (h *AnalyticsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Health(ctx); err != nil {
		h.logger.Warn("health check failed", applogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "down"})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *AnalyticsHandler) Recompute(c echo.Context) error {
	const endpoint = "recompute"
	defer h.observe(endpoint, time.Now())

	req := &models.RecomputeTrigger{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.APIErrors.WithLabelValues(endpoint, "ERR_VALIDATION").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.rl != nil {
		key := req.TenantID
		if key == "" {
			key = "*"
		}
		if !h.rl.Allow(key + ":" + req.Entry) {
			metrics.APIRateLimited.WithLabelValues(endpoint).Inc()
			h.logger.Warn("recompute rate limited",
				applogger.String("tenant_id", req.TenantID),
				applogger.String("entry", req.Entry),
			)
			return xhttp.TooManyRequestsResponse(c, []*xhttp.AppError{
				xhttp.NewAppError("ERR_RATE_LIMITED", "tenant_id", "too many recompute requests", http.StatusTooManyRequests),
			})
		}
	}

	resp, err := h.dispatcher.Dispatch(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	h.invalidate(c.Request().Context(), req.TenantID)
	return xhttp.SuccessResponse(c, resp)
}

func (h *AnalyticsHandler) Insights(c echo.Context) error {
	const endpoint = "insights"
	defer h.observe(endpoint, time.Now())

	req := &models.InsightsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	asOf := xutil.ParseTimeDefault(req.AsOf, xutil.StartOfDay(h.now()))

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListInsights(ctx, req.TenantID, asOf)
		if err != nil {
			return nil, err
		}
		return xhttp.NewList(rows), nil
	})
}

func (h *AnalyticsHandler) Anomalies(c echo.Context) error {
	const endpoint = "anomalies"
	defer h.observe(endpoint, time.Now())

	req := &models.AnomaliesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, err := h.filter(req.TenantID, req.Metric, req.From, req.To)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if !req.Flagged {
		f.Limit = req.Limit
	}

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListAnomalies(ctx, f)
		if err != nil {
			return nil, err
		}
		if req.Flagged {
			flagged := rows[:0]
			for _, r := range rows {
				if r.IsAnomaly {
					flagged = append(flagged, r)
				}
			}
			rows = flagged
			if len(rows) > req.Limit {
				rows = rows[:req.Limit]
			}
		}
		return xhttp.NewList(rows), nil
	})
}

func (h *AnalyticsHandler) Risk(c echo.Context) error {
	const endpoint = "risk"
	defer h.observe(endpoint, time.Now())

	req := &models.RiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	version, ok := riskModelVersions[req.Model]
	if !ok {
		return h.fail(c, endpoint, service.ModelNotFound("unknown risk model %q", req.Model))
	}

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListRiskProfiles(ctx, domrepo.ArtifactFilter{TenantID: req.TenantID, Model: version})
		if err != nil {
			return nil, err
		}
		if req.Tier != "" {
			kept := rows[:0]
			for _, p := range rows {
				if p.Tier == req.Tier {
					kept = append(kept, p)
				}
			}
			rows = kept
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
		return xhttp.NewList(rows), nil
	})
}

func (h *AnalyticsHandler) Forecasts(c echo.Context) error {
	const endpoint = "forecasts"
	defer h.observe(endpoint, time.Now())

	req := &models.ForecastsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListForecastPoints(ctx, domrepo.ArtifactFilter{
			TenantID: req.TenantID,
			Metric:   req.Metric,
			Model:    req.Model,
		})
		if err != nil {
			return nil, err
		}
		return xhttp.NewList(rows), nil
	})
}

func (h *AnalyticsHandler) Cohorts(c echo.Context) error {
	const endpoint = "cohorts"
	defer h.observe(endpoint, time.Now())

	req := &models.CohortsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, err := h.filter(req.TenantID, req.Dimension, req.From, req.To)
	if err != nil {
		return h.fail(c, endpoint, err)
	}

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListCohortMetrics(ctx, f)
		if err != nil {
			return nil, err
		}
		return xhttp.NewList(rows), nil
	})
}

func (h *AnalyticsHandler) Correlations(c echo.Context) error {
	const endpoint = "correlations"
	defer h.observe(endpoint, time.Now())

	req := &models.CorrelationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, err := h.filter(req.TenantID, req.Metric, req.From, req.To)
	if err != nil {
		return h.fail(c, endpoint, err)
	}

	return h.cached(c, endpoint, req.TenantID, func(ctx context.Context) (interface{}, error) {
		rows, err := h.store.ListCorrelations(ctx, f)
		if err != nil {
			return nil, err
		}
		if req.Significant {
			kept := rows[:0]
			for _, r := range rows {
				if !r.Degenerate && r.Significance != models.SignificanceNone {
					kept = append(kept, r)
				}
			}
			rows = kept
		}
		return xhttp.NewList(rows), nil
	})
}

// filter builds an artifact filter from query strings. Unparseable bounds are rejected.
func (h *AnalyticsHandler) filter(tenantID, metric, from, to string) (domrepo.ArtifactFilter, error) {
	f := domrepo.ArtifactFilter{TenantID: tenantID, Metric: metric}
	if from != "" {
		t, ok := xutil.ParseTime(from)
		if !ok {
			return f, service.InvalidRange("bad from %q", from)
		}
		f.From = t
	}
	if to != "" {
		t, ok := xutil.ParseTime(to)
		if !ok {
			return f, service.InvalidRange("bad to %q", to)
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, service.InvalidRange("from %s not before to %s", from, to)
	}
	return f, nil
}

// cached serves load's result through the response cache when one is configured.
func (h *AnalyticsHandler) cached(c echo.Context, endpoint, tenantID string, load func(context.Context) (interface{}, error)) error {
	ctx := c.Request().Context()
	key := cache.Key(cachePrefix, tenantID, endpoint, cache.HashKey(c.QueryString()))

	if h.cache != nil {
		var body string
		err := h.cache.Get(ctx, key, &body)
		switch {
		case err == nil:
			c.Response().Header().Set("X-Cache", "HIT")
			return c.JSONBlob(http.StatusOK, []byte(body))
		case !errors.Is(err, cache.ErrCacheMiss):
			h.logger.Warn("response cache get failed", applogger.String("key", key), applogger.Error(err))
		}
	}

	data, err := load(ctx)
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if h.cache == nil {
		return xhttp.SuccessResponse(c, data)
	}

	b, err := json.Marshal(xhttp.APIResponse{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if err := h.cache.Set(ctx, key, string(b), h.cacheTTL); err != nil {
		h.logger.Warn("response cache set failed", applogger.String("key", key), applogger.Error(err))
	}
	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSONBlob(http.StatusOK, b)
}

func (h *AnalyticsHandler) invalidate(ctx context.Context, tenantID string) {
	if h.cache == nil {
		return
	}
	prefix := cachePrefix + ":"
	if tenantID != "" {
		prefix += tenantID + ":"
	}
	if err := h.cache.DeleteByPattern(ctx, cache.BuildPattern(prefix)); err != nil {
		h.logger.Warn("response cache invalidate failed", applogger.String("tenant_id", tenantID), applogger.Error(err))
	}
}

func (h *AnalyticsHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" request failed", applogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" request rejected", applogger.String("code", appErr.Code), applogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *AnalyticsHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// toAppError maps analytics error kinds onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	kind, ok := service.KindOf(err)
	if !ok {
		return xhttp.InternalError("internal error").WithError(err)
	}
	status := http.StatusInternalServerError
	switch kind {
	case service.KindDataInsufficient:
		status = http.StatusUnprocessableEntity
	case service.KindInvalidRange:
		status = http.StatusBadRequest
	case service.KindModelNotFound:
		status = http.StatusNotFound
	}
	return xhttp.NewAppError(string(kind), "", err.Error(), status).WithError(err)
}
