package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/benjaminbreen/premodern-concordance/internal/db"
	"github.com/benjaminbreen/premodern-concordance/internal/entity"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Store is the read model the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	QueryConcordanceStats(ctx context.Context) (*db.ConcordanceStats, error)
	QueryClusters(ctx context.Context, filter db.ClusterFilter) (int64, []db.ClusterSummary, error)
	QueryCluster(ctx context.Context, stableKey string) (*entity.Cluster, error)
	QueryReviewItems(ctx context.Context, kind string, limit int) ([]review.Item, error)
}

type Options struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

type Server struct {
	store  Store
	logger zerolog.Logger
	opts   Options
	now    func() time.Time
}

func NewServer(store Store, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		store:  store,
		logger: logger,
		opts: Options{
			Host:               host,
			Port:               port,
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			ShutdownTimeout:    shutdownTimeout,
			CORSAllowedOrigins: origins,
		},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/clusters", s.handleClusters)
	api.GET("/clusters/:stable_key", s.handleClusterDetail)
	api.GET("/review", s.handleReview)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("concordance api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("concordance api stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return internalError(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "concordance",
		"time":    s.now(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.QueryConcordanceStats(c.Request().Context())
	if err != nil {
		if errors.Is(err, db.ErrNoCurrentRun) {
			return failNotFound(c, "No concordance has been published")
		}
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleClusters(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}

	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	minDocuments, err := parsePositiveInt(c.QueryParam("min_documents"), 1, 1, 1_000)
	if err != nil {
		return failValidation(c, map[string]string{"min_documents": err.Error()})
	}

	category := ""
	if raw := strings.TrimSpace(c.QueryParam("category")); raw != "" {
		parsed, err := entity.ParseCategory(raw)
		if err != nil {
			return failValidation(c, map[string]string{"category": err.Error()})
		}
		category = string(parsed)
	}

	filter := db.ClusterFilter{
		Category:     category,
		Query:        strings.TrimSpace(c.QueryParam("q")),
		MinDocuments: minDocuments,
		Page:         page,
		PageSize:     pageSize,
	}

	total, rows, err := s.store.QueryClusters(c.Request().Context(), filter)
	if err != nil {
		if errors.Is(err, db.ErrNoCurrentRun) {
			return failNotFound(c, "No concordance has been published")
		}
		s.logger.Error().Err(err).Msg("query clusters failed")
		return internalError(c, "Failed to load clusters")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": rows,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"category":      filter.Category,
			"q":             filter.Query,
			"min_documents": filter.MinDocuments,
		},
	})
}

func (s *Server) handleClusterDetail(c echo.Context) error {
	stableKey := strings.TrimSpace(c.Param("stable_key"))
	if stableKey == "" {
		return failValidation(c, map[string]string{"stable_key": "is required"})
	}

	cluster, err := s.store.QueryCluster(c.Request().Context(), stableKey)
	if err != nil {
		if errors.Is(err, db.ErrClusterNotFound) || errors.Is(err, db.ErrNoCurrentRun) {
			return failNotFound(c, "Cluster not found")
		}
		s.logger.Error().Err(err).Str("stable_key", stableKey).Msg("query cluster detail failed")
		return internalError(c, "Failed to load cluster")
	}

	return success(c, cluster)
}

func (s *Server) handleReview(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 100, 1, 1_000)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	kind := strings.TrimSpace(strings.ToLower(c.QueryParam("kind")))
	switch kind {
	case "", review.KindSuspiciousCluster, review.KindDeferredMerge:
	default:
		return failValidation(c, map[string]string{"kind": "must be suspicious_cluster or deferred_merge"})
	}

	items, err := s.store.QueryReviewItems(c.Request().Context(), kind, limit)
	if err != nil {
		if errors.Is(err, db.ErrNoCurrentRun) {
			return failNotFound(c, "No concordance has been published")
		}
		s.logger.Error().Err(err).Str("kind", kind).Msg("query review items failed")
		return internalError(c, "Failed to load review queue")
	}

	return success(c, map[string]any{
		"items": items,
		"kind":  kind,
		"limit": limit,
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
