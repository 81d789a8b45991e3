// Package api provides the HTTP API for the device scanner service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/metrics"
	"github.com/caihongdao/antbox-monitor/internal/scanner"
	"github.com/caihongdao/antbox-monitor/internal/store"
	"github.com/caihongdao/antbox-monitor/internal/stream"
)

const serviceName = "antbox-scanner"

// statusClientClosedRequest is reported when the caller went away mid-probe.
const statusClientClosedRequest = 499

// Archive serves sessions that are no longer held in memory.
type Archive interface {
	Results(ctx context.Context, id uint64) ([]scanner.ProbeOutcome, error)
	Summary(ctx context.Context, id uint64) (scanner.Summary, error)
}

// Server represents the HTTP API server.
type Server struct {
	config  config.ServerConfig
	scanner *scanner.Scanner
	hub     *stream.Hub
	metrics *metrics.Metrics
	archive Archive
	logger  *zap.SugaredLogger
	router  *gin.Engine
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithHub serves live events on /api/v1/scan/events.
func WithHub(h *stream.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithMetrics serves /metrics and records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithArchive answers status and results queries for past sessions.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// New creates a new API server.
func New(cfg config.ServerConfig, scan *scanner.Scanner, logger *zap.SugaredLogger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  cfg,
		scanner: scan,
		logger:  logger,
		router:  gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/scan/start", s.startScanHandler)
		v1.POST("/scan/stop", s.stopScanHandler)
		v1.GET("/scan/status", s.scanStatusHandler)
		v1.GET("/scan/results", s.scanResultsHandler)
		v1.POST("/scan/target", s.scanTargetHandler)

		if s.hub != nil {
			v1.GET("/scan/events", func(c *gin.Context) {
				s.hub.ServeWS(c.Writer, c.Request)
			})
		}
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if s.metrics != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
		}

		s.logger.Debugw("Request completed",
			"path", path,
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"duration", time.Since(start),
		)
	}
}

// statusFor maps scanner errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanner.ErrInvalidAddressFormat),
		errors.Is(err, scanner.ErrInvalidScanType),
		errors.Is(err, scanner.ErrRangeTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, scanner.ErrScanAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, scanner.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanner.ErrProbeAborted):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		s.logger.Errorw("Request failed", "path", c.Request.URL.Path, "error", err)
	case statusClientClosedRequest:
		s.logger.Debugw("Request aborted by client", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

func (s *Server) readyHandler(c *gin.Context) {
	body := gin.H{
		"status":   "ready",
		"service":  serviceName,
		"scanning": s.scanner.IsRunning(),
	}
	if s.hub != nil {
		body["stream_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) startScanHandler(c *gin.Context) {
	var req StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "start_ip and end_ip are required"})
		return
	}

	id, err := s.scanner.Start(scanner.ScanRequest{
		StartAddress: req.StartIP,
		EndAddress:   req.EndIP,
		Port:         req.Port,
		Timeout:      time.Duration(req.Timeout) * time.Millisecond,
		Concurrency:  req.MaxConcurrent,
		ScanType:     scanner.ScanType(req.ScanType),
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := StartScanResponse{
		Status:  string(scanner.SessionScanning),
		Message: "Device scan started",
		ScanID:  id,
	}
	if snap, err := s.scanner.Progress(id); err == nil {
		resp.Total = snap.Total
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) stopScanHandler(c *gin.Context) {
	var req StopScanRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)

	if req.ScanID != 0 {
		if err := s.scanner.Stop(req.ScanID); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": scanner.SessionStopped, "scan_id": req.ScanID})
		return
	}

	id, ok := s.scanner.StopCurrent()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "idle", "message": "No scan running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": scanner.SessionStopped, "scan_id": id})
}

// sessionID resolves the scan_id query parameter, defaulting to the latest session.
func (s *Server) sessionID(c *gin.Context) (uint64, bool) {
	if raw := c.Query("scan_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid scan_id"})
			return 0, false
		}
		return id, true
	}

	id, ok := s.scanner.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "idle", "running": false})
		return 0, false
	}
	return id, true
}

func (s *Server) scanStatusHandler(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	snap, err := s.scanner.Progress(id)
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}

	if errors.Is(err, scanner.ErrSessionNotFound) && s.archive != nil {
		summary, aerr := s.archive.Summary(c.Request.Context(), id)
		if aerr == nil {
			c.JSON(http.StatusOK, summary)
			return
		}
		if !errors.Is(aerr, store.ErrNotFound) {
			s.logger.Warnw("Archive lookup failed", "scan_id", id, "error", aerr)
		}
	}
	s.fail(c, err)
}

func (s *Server) scanResultsHandler(c *gin.Context) {
	id, ok := s.sessionID(c)
	if !ok {
		return
	}

	var (
		status  scanner.SessionStatus
		devices []scanner.ProbeOutcome
	)

	results, err := s.scanner.Results(id)
	switch {
	case err == nil:
		devices = results
		if snap, perr := s.scanner.Progress(id); perr == nil {
			status = snap.Status
		}
	case errors.Is(err, scanner.ErrSessionNotFound) && s.archive != nil:
		summary, aerr := s.archive.Summary(c.Request.Context(), id)
		if aerr != nil {
			s.fail(c, err)
			return
		}
		devices, aerr = s.archive.Results(c.Request.Context(), id)
		if aerr != nil {
			s.fail(c, aerr)
			return
		}
		status = summary.Status
	default:
		s.fail(c, err)
		return
	}

	if filter := c.Query("device_type"); filter != "" {
		kept := devices[:0:0]
		for _, d := range devices {
			if string(d.Category) == filter {
				kept = append(kept, d)
			}
		}
		devices = kept
	}
	if devices == nil {
		devices = []scanner.ProbeOutcome{}
	}

	c.JSON(http.StatusOK, ResultsResponse{
		ScanID:  id,
		Status:  status,
		Count:   len(devices),
		Devices: devices,
	})
}

func (s *Server) scanTargetHandler(c *gin.Context) {
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "target IP address required"})
		return
	}

	outcome, err := s.scanner.ProbeTarget(c.Request.Context(), req.Target, req.Port, scanner.ScanType(req.ScanType))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, TargetResponse{
		Target: req.Target,
		Found:  outcome != nil,
		Device: outcome,
	})
}
