// Package httpapi wires the gateway's gin HTTP server: global bearer
// authentication, the reverse-proxy catch-all route driven by
// internal/dispatch, an admin namespace (status, providers, logs, status
// websocket, and manual provider unfreeze), and GET /v1/models.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-gateway/gateway/internal/bodyrw"
	"github.com/cliproxy-gateway/gateway/internal/dispatch"
	"github.com/cliproxy-gateway/gateway/internal/logging"
	"github.com/cliproxy-gateway/gateway/internal/logsink"
	"github.com/cliproxy-gateway/gateway/internal/pool"
	"github.com/cliproxy-gateway/gateway/internal/statushub"
)

const adminPrefix = "/admin"

// Server bundles the gin engine and its collaborators.
type Server struct {
	engine     *gin.Engine
	dispatcher *dispatch.Dispatcher
	pool       *pool.Pool
	sink       logsink.Sink
	hub        *statushub.Hub
	apiKey     func() string
}

// New builds a Server. apiKey is a func rather than a plain string so a
// config reload can rotate the global token without recreating the
// engine (spec §4.9: reload swaps state, not the running server).
func New(d *dispatch.Dispatcher, p *pool.Pool, sink logsink.Sink, hub *statushub.Hub, apiKey func() string) *Server {
	if sink == nil {
		sink = logsink.NopSink{}
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, dispatcher: d, pool: p, sink: sink, hub: hub, apiKey: apiKey}
	s.routes()
	return s
}

// Engine exposes the underlying gin engine, e.g. for http.Server.Handler.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/v1/models", s.AuthMiddleware(), s.handleListModels)

	admin := s.engine.Group(adminPrefix, s.AuthMiddleware())
	admin.GET("/status", s.handleAdminStatus)
	admin.GET("/providers", s.handleAdminProviders)
	admin.POST("/providers/:name/unfreeze", s.handleAdminUnfreeze)
	admin.GET("/logs", s.handleAdminLogs)
	admin.GET("/ws", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })

	s.engine.NoRoute(s.AuthMiddleware(), s.handleNoRoute)
}

// handleNoRoute implements spec §6's "any method/path not in the admin
// namespace is forwarded": a request under /admin/ that doesn't match one
// of the routes registered above is a dead admin path, not proxy traffic,
// and must 404 rather than fall through to the upstream forward.
func (s *Server) handleNoRoute(c *gin.Context) {
	if IsAdminPath(c.Request.URL.Path) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.handleForward(c)
}

// AuthMiddleware implements spec §6's "Authorization: Bearer <api_key> or
// x-api-key: <api_key> authenticates the client against the global
// token", grounded on the teacher's AuthMiddleware/server_internal_test.go
// table-driven shape (header-name fallbacks, single 401 on mismatch).
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if dispatch.Authorized(c.Request.Header, s.apiKey()) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// handleForward is the reverse-proxy catch-all: everything not matched by
// an explicit route above is a candidate for dispatch (spec §6: "Any
// method/path not in the admin namespace is forwarded").
func (s *Server) handleForward(c *gin.Context) {
	start := time.Now()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body"})
		return
	}

	req := &dispatch.Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
		Body:   body,
	}

	out := s.dispatcher.Dispatch(c.Request.Context(), req)
	s.writeOutcome(c, out, start)
}

// tailCaptureBytes bounds how much of a streamed body writeOutcome retains
// to extract a trailing usage frame (spec §4: usage is parsed from
// "buffered and reconstructed-streaming bodies").
const tailCaptureBytes = 64 << 10

func (s *Server) writeOutcome(c *gin.Context, out dispatch.Outcome, start time.Time) {
	for key, values := range out.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}

	entry := logsink.Entry{
		RequestID:  out.RequestID,
		Path:       c.Request.URL.Path,
		Method:     c.Request.Method,
		Model:      out.Model,
		Provider:   out.Provider,
		Status:     statusLabel(out.Kind),
		StatusCode: out.StatusCode,
		Streaming:  out.Streaming,
		Failover:   out.Attempted,
	}

	if out.Streaming && out.Stream != nil {
		defer out.Stream.Close()
		c.Writer.WriteHeader(out.StatusCode)
		tail := logsink.NewTailCapture(tailCaptureBytes)
		_, _ = io.Copy(c.Writer, io.TeeReader(out.Stream, tail))
		if flusher, ok := c.Writer.(http.Flusher); ok {
			flusher.Flush()
		}
		entry.Usage = logsink.ExtractUsageFromStream(tail.Bytes())
	} else {
		c.Writer.WriteHeader(out.StatusCode)
		_, _ = c.Writer.Write(out.Body)
		entry.Usage = logsink.ExtractUsage(out.Body)
	}
	entry.LatencyMS = time.Since(start).Milliseconds()

	if err := s.sink.Record(context.Background(), entry); err != nil {
		log.WithError(err).Warn("httpapi: failed to record log entry")
	}

	fields := logging.RequestFields(out.RequestID, entry.Path, out.Provider, out.StatusCode, entry.LatencyMS, out.Attempted)
	line := log.WithFields(fields)
	if out.Kind == dispatch.KindSuccess {
		line.Info("httpapi: request completed")
	} else {
		line.Warn("httpapi: request failed")
	}
}

func statusLabel(kind dispatch.Kind) string {
	if kind == dispatch.KindSuccess {
		return "success"
	}
	return "error"
}

func (s *Server) handleListModels(c *gin.Context) {
	ids := s.pool.ListModels()
	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		data = append(data, gin.H{"id": id, "name": id})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) handleAdminStatus(c *gin.Context) {
	states := s.pool.States()
	c.JSON(http.StatusOK, gin.H{"provider_count": len(states)})
}

func (s *Server) handleAdminProviders(c *gin.Context) {
	states := s.pool.States()
	out := make([]pool.Snapshot, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func (s *Server) handleAdminUnfreeze(c *gin.Context) {
	name := c.Param("name")
	if !s.pool.Unfreeze(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unfrozen"})
}

// recentLister is implemented by sinks that retain recent entries in
// memory for admin inspection (currently only *logsink.FileSink; the
// Postgres sink and NopSink don't).
type recentLister interface {
	Recent(n int) []logsink.Entry
}

// handleAdminLogs serves the most recent logged request entries, for
// sinks that support it (spec §7's logged fields, surfaced read-only).
func (s *Server) handleAdminLogs(c *gin.Context) {
	lister, ok := s.sink.(recentLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "log sink does not retain history"})
		return
	}
	limit := bodyrw.ParseQueryInt(c.Query("limit"), 100)
	c.JSON(http.StatusOK, gin.H{"entries": lister.Recent(limit)})
}

// IsAdminPath reports whether path falls in the reserved admin namespace,
// used by handleNoRoute to 404 unmatched admin paths instead of forwarding
// them upstream.
func IsAdminPath(path string) bool {
	return path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/")
}

// IsModelsListingPath reports whether path is the unified model-listing
// endpoint (spec §6).
func IsModelsListingPath(path string) bool {
	return path == "/v1/models"
}
