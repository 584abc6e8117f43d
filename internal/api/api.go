// Package api exposes the station's control surface over HTTP: status and
// configuration reads, the enabled switch, and WebSocket plugin adoption.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lakeshorelabs/groundstation/internal/config"
	"github.com/lakeshorelabs/groundstation/internal/logger"
	"github.com/lakeshorelabs/groundstation/internal/plugins"
)

// LinkStatus describes the acquisition side for the status endpoint.
type LinkStatus interface {
	LinkUp() bool
	Description() string
}

// Server wraps the gin engine and the HTTP listener.
type Server struct {
	cfg       *config.Config
	broadcast *plugins.Server
	link      LinkStatus
	engine    *gin.Engine
	http      *http.Server
	upgrader  websocket.Upgrader
	started   time.Time
}

func NewServer(cfg *config.Config, broadcast *plugins.Server, link LinkStatus) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		broadcast: broadcast,
		link:      link,
		engine:    gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}

	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/api/status", s.getStatus)
	s.engine.GET("/api/config", s.getConfig)
	s.engine.POST("/api/enabled", s.setEnabled)

	// WebSocket plugins enter here and are handed to the broadcast server.
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the routing tree for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves the API until Shutdown closes the listener.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.API.Address,
		Handler: s.engine,
	}

	logger.Info("Control API listening", "address", s.cfg.API.Address)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"listening":      s.broadcast.Listening(),
		"address":        s.broadcast.Addr(),
		"enabled":        s.broadcast.Enabled(),
		"connections":    s.broadcast.ConnectionCount(),
		"pending_frames": s.broadcast.PendingFrames(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.link != nil {
		status["device_link"] = gin.H{
			"up":   s.link.LinkUp(),
			"link": s.link.Description(),
		}
	}
	c.JSON(http.StatusOK, status)
}

// getConfig reports the effective configuration. Credentials never leave
// the process.
func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"plugins": gin.H{
			"port":             s.cfg.Plugins.Port,
			"enabled_on_start": s.cfg.Plugins.Enabled,
			"max_clients":      s.cfg.Plugins.MaxClients,
			"tick_interval_ms": s.cfg.Plugins.TickIntervalMS,
		},
		"device": gin.H{
			"driver":  s.cfg.Device.Driver,
			"address": s.cfg.Device.Address,
		},
		"recorder": gin.H{
			"enabled": s.cfg.Recorder.Enabled,
			"driver":  s.cfg.Recorder.Driver,
		},
		"relay": gin.H{
			"enabled":        s.cfg.Relay.Enabled,
			"address":        s.cfg.Relay.Address,
			"channel_prefix": s.cfg.Relay.ChannelPrefix,
		},
	})
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) setEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `body must be {"enabled": true|false}`})
		return
	}

	s.broadcast.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": s.broadcast.Enabled()})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warning("WebSocket upgrade failed", "remote_addr", c.Request.RemoteAddr, "error", err)
		return
	}
	s.broadcast.AdoptWebSocket(conn)
}
