// Package web serves the scoreboard and the update streams.
package web

import (
	"context"
	_ "embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storyscan/internal/config"
	"storyscan/internal/scanner"
	"storyscan/internal/store"
)

//go:embed scoreboard.html
var scoreboardHTML string

// Server wires the HTTP surface: scoreboard, NDJSON updates, websocket
// mirror and the probe endpoints.
type Server struct {
	cfg *config.Config
	st  store.Store
	sc  *scanner.Scanner
	hub *Hub
}

func New(cfg *config.Config, st store.Store, sc *scanner.Scanner) *Server {
	return &Server{cfg: cfg, st: st, sc: sc, hub: NewHub()}
}

// Run starts the hub pump. It returns when ctx ends.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx, s.st)
}

func (s *Server) Router() *gin.Engine {
	var router *gin.Engine
	if s.cfg.RequestLog {
		router = gin.Default()
	} else {
		router = gin.New()
		router.Use(gin.Recovery())
	}
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})
	router.SetHTMLTemplate(template.Must(template.New("scoreboard").Parse(scoreboardHTML)))

	router.GET("/", s.scoreboard)
	router.GET("/updates", s.updates)
	router.GET("/ws", WSHandler(s.hub))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": s.cfg.DBFile})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := s.hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := s.st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not_ready",
				"db_error":   err.Error(),
				"ws_clients": stats.WSClients,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ready",
			"db":         "ok",
			"ws_clients": stats.WSClients,
		})
	})

	return router
}

// scoreboard reports scanner state, as JSON by default and as a small HTML
// page when the client asks for one.
func (s *Server) scoreboard(c *gin.Context) {
	status := s.sc.Status()
	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.HTML(http.StatusOK, "scoreboard", status)
		return
	}
	c.JSON(http.StatusOK, status)
}
