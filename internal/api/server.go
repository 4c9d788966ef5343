package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/watchlink/internal/connector"
	"github.com/danmuck/watchlink/internal/observability"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Version is reported by /health.
const Version = "0.1.0"

// Link is the connector surface served over HTTP.
type Link interface {
	Connect(name, address string) error
	Disconnect() error
	Reconnect() error
	Status() connector.Status
	HandlerEndpoints(ctx context.Context) ([]protocol.Endpoint, error)
	Subscribe() (<-chan connector.Event, func())

	NextCookie() uint32
	PingWait(ctx context.Context, cookie uint32) (time.Duration, error)
	SyncTime() error
	SendNotification(lead protocol.LeadType, sender, body, subject string) error
	SendMusicNowPlaying(track, album, artist string) error
	Ring(number, name string, incoming bool, cookie uint32) error
	StartPhoneCall(cookie uint32) error
	EndPhoneCall(cookie uint32) error
	SendAppMessage(ctx context.Context, app uuid.UUID, d typed.Dict) error
	RemoveApp(app uuid.UUID) error
}

var _ Link = (*connector.Connector)(nil)

type Config struct {
	Addr           string
	CorsOrigins    []string
	RequestTimeout time.Duration
}

type Server struct {
	link    Link
	cfg     Config
	log     zerolog.Logger
	router  *gin.Engine
	started time.Time

	upgrader websocket.Upgrader
}

func New(link Link, cfg Config, log zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	origins := normalizeOrigins(cfg.CorsOrigins)

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(observability.TraceMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		link:    link,
		cfg:     cfg,
		log:     log,
		router:  r,
		started: time.Now(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin(origins)}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx ends, then shuts the
// listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Msgf("api.serve addr=%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", s.handleStatus)
	r.GET("/events", s.handleEvents)

	r.POST("/connect", s.handleConnect)
	r.POST("/disconnect", s.handleDisconnect)
	r.POST("/reconnect", s.handleReconnect)

	r.POST("/ping", s.handlePing)
	r.POST("/time", s.handleTime)
	r.POST("/notifications/:kind", s.handleNotification)
	r.POST("/music/now-playing", s.handleNowPlaying)

	phone := r.Group("/phone")
	phone.POST("/ring", s.handleRing)
	phone.POST("/start", s.handleCallStart)
	phone.POST("/end", s.handleCallEnd)

	r.POST("/apps/:uuid/message", s.handleAppMessage)
	r.DELETE("/apps/:uuid", s.handleRemoveApp)
}

func (s *Server) checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
