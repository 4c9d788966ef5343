package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/danmuck/watchlink/internal/connector"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var ErrBadRequest = errors.New("bad request")

type connectRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type pingRequest struct {
	Cookie *uint32 `json:"cookie"`
}

type notificationRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type nowPlayingRequest struct {
	Track  string `json:"track"`
	Album  string `json:"album"`
	Artist string `json:"artist"`
}

type callRequest struct {
	Number   string  `json:"number"`
	Name     string  `json:"name"`
	Incoming *bool   `json:"incoming"`
	Cookie   *uint32 `json:"cookie"`
}

type appMessageRequest struct {
	Items []DictItem `json:"items"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	connector.Status
	Handlers []string `json:"handlers"`
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	eps, err := s.link.HandlerEndpoints(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	handlers := make([]string, 0, len(eps))
	for _, ep := range eps {
		handlers = append(handlers, ep.String())
	}
	c.JSON(http.StatusOK, StatusResponse{Status: s.link.Status(), Handlers: handlers})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if !bindOptional(c, &req) {
		return
	}
	if err := s.link.Connect(req.Name, req.Address); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "connecting", "name": req.Name, "address": req.Address})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.link.Disconnect(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting"})
}

func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.link.Reconnect(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

func (s *Server) handlePing(c *gin.Context) {
	var req pingRequest
	if !bindOptional(c, &req) {
		return
	}
	cookie := s.link.NextCookie()
	if req.Cookie != nil {
		cookie = *req.Cookie
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	rtt, err := s.link.PingWait(ctx, cookie)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookie": cookie, "rtt": rtt.String(), "rtt_ms": rtt.Milliseconds()})
}

func (s *Server) handleTime(c *gin.Context) {
	if err := s.link.SyncTime(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleNotification(c *gin.Context) {
	lead, ok := leadByName(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown notification kind " + c.Param("kind")})
		return
	}
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	if err := s.link.SendNotification(lead, req.Sender, req.Body, req.Subject); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "kind": lead.String()})
}

func (s *Server) handleNowPlaying(c *gin.Context) {
	var req nowPlayingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	if err := s.link.SendMusicNowPlaying(req.Track, req.Album, req.Artist); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleRing(c *gin.Context) {
	var req callRequest
	if !bindOptional(c, &req) {
		return
	}
	incoming := true
	if req.Incoming != nil {
		incoming = *req.Incoming
	}
	cookie := s.cookie(req.Cookie)
	if err := s.link.Ring(req.Number, req.Name, incoming, cookie); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "cookie": cookie})
}

func (s *Server) handleCallStart(c *gin.Context) {
	var req callRequest
	if !bindOptional(c, &req) {
		return
	}
	cookie := s.cookie(req.Cookie)
	if err := s.link.StartPhoneCall(cookie); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "cookie": cookie})
}

func (s *Server) handleCallEnd(c *gin.Context) {
	var req callRequest
	if !bindOptional(c, &req) {
		return
	}
	cookie := s.cookie(req.Cookie)
	if err := s.link.EndPhoneCall(cookie); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "cookie": cookie})
}

func (s *Server) handleAppMessage(c *gin.Context) {
	app, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	var req appMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	d, err := DecodeDict(req.Items)
	if err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	if err := s.link.SendAppMessage(ctx, app, d); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acked", "app": app.String()})
}

func (s *Server) handleRemoveApp(c *gin.Context) {
	app, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		s.fail(c, errors.Join(ErrBadRequest, err))
		return
	}
	if err := s.link.RemoveApp(app); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "app": app.String()})
}

func (s *Server) cookie(v *uint32) uint32 {
	if v != nil {
		return *v
	}
	return s.link.NextCookie()
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, typed.ErrItemTooLong),
		errors.Is(err, typed.ErrInvalidWidth),
		errors.Is(err, typed.ErrTooManyItems),
		errors.Is(err, typed.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, connector.ErrNotConnected),
		errors.Is(err, connector.ErrNoIdentity):
		return http.StatusConflict
	case errors.Is(err, connector.ErrNacked):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, connector.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func leadByName(kind string) (protocol.LeadType, bool) {
	switch kind {
	case "sms":
		return protocol.LeadSMS, true
	case "email":
		return protocol.LeadEmail, true
	case "facebook":
		return protocol.LeadFacebook, true
	case "twitter":
		return protocol.LeadTwitter, true
	default:
		return 0, false
	}
}
