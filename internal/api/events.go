package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventWriteWait  = 5 * time.Second
	eventPingPeriod = 30 * time.Second
)

// handleEvents streams connector events to a websocket client as JSON
// until either side goes away.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("api.events upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.link.Subscribe()
	defer unsubscribe()

	remote := c.Request.RemoteAddr
	s.log.Info().Msgf("api.events subscriber connected addr=%s", remote)
	defer s.log.Info().Msgf("api.events subscriber gone addr=%s", remote)

	// Inbound messages are ignored; reading surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msgf("api.events read addr=%s", remote)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug().Err(err).Msgf("api.events write addr=%s", remote)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(eventWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
