package connector

import (
	"github.com/danmuck/watchlink/internal/protocol"
)

// installBuiltins registers the default persistent handlers. Callers may
// replace any of them with SetHandler.
func (c *Connector) installBuiltins() {
	c.router.SetHandler(protocol.EndpointVersion, c.handleVersion)
	c.router.SetHandler(protocol.EndpointPhoneVersion, c.handlePhoneVersion)
	c.router.SetHandler(protocol.EndpointPhoneControl, c.handlePhoneControl)
	c.router.SetHandler(protocol.EndpointMusicControl, c.handleMusicControl)
	c.router.SetHandler(protocol.EndpointPing, c.handlePong)
	c.router.SetHandler(protocol.EndpointAppMessage, c.handleAppMessage)
}

func (c *Connector) handleVersion(payload []byte) bool {
	v, err := protocol.ParseVersion(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("connector.version reply rejected")
		return false
	}
	c.version = v
	c.publishSnapshot()
	c.log.Info().Msgf("connector.version serial=%q firmware=%q board=%q", v.Serial, v.Running.Version, v.Board)
	c.events.Publish(Event{
		Kind:      EventVersion,
		State:     c.state.String(),
		Connected: c.state == Connected,
		Name:      c.peerName,
		Serial:    v.Serial,
		Firmware:  v.Running.Version,
	})
	return true
}

// The device asks for the phone version right after connecting.
func (c *Connector) handlePhoneVersion(payload []byte) bool {
	c.log.Debug().Msgf("connector.phone_version query len=%d", len(payload))
	if err := c.SendPhoneVersion(); err != nil {
		c.log.Warn().Err(err).Msg("connector.phone_version reply not sent")
	}
	return true
}

func (c *Connector) handlePhoneControl(payload []byte) bool {
	action, cookie, err := protocol.ParsePhoneControl(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("connector.phone_control rejected")
		return false
	}
	c.events.Publish(Event{
		Kind:      EventPhoneControl,
		State:     c.state.String(),
		Connected: c.state == Connected,
		Action:    action.String(),
		Cookie:    cookie,
	})
	return true
}

func (c *Connector) handleMusicControl(payload []byte) bool {
	action, err := protocol.ParseMusicControl(payload)
	if err != nil {
		return false
	}
	c.events.Publish(Event{
		Kind:      EventMusicControl,
		State:     c.state.String(),
		Connected: c.state == Connected,
		Action:    action.String(),
	})
	return true
}

func (c *Connector) handlePong(payload []byte) bool {
	cookie, err := protocol.ParsePong(payload)
	if err != nil {
		return false
	}
	c.log.Debug().Msgf("connector.pong cookie=%d", cookie)
	return true
}

// handleAppMessage acknowledges pushes from watch apps. Replies to our own
// pushes are claimed by SendAppMessage before they get here.
func (c *Connector) handleAppMessage(payload []byte) bool {
	msg, err := protocol.ParseAppMessage(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("connector.app_message rejected")
		if len(payload) >= 2 && payload[0] == protocol.AppMessagePush {
			c.enqueuePayload(protocol.EndpointAppMessage, protocol.EncodeAppMessageNack(payload[1]))
		}
		return false
	}
	if msg.Command != protocol.AppMessagePush {
		c.log.Debug().Msgf("connector.app_message unmatched reply command=0x%02x txid=%d", msg.Command, msg.TransactionID)
		return true
	}
	c.enqueuePayload(protocol.EndpointAppMessage, protocol.EncodeAppMessageAck(msg.TransactionID))
	c.events.Publish(Event{
		Kind:      EventAppMessage,
		State:     c.state.String(),
		Connected: c.state == Connected,
		App:       msg.UUID.String(),
		Items:     len(msg.Dict),
	})
	return true
}
