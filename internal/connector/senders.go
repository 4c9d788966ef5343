package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/google/uuid"
)

// SendDict builds d and sends it on ep without waiting for a reply.
func (c *Connector) SendDict(ep protocol.Endpoint, d typed.Dict) error {
	payload, err := d.Build()
	if err != nil {
		return err
	}
	return c.SendMessage(ep, payload, nil)
}

// NextCookie returns a fresh cookie for pings and phone calls.
func (c *Connector) NextCookie() uint32 {
	return c.cookie.Add(1)
}

func (c *Connector) Ping(cookie uint32) error {
	return c.SendDict(protocol.EndpointPing, protocol.PingDict(cookie))
}

// PingWait sends a ping and waits for the pong carrying the same cookie.
func (c *Connector) PingWait(ctx context.Context, cookie uint32) (time.Duration, error) {
	payload, err := protocol.PingDict(cookie).Build()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	_, err = c.Request(ctx, protocol.EndpointPing, payload, func(p []byte) bool {
		got, err := protocol.ParsePong(p)
		return err == nil && got == cookie
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// SyncTime sets the device clock to the host's local wall clock.
func (c *Connector) SyncTime() error {
	return c.SendDict(protocol.EndpointTime, protocol.TimeDict(c.now()))
}

// SendNotification sends a notification with the given lead type. subject
// is only carried for email.
func (c *Connector) SendNotification(lead protocol.LeadType, sender, body, subject string) error {
	return c.SendDict(protocol.EndpointNotification, protocol.NotificationDict(lead, sender, body, subject, c.now()))
}

func (c *Connector) SendSMSNotification(sender, body string) error {
	return c.SendNotification(protocol.LeadSMS, sender, body, "")
}

func (c *Connector) SendEmailNotification(sender, subject, body string) error {
	return c.SendNotification(protocol.LeadEmail, sender, body, subject)
}

func (c *Connector) SendFacebookNotification(sender, body string) error {
	return c.SendNotification(protocol.LeadFacebook, sender, body, "")
}

func (c *Connector) SendTwitterNotification(sender, body string) error {
	return c.SendNotification(protocol.LeadTwitter, sender, body, "")
}

func (c *Connector) SendMusicNowPlaying(track, album, artist string) error {
	return c.SendDict(protocol.EndpointMusicControl, protocol.MusicNowPlayingDict(track, album, artist))
}

// SendPhoneVersion answers a phone-version query with the configured
// capabilities.
func (c *Connector) SendPhoneVersion() error {
	return c.SendDict(protocol.EndpointPhoneVersion, protocol.PhoneVersionDict(c.cfg.Phone))
}

func (c *Connector) PhoneControl(action protocol.CallAction, cookie uint32, fields ...string) error {
	return c.SendDict(protocol.EndpointPhoneControl, protocol.PhoneControlDict(action, cookie, fields...))
}

// Ring announces a call. incoming selects the incoming or outgoing action.
func (c *Connector) Ring(number, name string, incoming bool, cookie uint32) error {
	return c.SendDict(protocol.EndpointPhoneControl, protocol.RingDict(number, name, incoming, cookie))
}

func (c *Connector) StartPhoneCall(cookie uint32) error {
	return c.PhoneControl(protocol.CallStart, cookie)
}

func (c *Connector) EndPhoneCall(cookie uint32) error {
	return c.PhoneControl(protocol.CallEnd, cookie)
}

// SendAppMessage pushes d to the app with the given UUID and waits for the
// device to acknowledge the transaction.
func (c *Connector) SendAppMessage(ctx context.Context, app uuid.UUID, d typed.Dict) error {
	txid := uint8(c.txid.Add(1))
	payload, err := protocol.EncodeAppMessagePush(txid, app, d)
	if err != nil {
		return err
	}
	reply, err := c.Request(ctx, protocol.EndpointAppMessage, payload, func(p []byte) bool {
		msg, err := protocol.ParseAppMessage(p)
		if err != nil || msg.TransactionID != txid {
			return false
		}
		return msg.Command == protocol.AppMessageAck || msg.Command == protocol.AppMessageNack
	})
	if err != nil {
		return err
	}
	if reply[0] == protocol.AppMessageNack {
		return fmt.Errorf("%w: app=%s txid=%d", ErrNacked, app, txid)
	}
	return nil
}

// RemoveApp asks the app manager to uninstall the app with the given UUID.
func (c *Connector) RemoveApp(app uuid.UUID) error {
	return c.SendMessage(protocol.EndpointAppManager, protocol.AppRemoveRequest(app), nil)
}
