package protocol

import (
	"strconv"
	"time"

	"github.com/danmuck/watchlink/internal/protocol/typed"
)

// Text caps the device applies to free-form fields.
const (
	MaxNotificationText = 0xEF
	MaxMusicText        = 30
)

const (
	pingCommand       uint8 = 0x00
	pongCommand       uint8 = 0x01
	timeSetCommand    uint8 = 0x02
	versionRequest    uint8 = 0x00
	phoneVersionReply uint8 = 0x01
	versionMagic      uint8 = 0x02
)

// PhoneCapabilities is what the host advertises in a phone-version reply.
type PhoneCapabilities struct {
	Session uint32
	Remote  uint32
	OS      uint32
	Major   uint8
	Minor   uint8
	Bugfix  uint8
}

// DefaultPhoneCapabilities advertises telephony and SMS support; the
// Android OS identifier unlocks the full notification feature set.
func DefaultPhoneCapabilities() PhoneCapabilities {
	return PhoneCapabilities{
		Session: SessionCapGammaRay,
		Remote:  RemoteCapTelephony | RemoteCapSMS,
		OS:      OSAndroid,
		Major:   2,
	}
}

// NotificationDict lays out a notification as lead, sender, body,
// timestamp (ms since epoch, decimal) and, for email only, subject.
func NotificationDict(lead LeadType, sender, body, subject string, at time.Time) typed.Dict {
	d := typed.Dict{
		typed.Uint8(0, uint8(lead)),
		typed.String(1, typed.Clip(sender, MaxNotificationText)),
		typed.String(2, typed.Clip(body, MaxNotificationText)),
		typed.String(3, strconv.FormatInt(at.UnixMilli(), 10)),
	}
	if lead == LeadEmail {
		d = append(d, typed.String(4, typed.Clip(subject, MaxNotificationText)))
	}
	return d
}

// MusicNowPlayingDict is sent on the music-control endpoint. The device
// expects artist, album, track in that order.
func MusicNowPlayingDict(track, album, artist string) typed.Dict {
	return typed.Dict{
		typed.Uint8(0, uint8(LeadNowPlayingData)),
		typed.String(1, typed.Clip(artist, MaxMusicText)),
		typed.String(2, typed.Clip(album, MaxMusicText)),
		typed.String(3, typed.Clip(track, MaxMusicText)),
	}
}

func PhoneControlDict(action CallAction, cookie uint32, fields ...string) typed.Dict {
	d := typed.Dict{
		typed.Uint8(0, uint8(action)),
		typed.Uint32(1, cookie),
	}
	for i, f := range fields {
		d = append(d, typed.String(uint32(2+i), typed.Clip(f, MaxNotificationText)))
	}
	return d
}

func RingDict(number, name string, incoming bool, cookie uint32) typed.Dict {
	action := CallIncoming
	if !incoming {
		action = CallOutgoing
	}
	return PhoneControlDict(action, cookie, number, name)
}

func PingDict(cookie uint32) typed.Dict {
	return typed.Dict{
		typed.Uint8(0, pingCommand),
		typed.Uint32(1, cookie),
	}
}

// TimeDict sets the device clock. The device has no zone support, so the
// value is wall-clock seconds in t's location.
func TimeDict(t time.Time) typed.Dict {
	_, offset := t.Zone()
	return typed.Dict{
		typed.Uint8(0, timeSetCommand),
		typed.Uint32(1, uint32(t.Unix()+int64(offset))),
	}
}

func VersionRequestDict() typed.Dict {
	return typed.Dict{typed.Uint8(0, versionRequest)}
}

func PhoneVersionDict(caps PhoneCapabilities) typed.Dict {
	return typed.Dict{
		typed.Uint8(0, phoneVersionReply),
		typed.Uint32(1, 0xFFFFFFFF),
		typed.Uint32(2, caps.Session),
		typed.Uint32(3, caps.Remote|caps.OS),
		typed.Uint8(4, versionMagic),
		typed.Uint8(5, caps.Major),
		typed.Uint8(6, caps.Minor),
		typed.Uint8(7, caps.Bugfix),
	}
}
