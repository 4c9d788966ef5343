package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	firmwareInfoLen = 47
	serialOffset    = 1 + firmwareInfoLen*2 + 4 + 9
	serialLen       = 12
	btAddressLen    = 6
)

// FirmwareInfo is one firmware slot of a version response.
type FirmwareInfo struct {
	Timestamp  uint32
	Version    string
	Commit     string
	IsRecovery bool
	Platform   uint8
}

// WatchVersion is the decoded reply to a version request.
type WatchVersion struct {
	Running   FirmwareInfo
	Recovery  FirmwareInfo
	Board     string
	Serial    string
	BTAddress string
}

// ParseVersion decodes a version-endpoint reply. Only the fields up to the
// serial number are required; the Bluetooth address is read when present.
func ParseVersion(payload []byte) (WatchVersion, error) {
	if len(payload) < serialOffset+serialLen {
		return WatchVersion{}, fmt.Errorf("%w: version reply %d bytes", ErrTruncated, len(payload))
	}
	if payload[0] != 0x01 {
		return WatchVersion{}, fmt.Errorf("%w: version reply 0x%02x", ErrUnexpectedCode, payload[0])
	}
	v := WatchVersion{
		Running:  parseFirmware(payload[1 : 1+firmwareInfoLen]),
		Recovery: parseFirmware(payload[1+firmwareInfoLen : 1+2*firmwareInfoLen]),
		Board:    cString(payload[serialOffset-9 : serialOffset]),
		Serial:   cString(payload[serialOffset : serialOffset+serialLen]),
	}
	addrAt := serialOffset + serialLen
	if len(payload) >= addrAt+btAddressLen {
		v.BTAddress = formatBTAddress(payload[addrAt : addrAt+btAddressLen])
	}
	return v, nil
}

func parseFirmware(b []byte) FirmwareInfo {
	return FirmwareInfo{
		Timestamp:  binary.BigEndian.Uint32(b[0:4]),
		Version:    cString(b[4:36]),
		Commit:     cString(b[36:44]),
		IsRecovery: b[44] != 0,
		Platform:   b[45],
	}
}

// ParsePhoneControl decodes the action and cookie the watch sends when the
// user answers or rejects a call.
func ParsePhoneControl(payload []byte) (CallAction, uint32, error) {
	if len(payload) < 5 {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrInvalidCallData, len(payload))
	}
	return CallAction(payload[0]), binary.BigEndian.Uint32(payload[1:5]), nil
}

func ParseMusicControl(payload []byte) (MusicAction, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty music control", ErrTruncated)
	}
	return MusicAction(payload[0]), nil
}

// ParsePong returns the cookie echoed by a ping reply.
func ParsePong(payload []byte) (uint32, error) {
	if len(payload) < 5 {
		return 0, fmt.Errorf("%w: pong %d bytes", ErrTruncated, len(payload))
	}
	if payload[0] != pongCommand {
		return 0, fmt.Errorf("%w: pong 0x%02x", ErrUnexpectedCode, payload[0])
	}
	return binary.BigEndian.Uint32(payload[1:5]), nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// The device sends its address little-endian.
func formatBTAddress(b []byte) string {
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = fmt.Sprintf("%02X", b[len(b)-1-i])
	}
	return strings.Join(parts, ":")
}
