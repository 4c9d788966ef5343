package protocol

import "strconv"

// Endpoint names one logical conversation multiplexed over the link.
type Endpoint uint16

const (
	EndpointTime          Endpoint = 11
	EndpointVersion       Endpoint = 16
	EndpointPhoneVersion  Endpoint = 17
	EndpointSystemMessage Endpoint = 18
	EndpointMusicControl  Endpoint = 32
	EndpointPhoneControl  Endpoint = 33
	EndpointAppMessage    Endpoint = 48
	EndpointLauncher      Endpoint = 49
	EndpointLogs          Endpoint = 2000
	EndpointPing          Endpoint = 2001
	EndpointLogDump       Endpoint = 2002
	EndpointReset         Endpoint = 2003
	EndpointApp           Endpoint = 2004
	EndpointAppLogs       Endpoint = 2006
	EndpointNotification  Endpoint = 3000
	EndpointResource      Endpoint = 4000
	EndpointAppManager    Endpoint = 6000
	EndpointDataLogging   Endpoint = 6778
	EndpointScreenshot    Endpoint = 8000
	EndpointFileManager   Endpoint = 8181
	EndpointCoreDump      Endpoint = 9000
	EndpointPutBytes      Endpoint = 48879
)

var endpointNames = map[Endpoint]string{
	EndpointTime:          "time",
	EndpointVersion:       "version",
	EndpointPhoneVersion:  "phone_version",
	EndpointSystemMessage: "system_message",
	EndpointMusicControl:  "music_control",
	EndpointPhoneControl:  "phone_control",
	EndpointAppMessage:    "app_message",
	EndpointLauncher:      "launcher",
	EndpointLogs:          "logs",
	EndpointPing:          "ping",
	EndpointLogDump:       "log_dump",
	EndpointReset:         "reset",
	EndpointApp:           "app",
	EndpointAppLogs:       "app_logs",
	EndpointNotification:  "notification",
	EndpointResource:      "resource",
	EndpointAppManager:    "app_manager",
	EndpointDataLogging:   "data_logging",
	EndpointScreenshot:    "screenshot",
	EndpointFileManager:   "file_manager",
	EndpointCoreDump:      "core_dump",
	EndpointPutBytes:      "put_bytes",
}

func (e Endpoint) String() string {
	if name, ok := endpointNames[e]; ok {
		return name
	}
	return strconv.Itoa(int(e))
}

// Known reports whether e is one of the protocol-defined endpoints.
func (e Endpoint) Known() bool {
	_, ok := endpointNames[e]
	return ok
}

// ParseEndpoint accepts either an endpoint name or its decimal value.
func ParseEndpoint(raw string) (Endpoint, bool) {
	for ep, name := range endpointNames {
		if name == raw {
			return ep, true
		}
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, false
	}
	return Endpoint(v), true
}
