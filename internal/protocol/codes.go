package protocol

// CallAction is the first byte of a phone-control payload.
type CallAction uint8

const (
	CallAnswer   CallAction = 1
	CallHangup   CallAction = 2
	CallGetState CallAction = 3
	CallIncoming CallAction = 4
	CallOutgoing CallAction = 5
	CallMissed   CallAction = 6
	CallRing     CallAction = 7
	CallStart    CallAction = 8
	CallEnd      CallAction = 9
)

func (a CallAction) String() string {
	switch a {
	case CallAnswer:
		return "answer"
	case CallHangup:
		return "hangup"
	case CallGetState:
		return "get_state"
	case CallIncoming:
		return "incoming"
	case CallOutgoing:
		return "outgoing"
	case CallMissed:
		return "missed"
	case CallRing:
		return "ring"
	case CallStart:
		return "start"
	case CallEnd:
		return "end"
	default:
		return "unknown"
	}
}

// MusicAction is sent by the watch on the music-control endpoint.
type MusicAction uint8

const (
	MusicPlayPause     MusicAction = 1
	MusicPause         MusicAction = 2
	MusicPlay          MusicAction = 3
	MusicNext          MusicAction = 4
	MusicPrevious      MusicAction = 5
	MusicVolumeUp      MusicAction = 6
	MusicVolumeDown    MusicAction = 7
	MusicGetNowPlaying MusicAction = 8
)

func (a MusicAction) String() string {
	switch a {
	case MusicPlayPause:
		return "play_pause"
	case MusicPause:
		return "pause"
	case MusicPlay:
		return "play"
	case MusicNext:
		return "next"
	case MusicPrevious:
		return "previous"
	case MusicVolumeUp:
		return "volume_up"
	case MusicVolumeDown:
		return "volume_down"
	case MusicGetNowPlaying:
		return "get_now_playing"
	default:
		return "unknown"
	}
}

const (
	SystemFirmwareAvailable          uint8 = 0
	SystemFirmwareStart              uint8 = 1
	SystemFirmwareComplete           uint8 = 2
	SystemFirmwareFail               uint8 = 3
	SystemFirmwareUpToDate           uint8 = 4
	SystemFirmwareOutOfDate          uint8 = 5
	SystemBluetoothStartDiscoverable uint8 = 6
	SystemBluetoothEndDiscoverable   uint8 = 7
)

const (
	AppManagerGetBankStatus uint8 = 1
	AppManagerRemoveApp     uint8 = 2
	AppManagerRefreshApp    uint8 = 3
	AppManagerGetBankUUIDs  uint8 = 5
)

const (
	AppMessagePush    uint8 = 0x01
	AppMessageRequest uint8 = 0x02
	AppMessageAck     uint8 = 0xFF
	AppMessageNack    uint8 = 0x7F
)

const (
	DataLogOpen    uint8 = 1
	DataLogData    uint8 = 2
	DataLogClose   uint8 = 3
	DataLogTimeout uint8 = 7
)

const (
	LauncherStopped uint8 = 0
	LauncherStarted uint8 = 1
)

// LeadType tags the source of a notification.
type LeadType uint8

const (
	LeadEmail          LeadType = 0
	LeadSMS            LeadType = 1
	LeadFacebook       LeadType = 2
	LeadTwitter        LeadType = 3
	LeadNowPlayingData LeadType = 16
)

func (l LeadType) String() string {
	switch l {
	case LeadEmail:
		return "email"
	case LeadSMS:
		return "sms"
	case LeadFacebook:
		return "facebook"
	case LeadTwitter:
		return "twitter"
	case LeadNowPlayingData:
		return "now_playing"
	default:
		return "unknown"
	}
}

const SessionCapGammaRay uint32 = 0x80000000

const (
	RemoteCapTelephony  uint32 = 16
	RemoteCapSMS        uint32 = 32
	RemoteCapGPS        uint32 = 64
	RemoteCapBTLE       uint32 = 128
	RemoteCapCameraRear uint32 = 256
	RemoteCapAccel      uint32 = 512
	RemoteCapGyro       uint32 = 1024
	RemoteCapCompass    uint32 = 2048
)

const (
	OSUnknown uint32 = 0
	OSIOS     uint32 = 1
	OSAndroid uint32 = 2
	OSOSX     uint32 = 3
	OSLinux   uint32 = 4
	OSWindows uint32 = 5
)

const (
	UploadFirmware     uint8 = 1
	UploadRecovery     uint8 = 2
	UploadSysResources uint8 = 3
	UploadResources    uint8 = 4
	UploadBinary       uint8 = 5
	UploadFile         uint8 = 6
	UploadWorker       uint8 = 7
)

// Put-bytes opcodes, consumed by the upload session on EndpointPutBytes.
const (
	PutBytesInit     uint8 = 1
	PutBytesSend     uint8 = 2
	PutBytesCommit   uint8 = 3
	PutBytesAbort    uint8 = 4
	PutBytesComplete uint8 = 5
)
