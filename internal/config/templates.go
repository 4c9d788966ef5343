package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the annotated default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template is a complete watchlink.toml with default values.
const Template = `[device]
# Leave address empty to discover by name, or by name_prefix when name is
# empty too.
name = ""
address = ""
# rfcomm or tcp. Empty picks rfcomm for bluetooth addresses.
network = ""
channel = 1
autoconnect = true

[discovery]
scanners = ["bluez"]
name_prefix = "Pebble"
timeout = "15s"
adapter = "hci0"
mdns_service = "_pebble._tcp"

# [[discovery.static]]
# name = "Pebble Emulator"
# address = "127.0.0.1:47527"
# network = "tcp"

[reconnect]
initial_delay = "1s"
multiplier = 2.0
max_delay = "1m"
jitter = true

[protocol]
connect_timeout = "10s"
max_payload_bytes = 65535
read_buffer = 4096
request_version = true
sync_time = true

[phone]
os = "android"
telephony = true
sms = true

[api]
enabled = true
addr = "127.0.0.1:7341"
cors_origins = []

[log]
level = "info"
json = false
no_color = false
timestamp = true
`
