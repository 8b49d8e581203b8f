package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gazectl":
		return gazectlTemplate, nil
	case "gazesim":
		return gazesimTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gazectlTemplate = `address = "127.0.0.1:4242"
output = "session"
duration = ""
connect_timeout = "5s"
read_timeout = "250ms"
write_timeout = "2s"
stop_timeout = "5s"
read_buffer_size = 4096
max_tail_bytes = 65536
skip_calibration = false
enable = [
  "ENABLE_SEND_DATA",
  "ENABLE_SEND_COUNTER",
  "ENABLE_SEND_EYE_LEFT",
  "ENABLE_SEND_EYE_RIGHT",
  "ENABLE_SEND_POG_LEFT",
  "ENABLE_SEND_POG_RIGHT",
  "ENABLE_SEND_POG_BEST",
  "ENABLE_SEND_PUPIL_LEFT",
  "ENABLE_SEND_PUPIL_RIGHT",
  "ENABLE_SEND_POG_FIX",
  "ENABLE_SEND_TIME",
]

[control]
listen = ""
cors_origins = ["http://localhost:3000"]
# bearer token required on POST routes; empty disables the check
token = ""

[mirror]
enabled = false
addr = "127.0.0.1:6379"
password = ""
db = 0
channel = "gazectl:records"
list_key = "gazectl:records:recent"
list_cap = 1000
`

const gazesimTemplate = `addr = "127.0.0.1:4242"
record_interval = "16ms"
calibration_delay = "2s"
average_error = "0.5"
fragment = false
seed = 1
`
