package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "records":
		return recordsTemplate, nil
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

const serverTemplate = `listen_addr = ":7415"
data_dir = "svcwire-data"
admin_addr = ":9415"
cors_origins = ["http://localhost:3000"]
sync = false
read_timeout = "15s"
write_timeout = "15s"
max_payload_bytes = 8388608
max_count = 1024
max_address_len = 128
text_encoding = "utf16le"
`

const recordsTemplate = `[[class]]
class_id = "6f1d2f4a-8c1e-4b7d-9a3b-1c2d3e4f5a6b"
class_name = "printers"

  [[class.infos]]
  name_space = 12
  value_type = 4
  value = 631

[[service]]
instance_name = "printer.lab"
class_id = "6f1d2f4a-8c1e-4b7d-9a3b-1c2d3e4f5a6b"
version = 2
version_how = "not_less"
comment = "second floor"
name_space = 12

  [[service.protocols]]
  family = 2
  protocol = 6

  [[service.addresses]]
  local = "192.0.2.10:631"
  socket_type = 1
  protocol = 6
`
