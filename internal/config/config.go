// Package config loads svcwire TOML files: the directory server settings and
// the record files published by clients.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/svcwire/internal/admin"
	"github.com/danmuck/svcwire/internal/directory"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/registry"
)

// ServerConfig is the resolved configuration of one directory server.
type ServerConfig struct {
	Directory   directory.ServiceConfig
	DataDir     string
	AdminAddr   string
	CORSOrigins []string
	Sync        bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Directory: directory.DefaultServiceConfig(),
		DataDir:   "svcwire-data",
	}
}

// Admin returns the admin HTTP settings; an empty Addr disables the listener.
func (c ServerConfig) Admin() admin.Config {
	return admin.Config{Addr: c.AdminAddr, CORSOrigins: c.CORSOrigins}
}

// Registry returns the registry options this config describes.
func (c ServerConfig) Registry() registry.Options {
	return registry.Options{
		Path:  c.DataDir,
		Codec: c.Directory.Session.Codec(),
		Sync:  c.Sync,
	}
}

// server.toml key mapping to directory runtime settings.
type serverFile struct {
	ListenAddr      string   `toml:"listen_addr"`
	DataDir         string   `toml:"data_dir"`
	AdminAddr       string   `toml:"admin_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	Sync            bool     `toml:"sync"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	MaxPayloadBytes uint64   `toml:"max_payload_bytes"`
	MaxCount        uint32   `toml:"max_count"`
	MaxAddressLen   uint32   `toml:"max_address_len"`
	TextEncoding    string   `toml:"text_encoding"`
}

// LoadServerConfig decodes path over DefaultServerConfig. Keys absent from
// the file keep their defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ServerConfig{}, fmt.Errorf("load server config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.Directory.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("sync") {
		cfg.Sync = raw.Sync
	}
	if meta.IsDefined("read_timeout") {
		if cfg.Directory.Session.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.Directory.Session.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Directory.Session.Frame.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("max_count") {
		cfg.Directory.Session.Record.MaxCount = raw.MaxCount
	}
	if meta.IsDefined("max_address_len") {
		cfg.Directory.Session.Record.MaxAddressLen = raw.MaxAddressLen
	}
	if meta.IsDefined("text_encoding") {
		text, err := record.ParseTextEncoding(raw.TextEncoding)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("load server config: %w", err)
		}
		cfg.Directory.Session.Text = text
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	cfg.Directory.Session = cfg.Directory.Session.WithDefaults()
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Directory.ListenAddr) == "" {
		return fmt.Errorf("load server config: listen_addr is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("load server config: data_dir is required")
	}
	if cfg.AdminAddr != "" && cfg.AdminAddr == cfg.Directory.ListenAddr {
		return fmt.Errorf("load server config: admin_addr must differ from listen_addr")
	}
	for _, origin := range cfg.CORSOrigins {
		o := strings.TrimSpace(origin)
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("load server config: cors origin %q must be http(s) or *", origin)
		}
	}
	return nil
}

// parseDuration accepts Go duration strings. "0" and "off" disable the
// deadline.
func parseDuration(key, raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "off", "none":
		return -1, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load server config: %s: %w", key, err)
	}
	if d <= 0 {
		return -1, nil
	}
	return d, nil
}
