// Package config loads client settings from defaults, an optional YAML file
// and TRIPSYNC_* environment variables, in increasing precedence.
//
// The merged result is validated against an embedded CUE schema before it
// is returned.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix is prepended to upper-cased keys with dots replaced by
// underscores: sync.flush_delay is TRIPSYNC_SYNC_FLUSH_DELAY.
const EnvPrefix = "TRIPSYNC"

// Config is the complete client configuration.
type Config struct {
	Server  ServerConfig
	Sync    SyncConfig
	Journal JournalConfig
	User    UserConfig
}

// ServerConfig locates the sync server.
type ServerConfig struct {
	WebsocketURL string
	APIBaseURL   string
}

// SyncConfig tunes the channel lifecycle. FlushDelay is waited after
// subscribing before the outbox is flushed.
type SyncConfig struct {
	FlushDelay        time.Duration
	ReconnectInterval time.Duration
}

// JournalConfig points at the SQLite journal. An empty Path disables
// journaling.
type JournalConfig struct {
	Path string
}

// UserConfig identifies the local collaborator.
type UserConfig struct {
	Nickname string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.websocket_url", "ws://localhost:8080/ws")
	v.SetDefault("server.api_base_url", "http://localhost:8080")
	v.SetDefault("sync.flush_delay", 100*time.Millisecond)
	v.SetDefault("sync.reconnect_interval", 5*time.Second)
	v.SetDefault("journal.path", "")
	v.SetDefault("user.nickname", "")
}

// Load reads the configuration. With an empty path it looks for
// tripsync.yaml in the working directory and ~/.config/tripsync, and a
// missing file is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tripsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tripsync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			WebsocketURL: v.GetString("server.websocket_url"),
			APIBaseURL:   v.GetString("server.api_base_url"),
		},
		Sync: SyncConfig{
			FlushDelay:        v.GetDuration("sync.flush_delay"),
			ReconnectInterval: v.GetDuration("sync.reconnect_interval"),
		},
		Journal: JournalConfig{Path: v.GetString("journal.path")},
		User:    UserConfig{Nickname: v.GetString("user.nickname")},
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(cfg.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// view renders cfg with the schema's key names and durations in
// milliseconds.
func (cfg *Config) view() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"websocket_url": cfg.Server.WebsocketURL,
			"api_base_url":  cfg.Server.APIBaseURL,
		},
		"sync": map[string]any{
			"flush_delay":        cfg.Sync.FlushDelay.Milliseconds(),
			"reconnect_interval": cfg.Sync.ReconnectInterval.Milliseconds(),
		},
		"journal": map[string]any{"path": cfg.Journal.Path},
		"user":    map[string]any{"nickname": cfg.User.Nickname},
	}
}
