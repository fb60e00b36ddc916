package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	server "atrium/server"
	"atrium/server/internal/presence"
)

// Config is the server's file configuration. Every field has a sensible
// default; env vars override the file (see Run).
type Config struct {
	Addr          string         `yaml:"addr"`
	SchemaOverlay string         `yaml:"schemaOverlay"`
	Room          RoomSection    `yaml:"room"`
	Logging       LoggingSection `yaml:"logging"`
}

type RoomSection struct {
	ID          string               `yaml:"id"`
	Permissions presence.Permissions `yaml:"permissions"`
	Scene       []server.SceneEntity `yaml:"scene"`
	QueueSize   int                  `yaml:"queueSize"`
}

type LoggingSection struct {
	Sinks    []string `yaml:"sinks"`
	JSONPath string   `yaml:"jsonPath"`
	Debug    bool     `yaml:"debug"`
}

func DefaultAppConfig() Config {
	roomDefaults := server.DefaultRoomConfig()
	return Config{
		Addr: ":8080",
		Room: RoomSection{
			ID:          roomDefaults.ID,
			Permissions: roomDefaults.DefaultPermissions,
			QueueSize:   roomDefaults.IntakeQueueSize,
		},
		Logging: LoggingSection{
			Sinks: []string{"console"},
		},
	}
}

// LoadConfigFile overlays a YAML file onto the defaults. A missing path
// leaves the defaults untouched.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("app: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("app: decode config %s: %w", path, err)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Room.QueueSize <= 0 {
		cfg.Room.QueueSize = server.DefaultRoomConfig().IntakeQueueSize
	}
	return cfg, nil
}
