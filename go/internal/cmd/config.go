package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/trivia/go/internal/content"
	"github.com/mcdev12/trivia/go/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
)

type Config struct {
	Server         ServerConfig `yaml:"server"`
	content.Config `yaml:",inline"`
}

type ServerConfig struct {
	Backend      string        `yaml:"backend"`
	Port         string        `yaml:"port"`
	PublicURL    string        `yaml:"public_url"`
	RoomCapacity int           `yaml:"room_capacity"`
	IdleRoomTTL  time.Duration `yaml:"idle_room_ttl"`
	LeaveGrace   time.Duration `yaml:"leave_grace"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Backend:      backendMemory,
			Port:         "8080",
			PublicURL:    "http://localhost:8080",
			RoomCapacity: models.DefaultCapacity,
			IdleRoomTTL:  30 * time.Minute,
			LeaveGrace:   15 * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file leaves the
// defaults in place; environment variables win over both.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	s := &config.Server
	s.Backend = strings.ToLower(getEnv("BACKEND", s.Backend))
	s.Port = getEnv("PORT", s.Port)
	s.PublicURL = strings.TrimRight(getEnv("PUBLIC_URL", s.PublicURL), "/")
	s.RoomCapacity = getEnvAsInt("ROOM_CAPACITY", s.RoomCapacity)
	s.AutoMigrate = s.AutoMigrate || os.Getenv("AUTO_MIGRATE") != ""

	if s.Backend != backendMemory && s.Backend != backendPostgres {
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", s.Backend, backendMemory, backendPostgres)
	}
	if s.RoomCapacity <= 0 {
		return nil, fmt.Errorf("room_capacity must be positive, got %d", s.RoomCapacity)
	}
	return config, nil
}
