package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		LogLevel       string   `yaml:"log_level"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		InstanceID     string   `yaml:"instance_id"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		CookieName string `yaml:"cookie_name"`
	} `yaml:"auth"`

	Rooms struct {
		DefaultInitialTime Duration `yaml:"default_initial_time"`
		MaxInitialTime     Duration `yaml:"max_initial_time"`
		TTL                Duration `yaml:"ttl"`
		VacancyGrace       Duration `yaml:"vacancy_grace"`
	} `yaml:"rooms"`

	Clock struct {
		Workers         int      `yaml:"workers"`
		EvaluateTimeout Duration `yaml:"evaluate_timeout"`
	} `yaml:"clock"`

	Presence struct {
		Enabled bool     `yaml:"enabled"`
		TTL     Duration `yaml:"ttl"`
	} `yaml:"presence"`

	Relay struct {
		// Backend is "redis" or "nats".
		Backend       string `yaml:"backend"`
		NATSURL       string `yaml:"nats_url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"relay"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.Server.Port = "8080"
	c.Server.LogLevel = "info"
	c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	c.Auth.CookieName = "token"
	c.Rooms.DefaultInitialTime = Duration(5 * time.Minute)
	c.Rooms.MaxInitialTime = Duration(3 * time.Hour)
	c.Rooms.TTL = Duration(time.Hour)
	c.Rooms.VacancyGrace = Duration(5 * time.Minute)
	c.Clock.Workers = 4
	c.Clock.EvaluateTimeout = Duration(5 * time.Second)
	c.Presence.Enabled = true
	c.Presence.TTL = Duration(30 * time.Second)
	c.Relay.Backend = "redis"
	c.Relay.NATSURL = "nats://localhost:4222"
	c.Relay.StreamName = "BLITZ_ROOM_EVENTS"
	c.Relay.SubjectPrefix = "blitz.rooms"
	return c
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.LogLevel = getEnv("LOG_LEVEL", c.Server.LogLevel)
	c.Server.InstanceID = getEnv("INSTANCE_ID", c.Server.InstanceID)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Relay.Backend = getEnv("RELAY_BACKEND", c.Relay.Backend)
	c.Relay.NATSURL = getEnv("NATS_URL", c.Relay.NATSURL)
	c.Clock.Workers = getEnvAsInt("CLOCK_WORKERS", c.Clock.Workers)
	if ms := getEnvAsInt("DEFAULT_INITIAL_TIME_MS", 0); ms > 0 {
		c.Rooms.DefaultInitialTime = Duration(time.Duration(ms) * time.Millisecond)
	}
	if s := getEnvAsInt("ROOM_TTL_SECONDS", 0); s > 0 {
		c.Rooms.TTL = Duration(time.Duration(s) * time.Second)
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	switch c.Relay.Backend {
	case "redis", "nats":
	default:
		return fmt.Errorf("unknown relay backend %q", c.Relay.Backend)
	}
	if c.Presence.Enabled && c.Presence.TTL.Std() < 3*time.Second {
		return fmt.Errorf("presence ttl %s is too short", c.Presence.TTL.Std())
	}
	return nil
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
