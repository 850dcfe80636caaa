// Package config loads runtime configuration from the environment, an
// optional .env file and, for the client, an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
)

// Transports and storage backends understood by the client.
const (
	TransportNATS = "nats"
	TransportWS   = "ws"

	StoragePebble   = "pebble"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// DefaultPeers is the chat list offered when none is configured.
var DefaultPeers = []string{"Alice", "Bob", "Charlie", "David", "Eve"}

// NATS holds broker connection settings shared by client and relay.
type NATS struct {
	URL      string `yaml:"url"`
	Cred     string `yaml:"cred"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Options returns the credential options for nats.Connect. A creds file
// wins over user and password.
func (n NATS) Options() []nats.Option {
	var opts []nats.Option
	if n.Cred != "" {
		opts = append(opts, nats.UserCredentials(n.Cred))
	} else if n.User != "" && n.Password != "" {
		opts = append(opts, nats.UserInfo(n.User, n.Password))
	}
	return opts
}

// Client configures the chat client.
type Client struct {
	Username    string   `yaml:"username"`
	Peers       []string `yaml:"peers"`
	Room        string   `yaml:"room"`
	Transport   string   `yaml:"transport"`
	NATS        NATS     `yaml:"nats"`
	RelayURL    string   `yaml:"relay_url"`
	Storage     string   `yaml:"storage"`
	StoragePath string   `yaml:"storage_path"`
	DatabaseURL string   `yaml:"database_url"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// Relay configures the relay server.
type Relay struct {
	Port           string
	NATS           NATS
	StreamMaxBytes int64
	MessageLimit   int
	MessageWindow  time.Duration
	IPLimit        int
	IPWindow       time.Duration
	AllowedOrigins []string
	PingInterval   time.Duration
	LogLevel       string
	LogFormat      string
}

// LoadDotEnv loads .env if present. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// LoadClientFile reads a YAML client config. An empty path returns the zero
// config.
func LoadClientFile(path string) (Client, error) {
	var cfg Client
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// LoadClient layers the environment over base. Values set in the
// environment win.
func LoadClient(base Client) Client {
	cfg := base
	cfg.Username = envString("CHAT_USERNAME", cfg.Username)
	cfg.Peers = envList("CHAT_PEERS", cfg.Peers)
	cfg.Room = envString("CHAT_ROOM", cfg.Room)
	cfg.Transport = envString("CHAT_TRANSPORT", cfg.Transport)
	cfg.NATS = loadNATS(cfg.NATS)
	cfg.RelayURL = envString("CHAT_RELAY_URL", cfg.RelayURL)
	cfg.Storage = envString("CHAT_STORAGE", cfg.Storage)
	cfg.StoragePath = envString("CHAT_STORAGE_PATH", cfg.StoragePath)
	cfg.DatabaseURL = envString("DB_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsAddr = envString("METRICS_ADDR", cfg.MetricsAddr)
	return cfg
}

func loadNATS(base NATS) NATS {
	return NATS{
		URL:      envString("NATS_URL", base.URL),
		Cred:     envString("NATS_CRED", base.Cred),
		User:     envString("NATS_USER", base.User),
		Password: envString("NATS_PASSWORD", base.Password),
	}
}

// Validate fills defaults and rejects impossible settings.
func (c *Client) Validate() error {
	if len(c.Peers) == 0 {
		c.Peers = append([]string(nil), DefaultPeers...)
	}
	if c.Room == "" {
		c.Room = "General"
	}
	if c.Transport == "" {
		c.Transport = TransportNATS
	}
	if c.Storage == "" {
		c.Storage = StoragePebble
	}
	if c.StoragePath == "" {
		c.StoragePath = "chatsync-data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	switch c.Transport {
	case TransportNATS:
		if c.NATS.URL == "" {
			return errors.New("NATS_URL is required for the nats transport")
		}
	case TransportWS:
		if c.RelayURL == "" {
			return errors.New("CHAT_RELAY_URL is required for the ws transport")
		}
	default:
		return fmt.Errorf("unknown transport %q; must be %s or %s", c.Transport, TransportNATS, TransportWS)
	}

	switch c.Storage {
	case StoragePebble, StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q; must be %s, %s or %s", c.Storage, StoragePebble, StoragePostgres, StorageMemory)
	}
	return nil
}

// LoadRelay reads the relay settings from the environment.
func LoadRelay() Relay {
	return Relay{
		Port:           envString("PORT", "8080"),
		NATS:           loadNATS(NATS{}),
		StreamMaxBytes: int64(envInt("RELAY_STREAM_MAX_BYTES", 1<<30)),
		MessageLimit:   envInt("RELAY_RATE_MESSAGES", 30),
		MessageWindow:  envDuration("RELAY_RATE_WINDOW", time.Minute),
		IPLimit:        envInt("RELAY_IP_RATE", 20),
		IPWindow:       envDuration("RELAY_IP_WINDOW", time.Minute),
		AllowedOrigins: envList("RELAY_ALLOWED_ORIGINS", nil),
		PingInterval:   envDuration("RELAY_PING_INTERVAL", 54*time.Second),
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogFormat:      envString("LOG_FORMAT", "json"),
	}
}

// Validate rejects impossible relay settings.
func (r Relay) Validate() error {
	if r.NATS.URL == "" {
		return errors.New("NATS_URL environment variable is not set")
	}
	if r.MessageLimit <= 0 || r.MessageWindow <= 0 {
		return errors.New("RELAY_RATE_MESSAGES and RELAY_RATE_WINDOW must be positive")
	}
	if r.IPLimit <= 0 || r.IPWindow <= 0 {
		return errors.New("RELAY_IP_RATE and RELAY_IP_WINDOW must be positive")
	}
	return nil
}
