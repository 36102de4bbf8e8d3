package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StorePebble = "pebble"
)

// Transport kinds between placement and fulfillment
const (
	TransportSocket = "socket"
	TransportKafka  = "kafka"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		AdminAddr string `yaml:"admin_addr"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"server"`

	Store struct {
		Backend    string `yaml:"backend"`
		RedisAddr  string `yaml:"redis_addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		PebblePath string `yaml:"pebble_path"`
	} `yaml:"store"`

	Transport struct {
		Kind      string `yaml:"kind"`
		SocketURL string `yaml:"socket_url"`
	} `yaml:"transport"`

	Kafka struct {
		BrokerAddr    string `yaml:"broker_addr"`
		OrdersTopic   string `yaml:"orders_topic"`
		EventsTopic   string `yaml:"events_topic"`
		EventsEnabled bool   `yaml:"events_enabled"`
	} `yaml:"kafka"`

	Receiver struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"receiver"`

	Dispatcher struct {
		Workers    int `yaml:"workers"`
		QueueDepth int `yaml:"queue_depth"`
	} `yaml:"dispatcher"`

	Telemetry struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"telemetry"`

	// Args holds the positional arguments left after flag parsing
	Args []string `yaml:"-"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	cfg := &Config{}
	cfg.Server.AdminAddr = ":50051"
	cfg.Server.LogLevel = "info"
	cfg.Server.LogFormat = "pretty"
	cfg.Store.Backend = StoreRedis
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Store.PebblePath = "data/ledger"
	cfg.Transport.Kind = TransportSocket
	cfg.Transport.SocketURL = "ipc:///tmp/bourse-orders.ipc"
	cfg.Kafka.BrokerAddr = "localhost:9092"
	cfg.Kafka.OrdersTopic = "bourse-orders"
	cfg.Kafka.EventsTopic = "bourse-events"
	cfg.Receiver.ListenAddr = "127.0.0.1:9001"
	cfg.Dispatcher.Workers = 8
	cfg.Dispatcher.QueueDepth = 256
	cfg.Telemetry.Endpoint = "localhost:4317"
	return cfg
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// environment variables (a .env file in the working directory is honoured)
// and finally command line flags. args excludes the program name.
func LoadConfig(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	fs := flag.NewFlagSet("bourse", flag.ContinueOnError)
	configFile := fs.String("config", GetEnv("BOURSE_CONFIG", ""), "Path to config file (YAML)")
	adminAddr := fs.String("admin_addr", "", "Admin gRPC listen address")
	logLevel := fs.String("log_level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log_format", "", "Log format: json, pretty")
	storeBackend := fs.String("store", "", "Ledger store: redis, memory, pebble")
	transport := fs.String("transport", "", "Order transport: socket, kafka")
	listenAddr := fs.String("listen", "", "Order receiver listen address")
	workers := fs.Int("workers", 0, "Dispatcher worker count")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	override(&cfg.Server.AdminAddr, *adminAddr)
	override(&cfg.Server.LogLevel, *logLevel)
	override(&cfg.Server.LogFormat, *logFormat)
	override(&cfg.Store.Backend, *storeBackend)
	override(&cfg.Transport.Kind, *transport)
	override(&cfg.Receiver.ListenAddr, *listenAddr)
	if *workers > 0 {
		cfg.Dispatcher.Workers = *workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

// Validate checks enumerated settings and sizes
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreRedis, StoreMemory, StorePebble:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Transport.Kind {
	case TransportSocket, TransportKafka:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher workers must be positive, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.QueueDepth < 0 {
		return fmt.Errorf("dispatcher queue depth must not be negative, got %d", c.Dispatcher.QueueDepth)
	}
	return nil
}

// Brokers splits the comma separated broker list
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.Kafka.BrokerAddr, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func applyEnv(cfg *Config) {
	cfg.Server.LogLevel = GetEnv("LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Store.Backend = GetEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.RedisAddr = GetEnv("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.Password = GetEnv("REDIS_PASSWORD", cfg.Store.Password)
	cfg.Store.DB = GetEnvInt("REDIS_DB", cfg.Store.DB)
	cfg.Store.PebblePath = GetEnv("PEBBLE_PATH", cfg.Store.PebblePath)
	cfg.Transport.Kind = GetEnv("TRANSPORT", cfg.Transport.Kind)
	cfg.Transport.SocketURL = GetEnv("SOCKET_URL", cfg.Transport.SocketURL)
	cfg.Kafka.BrokerAddr = GetEnv("KAFKA_BROKERS", cfg.Kafka.BrokerAddr)
	cfg.Kafka.OrdersTopic = GetEnv("KAFKA_ORDERS_TOPIC", cfg.Kafka.OrdersTopic)
	cfg.Kafka.EventsTopic = GetEnv("KAFKA_EVENTS_TOPIC", cfg.Kafka.EventsTopic)
	cfg.Kafka.EventsEnabled = GetEnvBool("KAFKA_EVENTS_ENABLED", cfg.Kafka.EventsEnabled)
	cfg.Receiver.ListenAddr = GetEnv("RECEIVER_ADDR", cfg.Receiver.ListenAddr)
	cfg.Dispatcher.Workers = GetEnvInt("DISPATCHER_WORKERS", cfg.Dispatcher.Workers)
	cfg.Telemetry.Enabled = GetEnvBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// GetEnv returns the environment value for key or fallback when unset
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvInt is GetEnv for integers; unparsable values yield fallback
func GetEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool is GetEnv for booleans; unparsable values yield fallback
func GetEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
