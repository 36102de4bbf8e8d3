package participant

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the participant simulation
type Config struct {
	// Where orders are written
	ReceiverAddr string
	DialTimeout  time.Duration

	// Population
	Participants    int
	StartingBalance int64
	MarginLimit     int64

	// Pacing
	Periods            int
	TickInterval       time.Duration
	StartDelay         time.Duration
	MaxOrdersPerSecond float64

	// Order shape
	Volume         int64
	PriceMagnitude int
	PriceStep      float64

	// Seed for the decision source; zero picks a time based seed
	Seed int64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("RECEIVER_ADDR", "127.0.0.1:9001")
	v.SetDefault("DIAL_TIMEOUT_SECONDS", 5)
	v.SetDefault("PARTICIPANTS", 100)
	v.SetDefault("STARTING_BALANCE", 1000000)
	v.SetDefault("MARGIN_LIMIT", 2000000)
	v.SetDefault("PERIODS", 100)
	v.SetDefault("TICK_INTERVAL_MS", 1000)
	v.SetDefault("START_DELAY_MS", 3000)
	v.SetDefault("MAX_ORDERS_PER_SECOND", 1000.0)
	v.SetDefault("ORDER_VOLUME", 1)
	v.SetDefault("PRICE_MAGNITUDE", 20)
	v.SetDefault("PRICE_STEP", 0.25)
	v.SetDefault("SEED", 0)

	v.AutomaticEnv()

	cfg := &Config{
		ReceiverAddr:       v.GetString("RECEIVER_ADDR"),
		DialTimeout:        time.Duration(v.GetInt("DIAL_TIMEOUT_SECONDS")) * time.Second,
		Participants:       v.GetInt("PARTICIPANTS"),
		StartingBalance:    v.GetInt64("STARTING_BALANCE"),
		MarginLimit:        v.GetInt64("MARGIN_LIMIT"),
		Periods:            v.GetInt("PERIODS"),
		TickInterval:       time.Duration(v.GetInt("TICK_INTERVAL_MS")) * time.Millisecond,
		StartDelay:         time.Duration(v.GetInt("START_DELAY_MS")) * time.Millisecond,
		MaxOrdersPerSecond: v.GetFloat64("MAX_ORDERS_PER_SECOND"),
		Volume:             v.GetInt64("ORDER_VOLUME"),
		PriceMagnitude:     v.GetInt("PRICE_MAGNITUDE"),
		PriceStep:          v.GetFloat64("PRICE_STEP"),
		Seed:               v.GetInt64("SEED"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.ReceiverAddr == "" {
		return fmt.Errorf("RECEIVER_ADDR must not be empty")
	}
	if cfg.Participants <= 0 {
		return fmt.Errorf("PARTICIPANTS must be positive")
	}
	if cfg.MarginLimit < 0 {
		return fmt.Errorf("MARGIN_LIMIT must not be negative")
	}
	if cfg.Periods <= 0 {
		return fmt.Errorf("PERIODS must be positive")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if cfg.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("MAX_ORDERS_PER_SECOND must be positive")
	}
	if cfg.Volume <= 0 {
		return fmt.Errorf("ORDER_VOLUME must be positive")
	}
	if cfg.PriceMagnitude <= 0 {
		return fmt.Errorf("PRICE_MAGNITUDE must be positive")
	}
	if cfg.PriceStep <= 0 {
		return fmt.Errorf("PRICE_STEP must be positive")
	}
	return nil
}
