// Package config exposes the manager's runtime configuration, backed by
// viper exactly as the teacher's core/config package is.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the typed accessor surface every component depends on, mirroring
// the teacher's pattern of one accessor method per setting rather than a
// bag of exported fields.
type Config interface {
	EthereumNetworkID() int64
	DatabaseURL() string
	EthereumNodeURL() string
	SanityCheckFrequency() time.Duration
	SanityCheckInitialDelay() time.Duration
	StaleTransactionAge() time.Duration
}

type viperConfig struct {
	v *viper.Viper
}

// New constructs a Config reading from environment variables with the
// ETHTXQUEUE_ prefix, falling back to the defaults below.
func New() Config {
	v := viper.New()
	v.SetEnvPrefix("ETHTXQUEUE")
	v.AutomaticEnv()

	v.SetDefault("ethereum_network_id", int64(1))
	v.SetDefault("database_url", "postgres://localhost:5432/ethtxqueue?sslmode=disable")
	v.SetDefault("ethereum_node_url", "http://localhost:8545")
	v.SetDefault("sanity_check_frequency", 60*time.Second)
	v.SetDefault("sanity_check_initial_delay", 10*time.Second)
	v.SetDefault("stale_transaction_age", 2*time.Minute)

	return &viperConfig{v: v}
}

func (c *viperConfig) EthereumNetworkID() int64 { return c.v.GetInt64("ethereum_network_id") }
func (c *viperConfig) DatabaseURL() string      { return c.v.GetString("database_url") }
func (c *viperConfig) EthereumNodeURL() string  { return c.v.GetString("ethereum_node_url") }
func (c *viperConfig) SanityCheckFrequency() time.Duration {
	return c.v.GetDuration("sanity_check_frequency")
}
func (c *viperConfig) SanityCheckInitialDelay() time.Duration {
	return c.v.GetDuration("sanity_check_initial_delay")
}
func (c *viperConfig) StaleTransactionAge() time.Duration {
	return c.v.GetDuration("stale_transaction_age")
}
