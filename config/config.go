package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"labgrid/native/reservation"
)

// Config captures the daemon settings loaded from TOML.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`

	BackendJWTSecret string `toml:"BackendJWTSecret"`

	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Reservations ReservationConfig `toml:"Reservations"`
}

// ReservationConfig overrides the engine limits. Zero values fall back to
// the engine defaults.
type ReservationConfig struct {
	MinStartLeadSeconds int    `toml:"MinStartLeadSeconds"`
	PendingTTLSeconds   int    `toml:"PendingTTLSeconds"`
	MaxActivePerUser    int    `toml:"MaxActivePerUser"`
	MaxReleaseBatch     int    `toml:"MaxReleaseBatch"`
	RingCapacity        int    `toml:"RingCapacity"`
	MinCancellationFee  string `toml:"MinCancellationFee"`
	PerLabStake         string `toml:"PerLabStake"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:      ":8645",
		MetricsAddress:     ":9464",
		DataDir:            "./labgrid-data",
		Environment:        "dev",
		LogMaxSizeMB:       64,
		LogMaxBackups:      4,
		RateLimitPerMinute: 600,
		RateLimitBurst:     60,
	}
}

// Load reads the configuration at path, creating a default file when absent.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EngineParams converts the reservation overrides into engine params,
// falling back to the canonical defaults for unset fields.
func (c *Config) EngineParams() (reservation.Params, error) {
	params := reservation.DefaultParams()
	rc := c.Reservations
	if rc.MinStartLeadSeconds > 0 {
		params.MinStartLead = int64(rc.MinStartLeadSeconds)
	}
	if rc.PendingTTLSeconds > 0 {
		params.PendingTTL = int64(rc.PendingTTLSeconds)
	}
	if rc.MaxActivePerUser > 0 {
		params.MaxActivePerUser = rc.MaxActivePerUser
	}
	if rc.MaxReleaseBatch > 0 {
		params.MaxReleaseBatch = rc.MaxReleaseBatch
	}
	if rc.RingCapacity > 0 {
		params.RingCapacity = rc.RingCapacity
	}
	if trimmed := strings.TrimSpace(rc.MinCancellationFee); trimmed != "" {
		fee, ok := new(big.Int).SetString(trimmed, 10)
		if !ok || fee.Sign() < 0 {
			return params, fmt.Errorf("config: invalid MinCancellationFee %q", rc.MinCancellationFee)
		}
		params.MinCancellationFee = fee
	}
	if trimmed := strings.TrimSpace(rc.PerLabStake); trimmed != "" {
		stake, ok := new(big.Int).SetString(trimmed, 10)
		if !ok || stake.Sign() < 0 {
			return params, fmt.Errorf("config: invalid PerLabStake %q", rc.PerLabStake)
		}
		params.PerLabStake = stake
	}
	return params, nil
}
