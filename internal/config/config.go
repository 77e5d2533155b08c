package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Wallet struct {
		XPub         string `yaml:"xpub"`
		Bech32Prefix string `yaml:"bech32_prefix"`
	} `yaml:"wallet"`
	Chain struct {
		RPCEndpoints      []string `yaml:"rpc_endpoints"`
		StakingDenom      string   `yaml:"staking_denom"`
		UsdcDenom         string   `yaml:"usdc_denom"`
		FailoverThreshold int      `yaml:"failover_threshold"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
	} `yaml:"chain"`
	Rates struct {
		Endpoint       string `yaml:"endpoint"`
		TTLSeconds     int    `yaml:"ttl_seconds"`
		FallbackRate   string `yaml:"fallback_rate"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"rates"`
	Evidence struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"evidence"`
	Orders struct {
		TTLMinutes         int   `yaml:"ttl_minutes"`
		MinAmountUsdcCents int64 `yaml:"min_amount_usdc_cents"`
		DisputeWindowHours int   `yaml:"dispute_window_hours"`
	} `yaml:"orders"`
	Validation struct {
		FallbackThreshold int   `yaml:"fallback_threshold"`
		ReviewRewardCents int64 `yaml:"review_reward_cents"`
		DeadlineMinutes   int   `yaml:"deadline_minutes"`
		StakeLockHours    int   `yaml:"stake_lock_hours"`
	} `yaml:"validation"`
	Admin struct {
		Addresses []string `yaml:"addresses"`
	} `yaml:"admin"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Rates.Endpoint == "" && cfg.Rates.FallbackRate == "" {
		return nil, errors.New("rates.endpoint or rates.fallback_rate is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 60
	}
	if cfg.Orders.DisputeWindowHours <= 0 {
		cfg.Orders.DisputeWindowHours = 24
	}
	if cfg.Validation.FallbackThreshold <= 0 {
		cfg.Validation.FallbackThreshold = 3
	}
	if cfg.Validation.DeadlineMinutes <= 0 {
		cfg.Validation.DeadlineMinutes = 60
	}
	if cfg.Validation.StakeLockHours <= 0 {
		cfg.Validation.StakeLockHours = 24
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 20
	}
	if cfg.Chain.TimeoutSeconds <= 0 {
		cfg.Chain.TimeoutSeconds = 3
	}
	if cfg.Rates.TimeoutSeconds <= 0 {
		cfg.Rates.TimeoutSeconds = 3
	}
	if cfg.Rates.TTLSeconds <= 0 {
		cfg.Rates.TTLSeconds = 60
	}
	if cfg.Evidence.TimeoutSeconds <= 0 {
		cfg.Evidence.TimeoutSeconds = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("WALLET_XPUB"); v != "" {
		cfg.Wallet.XPub = v
	}
	if v := os.Getenv("BECH32_PREFIX"); v != "" {
		cfg.Wallet.Bech32Prefix = v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("STAKING_DENOM"); v != "" {
		cfg.Chain.StakingDenom = v
	}
	if v := os.Getenv("USDC_DENOM"); v != "" {
		cfg.Chain.UsdcDenom = v
	}
	if v := os.Getenv("CHAIN_FAILOVER_THRESHOLD"); v != "" {
		cfg.Chain.FailoverThreshold = atoiOr(cfg.Chain.FailoverThreshold, v)
	}
	if v := os.Getenv("RATES_ENDPOINT"); v != "" {
		cfg.Rates.Endpoint = v
	}
	if v := os.Getenv("RATES_TTL_SECONDS"); v != "" {
		cfg.Rates.TTLSeconds = atoiOr(cfg.Rates.TTLSeconds, v)
	}
	if v := os.Getenv("RATES_FALLBACK_RATE"); v != "" {
		cfg.Rates.FallbackRate = v
	}
	if v := os.Getenv("EVIDENCE_ENDPOINT"); v != "" {
		cfg.Evidence.Endpoint = v
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("MIN_AMOUNT_USDC_CENTS"); v != "" {
		cfg.Orders.MinAmountUsdcCents = atoi64Or(cfg.Orders.MinAmountUsdcCents, v)
	}
	if v := os.Getenv("DISPUTE_WINDOW_HOURS"); v != "" {
		cfg.Orders.DisputeWindowHours = atoiOr(cfg.Orders.DisputeWindowHours, v)
	}
	if v := os.Getenv("VALIDATION_FALLBACK_THRESHOLD"); v != "" {
		cfg.Validation.FallbackThreshold = atoiOr(cfg.Validation.FallbackThreshold, v)
	}
	if v := os.Getenv("REVIEW_REWARD_CENTS"); v != "" {
		cfg.Validation.ReviewRewardCents = atoi64Or(cfg.Validation.ReviewRewardCents, v)
	}
	if v := os.Getenv("VALIDATION_DEADLINE_MINUTES"); v != "" {
		cfg.Validation.DeadlineMinutes = atoiOr(cfg.Validation.DeadlineMinutes, v)
	}
	if v := os.Getenv("STAKE_LOCK_HOURS"); v != "" {
		cfg.Validation.StakeLockHours = atoiOr(cfg.Validation.StakeLockHours, v)
	}
	if v := os.Getenv("ADMIN_ADDRESSES"); v != "" {
		cfg.Admin.Addresses = splitCommaList(v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
