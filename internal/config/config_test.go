package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/fiatmesh"
rates:
  fallback_rate: "83.50"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Orders.TTLMinutes != 60 {
		t.Errorf("TTLMinutes = %d, want default 60", cfg.Orders.TTLMinutes)
	}
	if cfg.Orders.DisputeWindowHours != 24 {
		t.Errorf("DisputeWindowHours = %d, want default 24", cfg.Orders.DisputeWindowHours)
	}
	if cfg.Validation.FallbackThreshold != 3 {
		t.Errorf("FallbackThreshold = %d, want default 3", cfg.Validation.FallbackThreshold)
	}
	if cfg.Validation.StakeLockHours != 24 {
		t.Errorf("StakeLockHours = %d, want default 24", cfg.Validation.StakeLockHours)
	}
	if cfg.Worker.IntervalSeconds != 20 {
		t.Errorf("IntervalSeconds = %d, want default 20", cfg.Worker.IntervalSeconds)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
db:
  dsn: "postgres://localhost/fiatmesh"
chain:
  rpc_endpoints: ["http://rpc-a", "http://rpc-b"]
  staking_denom: "stake"
  usdc_denom: "uusdc"
  failover_threshold: 5
rates:
  endpoint: "http://oracle"
  ttl_seconds: 30
  fallback_rate: "83.50"
orders:
  ttl_minutes: 15
  min_amount_usdc_cents: 500
validation:
  fallback_threshold: 7
  review_reward_cents: 25
admin:
  addresses: ["fm1tah94tygmsldjeu3v7c3w7pkehnguvqc93t8zg"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Chain.RPCEndpoints) != 2 || cfg.Chain.FailoverThreshold != 5 {
		t.Errorf("chain config = %+v", cfg.Chain)
	}
	if cfg.Rates.Endpoint != "http://oracle" || cfg.Rates.TTLSeconds != 30 {
		t.Errorf("rates config = %+v", cfg.Rates)
	}
	if cfg.Orders.TTLMinutes != 15 || cfg.Orders.MinAmountUsdcCents != 500 {
		t.Errorf("orders config = %+v", cfg.Orders)
	}
	if cfg.Validation.FallbackThreshold != 7 || cfg.Validation.ReviewRewardCents != 25 {
		t.Errorf("validation config = %+v", cfg.Validation)
	}
	if len(cfg.Admin.Addresses) != 1 {
		t.Errorf("admin config = %+v", cfg.Admin)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/fiatmesh"
rates:
  fallback_rate: "83.50"
`)
	t.Setenv("DB_DSN", "postgres://override/db")
	t.Setenv("ORDER_TTL_MINUTES", "45")
	t.Setenv("ADMIN_ADDRESSES", "fm1a, fm1b ,")
	t.Setenv("RATES_FALLBACK_RATE", "90.00")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.DSN != "postgres://override/db" {
		t.Errorf("DSN = %q", cfg.DB.DSN)
	}
	if cfg.Orders.TTLMinutes != 45 {
		t.Errorf("TTLMinutes = %d, want 45", cfg.Orders.TTLMinutes)
	}
	if len(cfg.Admin.Addresses) != 2 || cfg.Admin.Addresses[0] != "fm1a" || cfg.Admin.Addresses[1] != "fm1b" {
		t.Errorf("Addresses = %v", cfg.Admin.Addresses)
	}
	if cfg.Rates.FallbackRate != "90.00" {
		t.Errorf("FallbackRate = %q", cfg.Rates.FallbackRate)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]string{
		"missing addr": `
db:
  dsn: "postgres://localhost/fiatmesh"
rates:
  fallback_rate: "83.50"
`,
		"missing dsn": `
server:
  addr: ":8080"
rates:
  fallback_rate: "83.50"
`,
		"no rate source": `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/fiatmesh"
`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
