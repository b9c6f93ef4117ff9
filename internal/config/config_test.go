package config_test

import (
	"TroveLedger/internal/config"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeParams(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParams_DefaultsWithoutFile(t *testing.T) {
	p, err := config.LoadParams("")
	if err != nil {
		t.Fatal(err)
	}
	if !p.MCR.Eq(state.DefaultParams().MCR) {
		t.Errorf("MCR: got %s", p.MCR)
	}
}

func TestLoadParams_Overrides(t *testing.T) {
	path := writeParams(t, `
mcr = "1.2"
gas_compensation = "10"
min_net_debt = "90"
max_sorted_list_size = 500
`)
	p, err := config.LoadParams(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !p.MCR.Eq(fpmath.MustParse("1.2")) {
		t.Errorf("MCR: got %s, want 1.2", p.MCR)
	}
	if !p.GasCompensation.Eq(fpmath.FromUnits(10)) || !p.MinNetDebt.Eq(fpmath.FromUnits(90)) {
		t.Errorf("gas comp %s, min net debt %s", p.GasCompensation, p.MinNetDebt)
	}
	if p.MaxSortedListSize != 500 {
		t.Errorf("list size: got %d", p.MaxSortedListSize)
	}
	if !p.CCR.Eq(state.DefaultParams().CCR) {
		t.Errorf("unset key should keep default, CCR=%s", p.CCR)
	}
}

func TestLoadParams_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", `funding_rate = "0.1"`},
		{"bad decimal", `mcr = "one"`},
		{"invalid params", `mcr = "0.9"`},
	}
	for _, tt := range tests {
		if _, err := config.LoadParams(writeParams(t, tt.body)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if _, err := config.LoadParams(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TROVE_GRPC_ADDR", ":1234")
	t.Setenv("TROVE_PERSIST_BATCH_SIZE", "7")
	t.Setenv("TROVE_PERSIST_FLUSH_TIMEOUT", "25ms")
	t.Setenv("TROVE_DEPLOYED_AT", "2025-06-01T12:00:00Z")
	t.Setenv("TROVE_INITIAL_PRICE", "1850.25")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GRPCAddr != ":1234" || cfg.PersistBatchSize != 7 || cfg.PersistFlushTimeout != 25*time.Millisecond {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.DeployedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("deployed at: got %v", cfg.DeployedAt)
	}
	if !cfg.InitialPrice.Eq(fpmath.MustParse("1850.25")) {
		t.Errorf("initial price: got %s", cfg.InitialPrice)
	}

	t.Setenv("TROVE_INITIAL_PRICE", "0")
	if _, err := config.Load(); err == nil {
		t.Error("zero initial price should fail")
	}
}
