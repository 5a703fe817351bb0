package config

import "testing"

func TestDefaultConfigHasUsableValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.K <= 0 || cfg.Alpha <= 0 {
		t.Fatalf("expected positive K and Alpha, got K=%d Alpha=%d", cfg.K, cfg.Alpha)
	}
	if len(cfg.BootstrapNodes) == 0 {
		t.Fatalf("expected at least one default bootstrap node")
	}
	if cfg.RPCTimeout <= 0 {
		t.Fatalf("expected a positive RPC timeout")
	}
}

func TestGlobalInitLoadUpdateSwap(t *testing.T) {
	Init()

	before := Load()
	if before.ListenAddr == "" {
		t.Fatalf("expected Init to install a non-empty listen address")
	}

	after := Update(func(c *Config) { c.ListenAddr = ":9999" })
	if after.ListenAddr != ":9999" {
		t.Fatalf("Update did not take effect, got %q", after.ListenAddr)
	}
	if Load().ListenAddr != ":9999" {
		t.Fatalf("Load did not observe the update")
	}

	Swap(Config{ListenAddr: ":1234", K: 8})
	if Load().ListenAddr != ":1234" {
		t.Fatalf("Swap did not replace the global config")
	}
}
