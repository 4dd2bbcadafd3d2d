package config_test

import (
	"testing"

	"ledgervm/internal/testutil"
	"ledgervm/pkg/config"
)

const defaultYAML = `
vm:
  backend: singlepass
  stack_limit: 65535
  gas_ceiling: 8000000
  tx:
    initial_pages: 17
    max_pages: 256
  vp:
    initial_pages: 17
    max_pages: 256
  mm:
    initial_pages: 4
    max_pages: 64
  filter:
    initial_pages: 2
    max_pages: 16

logging:
  level: info
  file: ""

http:
  listen_addr: ":9090"
  rate_limit_per_sec: 200
  rate_limit_burst: 100
`

const prodOverlayYAML = `
logging:
  level: warn

http:
  listen_addr: ":443"
`

func TestLoadFromDirReadsDefault(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	if err := sb.WriteFile("default.yaml", []byte(defaultYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.LoadFromDir(sb.Root, "")
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.VM.Backend != "singlepass" {
		t.Fatalf("expected backend singlepass, got %q", cfg.VM.Backend)
	}
	if cfg.VM.StackLimit != 65535 {
		t.Fatalf("expected stack limit 65535, got %d", cfg.VM.StackLimit)
	}
	if cfg.VM.Tx.MaxPages != 256 {
		t.Fatalf("expected tx max_pages 256, got %d", cfg.VM.Tx.MaxPages)
	}
	if cfg.HTTP.ListenAddr != ":9090" {
		t.Fatalf("expected listen addr :9090, got %q", cfg.HTTP.ListenAddr)
	}
}

func TestLoadFromDirMergesEnvOverlay(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	if err := sb.WriteFile("default.yaml", []byte(defaultYAML), 0o644); err != nil {
		t.Fatalf("WriteFile default: %v", err)
	}
	if err := sb.WriteFile("prod.yaml", []byte(prodOverlayYAML), 0o644); err != nil {
		t.Fatalf("WriteFile prod: %v", err)
	}

	cfg, err := config.LoadFromDir(sb.Root, "prod")
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected overlay to set logging.level=warn, got %q", cfg.Logging.Level)
	}
	if cfg.HTTP.ListenAddr != ":443" {
		t.Fatalf("expected overlay to set http.listen_addr=:443, got %q", cfg.HTTP.ListenAddr)
	}
	// Fields the overlay doesn't touch must still come from default.yaml.
	if cfg.VM.Backend != "singlepass" {
		t.Fatalf("expected backend to survive from default.yaml, got %q", cfg.VM.Backend)
	}
}

func TestLoadFromDirMissingFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	if _, err := config.LoadFromDir(sb.Root, ""); err == nil {
		t.Fatal("expected an error when default.yaml is absent")
	}
}
