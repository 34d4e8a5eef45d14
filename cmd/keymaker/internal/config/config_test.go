package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "keymaker.key")
	if err := os.WriteFile(keyPath, []byte("sealed-key-placeholder"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
identity:
  key_file: "keymaker.key"
state:
  records_dir: "records"
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Identity.KeyFile != keyPath {
		t.Fatalf("expected resolved key path %q, got %q", keyPath, cfg.Identity.KeyFile)
	}
	wantRecords := filepath.Join(tmp, "records")
	if cfg.State.RecordsDir != wantRecords {
		t.Fatalf("expected resolved records dir %q, got %q", wantRecords, cfg.State.RecordsDir)
	}
	if *cfg.Runtime.ReaderIndex != 0 {
		t.Fatalf("expected reader index 0, got %d", *cfg.Runtime.ReaderIndex)
	}
}

func TestLoadRejectsMissingReaderIndex(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
identity:
  key_file: "keymaker.key"
state:
  records_dir: "records"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected Load to reject a config missing runtime.reader_index")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
identity:
  key_file: "keymaker.key"
  bogus_field: "x"
state:
  records_dir: "records"
runtime:
  reader_index: 0
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected Load to reject an unknown field")
	}
}
