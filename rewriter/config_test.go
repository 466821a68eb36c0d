package rewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/novalang/icrewriter/asm"
)

func TestDefaultConfigMatchesSystemVAMD64(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ScratchBaseRegister != asm.R15 {
		t.Errorf("ScratchBaseRegister = %v, want R15", cfg.ScratchBaseRegister)
	}
	for _, r := range cfg.AllocatableRegisters {
		if r == cfg.ScratchBaseRegister {
			t.Errorf("scratch base register %v must not also be allocatable", r)
		}
	}
	if cfg.RefcntOffset == 0 && cfg.ClsOffset == 0 {
		t.Error("expected non-zero default object-header offsets")
	}
}

func TestLoadConfigFallsBackToDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`num_scratch_slots = 64`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NumScratchSlots != 64 {
		t.Errorf("NumScratchSlots = %d, want 64 (explicit override)", cfg.NumScratchSlots)
	}
	if len(cfg.AllocatableRegisters) != len(DefaultConfig().AllocatableRegisters) {
		t.Error("expected allocatable registers to fall back to the default set")
	}
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a nonexistent config file")
	}
}
