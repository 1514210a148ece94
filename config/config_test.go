package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stab-keeper.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.MinimumMint != "1" {
		t.Fatalf("unexpected minimum mint %q", cfg.MinimumMint)
	}
	if cfg.LiquidationLiquidationFine != "0.10" || cfg.StabilisLiquidationFine != "0.05" {
		t.Fatalf("unexpected fines %q / %q", cfg.LiquidationLiquidationFine, cfg.StabilisLiquidationFine)
	}
	if cfg.ForceMintCRMultiplier != "3" {
		t.Fatalf("unexpected multiplier %q", cfg.ForceMintCRMultiplier)
	}
	if cfg.NumberOfCachedPrices != 50 {
		t.Fatalf("unexpected cache size %d", cfg.NumberOfCachedPrices)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stab-keeper.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("seed default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.MaxVectorLength != 100 {
		t.Fatalf("unexpected max vector length %d", cfg.MaxVectorLength)
	}
}

func TestDecimalParsesConfiguredValues(t *testing.T) {
	d, err := Decimal("0.10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "0.1" {
		t.Fatalf("unexpected value %s", d)
	}
	if _, err := Decimal("not-a-number"); err == nil {
		t.Fatal("expected parse error")
	}
}
