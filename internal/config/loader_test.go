package config

import (
	"os"
	"testing"
)

func TestLoadWithFile_AppliesEnvOverrides(t *testing.T) {
	os.Setenv("SEMCORE_EMBEDDER_MODEL", "test-model")
	os.Setenv("SEMCORE_EMBEDDER_DIMENSION", "512")
	defer os.Unsetenv("SEMCORE_EMBEDDER_MODEL")
	defer os.Unsetenv("SEMCORE_EMBEDDER_DIMENSION")

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	if cfg.Embedder.Model != "test-model" {
		t.Errorf("Embedder.Model = %q, want test-model", cfg.Embedder.Model)
	}
	if cfg.Embedder.Dimension != 512 {
		t.Errorf("Embedder.Dimension = %d, want 512", cfg.Embedder.Dimension)
	}
}

func TestLoadWithFile_KeepsDefaultsForUnsetFields(t *testing.T) {
	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	def := Default()
	if cfg.Scanner.MaxFiles != def.Scanner.MaxFiles {
		t.Errorf("Scanner.MaxFiles = %d, want default %d", cfg.Scanner.MaxFiles, def.Scanner.MaxFiles)
	}
}

func TestValidateConfigPath_RejectsOutsideAllowedDirs(t *testing.T) {
	if err := validateConfigPath("/tmp/evil-config.yaml"); err == nil {
		t.Fatal("expected rejection of config path outside allowed directories")
	}
}
