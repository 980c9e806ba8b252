package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

type validatedConfig struct {
	Port int `yaml:"port"`
}

func (c *validatedConfig) Validate() error {
	if c.Port <= 0 {
		return os.ErrInvalid
	}
	return nil
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTemp(t, "name: marginalia\nport: 8080\n")
	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "marginalia" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("MARGINALIA_TEST_NAME", "expanded")
	path := writeTemp(t, "name: ${MARGINALIA_TEST_NAME}\nport: 1\n")
	var cfg testConfig
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "expanded" {
		t.Errorf("name = %q, want env expansion", cfg.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTemp(t, "name: [unclosed\n")
	var cfg testConfig
	if err := Load(path, &cfg); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := writeTemp(t, "port: 0\n")
	var cfg validatedConfig
	if err := Load(path, &cfg); err == nil {
		t.Error("expected validation failure")
	}

	path = writeTemp(t, "port: 9090\n")
	if err := Load(path, &cfg); err != nil {
		t.Errorf("valid config failed: %v", err)
	}
}
