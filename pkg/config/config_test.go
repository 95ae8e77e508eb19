package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Addr    string        `envconfig:"ADDR" default:":8080"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
	Debug   bool          `envconfig:"DEBUG"`
}

func TestNewExportsEnvFileWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "CFGTEST_ADDR=:9090\nCFGTEST_DEBUG=true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CFGTEST_DEBUG", "false")
	SetEnvFile(path)
	t.Cleanup(func() {
		SetEnvFile("")
		os.Unsetenv("CFGTEST_ADDR")
	})

	conf, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Addr != ":9090" {
		t.Fatalf("Addr = %q, want value from env file", conf.Addr)
	}
	if conf.Debug {
		t.Fatalf("existing environment must win over the env file")
	}
	if conf.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %v, want default", conf.Timeout)
	}
}

func TestNewFailsOnMissingExplicitFile(t *testing.T) {
	SetEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	t.Cleanup(func() { SetEnvFile("") })

	if _, err := New[sampleConfig]("CFGTEST"); err == nil {
		t.Fatalf("expected an error for a missing env file")
	}
}
