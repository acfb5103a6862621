package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmemo.ini")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp ini: %v", err)
	}
	return path
}

func TestDefaultIsUsableWithoutLoad(t *testing.T) {
	cfg := Default()
	if cfg.Worker.Workers == 0 {
		t.Error("Default() worker count should be non-zero")
	}
	if cfg.Webserver.Port == 0 {
		t.Error("Default() webserver port should be non-zero")
	}
}

func TestLoadBrokerSection(t *testing.T) {
	path := writeTempIni(t, `
[broker]
name = redis
url = cache.example.com
port = 6380
db = 2
result_expires = 12h

[worker]
workers = 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.URL != "cache.example.com" {
		t.Errorf("Broker.URL = %q, want cache.example.com", cfg.Broker.URL)
	}
	if cfg.Broker.Port != 6380 {
		t.Errorf("Broker.Port = %d, want 6380", cfg.Broker.Port)
	}
	if cfg.Worker.Workers != 8 {
		t.Errorf("Worker.Workers = %d, want 8", cfg.Worker.Workers)
	}
}

func TestLoadRejectsLegacyRedisSection(t *testing.T) {
	path := writeTempIni(t, `
[redis]
url = localhost
port = 6379
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load with a [redis] section should fail")
	}
}

func TestLoadLocalMounts(t *testing.T) {
	path := writeTempIni(t, `
[localmount_.scratch]
root = /tmp/scratch

[localmount_.archive]
root = /mnt/archive
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalMounts["scratch"].Root != "/tmp/scratch" {
		t.Errorf("LocalMounts[scratch].Root = %q", cfg.LocalMounts["scratch"].Root)
	}
	if cfg.LocalMounts["archive"].Root != "/mnt/archive" {
		t.Errorf("LocalMounts[archive].Root = %q", cfg.LocalMounts["archive"].Root)
	}
}

func TestGetReturnsSingletonAfterLoad(t *testing.T) {
	path := writeTempIni(t, `
[worker]
workers = 42
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if Get().Worker.Workers != 42 {
		t.Errorf("Get().Worker.Workers = %d, want 42", Get().Worker.Workers)
	}
}

func TestAppConfigAllowed(t *testing.T) {
	app := AppConfig{AllowedImports: []string{`^pkg\.tasks\..*$`}}
	if !app.Allowed("pkg.tasks.resize") {
		t.Error("Allowed() should match pkg.tasks.resize")
	}
	if app.Allowed("pkg.other.resize") {
		t.Error("Allowed() should not match pkg.other.resize")
	}
}
