package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
	if cfg.Backpressure != BackpressureBlock || !cfg.KeepAlive {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func fromEnviron(environ []string) func(*Manager) {
	return func(m *Manager) { m.LoadFromEnviron(EnvPrefix, environ) }
}

func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flash.json")
	data := `{"port": 9000, "workers": 3, "idle_timeout": "2s", "log": {"level": "debug"}, "env": "staging"}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	environ := []string{
		"FLASH_WORKERS=5",
		"FLASH_BACKPRESSURE=reject",
		"FLASH_REQUEST_TIMEOUT=7",
		"OTHER_PORT=1",
	}
	cfg, err := load([]string{"-config", path, "-port", "9100", "-keepalive=false"}, fromEnviron(environ))
	if err != nil {
		t.Fatalf("load() error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"port from flag", cfg.Port, 9100},
		{"workers from env", cfg.Workers, 5},
		{"backpressure from env", cfg.Backpressure, BackpressureReject},
		{"idle from file", cfg.IdleTimeout, 2 * time.Second},
		{"request timeout seconds", cfg.RequestTimeout, 7 * time.Second},
		{"nested level", cfg.LogLevel, "debug"},
		{"env from file", cfg.Env, "staging"},
		{"keepalive from flag", cfg.KeepAlive, false},
		{"default untouched", cfg.MaxHeaderBytes, 64 << 10},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

// TestLoad_ProcessEnv 测试从进程环境变量加载
func TestLoad_ProcessEnv(t *testing.T) {
	t.Setenv("FLASH_PORT", "9200")
	t.Setenv("FLASH_LOG_FORMAT", "console")

	cfg, err := Load([]string{"-workers", "2"})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 9200 || cfg.LogFormat != LogFormatConsole || cfg.Workers != 2 {
		t.Errorf("Unexpected config: port=%d format=%s workers=%d", cfg.Port, cfg.LogFormat, cfg.Workers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		args    []string
		environ []string
	}{
		{[]string{"-port", "70000"}, nil},
		{[]string{"-backpressure", "drop"}, nil},
		{[]string{"-workers", "0"}, nil},
		{[]string{"-log-format", "xml"}, nil},
		{nil, []string{"FLASH_LOG_LEVEL=loud"}},
		{nil, []string{"FLASH_IDLE_TIMEOUT=soon"}},
		{nil, []string{"FLASH_PORT=eighty"}},
		{[]string{"-config", "/nonexistent/flash.json"}, nil},
		{[]string{"-unknown"}, nil},
	}
	for _, c := range cases {
		if _, err := load(c.args, fromEnviron(c.environ)); err == nil {
			t.Errorf("load(%v, %v) should fail", c.args, c.environ)
		}
	}
}

func TestManager_Getters(t *testing.T) {
	m := NewManager()
	m.LoadFromEnviron("FLASH", []string{"FLASH_QUEUE_SIZE=12", "FLASH_KEEPALIVE=off", "FLASH_IDLE_TIMEOUT=1.5"})
	m.Set("host", "localhost")

	if got := m.GetInt("queue.size"); got != 12 {
		t.Errorf("GetInt() = %d", got)
	}
	if m.GetBool("keepalive", true) {
		t.Error("GetBool() should parse off")
	}
	if got := m.GetDuration("IDLE_TIMEOUT"); got != 1500*time.Millisecond {
		t.Errorf("GetDuration() = %s", got)
	}
	if got := m.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("GetString() default = %q", got)
	}
	if len(m.GetAll()) != 4 {
		t.Errorf("GetAll() = %v", m.GetAll())
	}
	m.Delete("host")
	if _, ok := m.Get("host"); ok {
		t.Error("Delete() left the key")
	}
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	log := cfg.NewLogger(&buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("Unexpected log output: %s", out)
	}
}
