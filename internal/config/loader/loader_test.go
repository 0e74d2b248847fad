package loader

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/magicline.toml", `
[interpreter]
mode = "rewrite"
metrics = true

[exec]
timeout = "5s"
max_processes = 8
`)

	config, err := NewTOMLLoaderWithFS(memfs, "/magicline.toml").Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	interp, ok := config["interpreter"].(map[string]any)
	if !ok {
		t.Fatal("expected interpreter to be a map")
	}
	if interp["mode"] != "rewrite" {
		t.Errorf("mode = %v, want 'rewrite'", interp["mode"])
	}
	if interp["metrics"] != true {
		t.Errorf("metrics = %v, want true", interp["metrics"])
	}

	exec, ok := config["exec"].(map[string]any)
	if !ok {
		t.Fatal("expected exec to be a map")
	}
	if exec["max_processes"] != int64(8) {
		t.Errorf("max_processes = %v (%T), want 8", exec["max_processes"], exec["max_processes"])
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "/nonexistent.toml").Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestTOMLLoader_LoadEmptyPath(t *testing.T) {
	config, err := NewTOMLLoaderWithFS(NewMemFS(), "").Load()
	if err != nil || config != nil {
		t.Errorf("Load() = %v, %v; want nil, nil", config, err)
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/invalid.toml", "[exec\ntimeout = 4\n")

	_, err := NewTOMLLoaderWithFS(memfs, "/invalid.toml").Load()
	if err == nil {
		t.Fatal("expected parse error")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if parseErr.Path != "/invalid.toml" {
		t.Errorf("Path = %q, want '/invalid.toml'", parseErr.Path)
	}
	if parseErr.Line == 0 {
		t.Error("expected a line number")
	}
	if !strings.Contains(err.Error(), "/invalid.toml at line") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	config, err := (&TOMLLoader{}).LoadFromReader(strings.NewReader(`[logging]
level = "debug"
`))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if got := Flatten(config)["logging.level"]; got != "debug" {
		t.Errorf("logging.level = %v, want 'debug'", got)
	}
}

func fakeEnviron(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestEnvLoader_Load(t *testing.T) {
	l := NewEnvLoader("MAGICLINE_")
	l.environ = fakeEnviron(
		"MAGICLINE_MODE=rewrite",
		"MAGICLINE_LOG_LEVEL=debug",
		"MAGICLINE_EXEC_MAX_PROCESSES=4",
		"MAGICLINE_HISTORY_PATH=",
		"MAGICLINE_CONFIG=/etc/magicline.toml",
		"HOME=/root",
		"MAGICLINE_",
	)

	config, err := l.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	flat := Flatten(config)

	want := map[string]any{
		"interpreter.mode":     "rewrite",
		"logging.level":        "debug",
		"exec.max_processes":   "4",
		"session.history_path": "",
	}
	if len(flat) != len(want) {
		t.Errorf("got %d settings, want %d: %v", len(flat), len(want), flat)
	}
	for path, val := range want {
		if got, ok := flat[path]; !ok || got != val {
			t.Errorf("%s = %v (present %v), want %q", path, got, ok, val)
		}
	}
}

func TestEnvLoader_envToPath(t *testing.T) {
	l := NewEnvLoader("MAGICLINE_")

	tests := []struct {
		env      string
		expected string
	}{
		{"MAGICLINE_EXEC_TIMEOUT", "exec.timeout"},
		{"MAGICLINE_EXEC_MAX_PROCESSES", "exec.max_processes"},
		{"MAGICLINE_REWRITE_ERRORS_AS_CODE", "rewrite.errors_as_code"},
		{"MAGICLINE_SIMPLE", "simple"},
	}

	for _, tt := range tests {
		if got := l.envToPath(tt.env); got != tt.expected {
			t.Errorf("envToPath(%q) = %q, want %q", tt.env, got, tt.expected)
		}
	}
}

func TestEnvLoader_AddMapping(t *testing.T) {
	l := NewEnvLoaderWithMapping("MY_", nil)
	l.AddMapping("CUSTOM_VAR", "custom.path")
	l.environ = fakeEnviron("CUSTOM_VAR=custom_value")

	config, _ := l.Load()
	if got := Flatten(config)["custom.path"]; got != "custom_value" {
		t.Errorf("custom.path = %v, want 'custom_value'", got)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("MLTEST_CONFIG", "")
	if got := ConfigPath("MLTEST_", "default.toml"); got != "default.toml" {
		t.Errorf("ConfigPath() = %q, want default", got)
	}
	t.Setenv("MLTEST_CONFIG", "/tmp/x.toml")
	if got := ConfigPath("MLTEST_", "default.toml"); got != "/tmp/x.toml" {
		t.Errorf("ConfigPath() = %q, want /tmp/x.toml", got)
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"exec": map[string]any{"shell": "/bin/sh", "sigil": "!"},
		"lua":  map[string]any{"open_os": false},
	}
	src := map[string]any{
		"exec":    map[string]any{"shell": "/bin/bash"},
		"logging": map[string]any{"level": "warn"},
		"lua":     "replaced",
	}

	flat := Flatten(DeepMerge(dst, src))
	want := map[string]any{
		"exec.shell":    "/bin/bash",
		"exec.sigil":    "!",
		"logging.level": "warn",
		"lua":           "replaced",
	}
	if len(flat) != len(want) {
		t.Errorf("merged = %v", flat)
	}
	for k, v := range want {
		if flat[k] != v {
			t.Errorf("%s = %v, want %v", k, flat[k], v)
		}
	}
}

func TestDeepMerge_NilDst(t *testing.T) {
	got := DeepMerge(nil, map[string]any{"a": int64(1)})
	if got["a"] != int64(1) {
		t.Errorf("DeepMerge(nil, ...) = %v", got)
	}
}
