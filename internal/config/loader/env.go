package loader

import (
	"os"
	"strings"
)

// EnvLoader loads configuration from environment variables. Values are
// kept as strings; the config package converts them to the setting's type.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "MAGICLINE_")
	mapping map[string]string // Env var -> config path; "" skips the variable
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "MAGICLINE_").
func NewEnvLoader(prefix string) *EnvLoader {
	return NewEnvLoaderWithMapping(prefix, defaultEnvMapping(prefix))
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: mapping,
		environ: os.Environ,
	}
}

// defaultEnvMapping returns the variables whose names don't follow the
// SECTION_KEY convention.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "CONFIG":       "",
		prefix + "MODE":         "interpreter.mode",
		prefix + "SHELL":        "exec.shell",
		prefix + "WORKING_DIR":  "session.working_dir",
		prefix + "HISTORY_PATH": "session.history_path",
	}
}

// Load reads environment variables and returns a configuration map.
// Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		path, mapped := l.mapping[name]
		switch {
		case mapped && path == "":
			continue
		case mapped:
		case strings.HasPrefix(name, l.prefix) && len(name) > len(l.prefix):
			path = l.envToPath(name)
		default:
			continue
		}
		setByPath(config, path, value)
	}

	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// envToPath converts MAGICLINE_EXEC_MAX_PROCESSES to exec.max_processes:
// the first word names the section, the rest the key.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// ConfigPath returns the config file named by the prefix's CONFIG
// variable, or def.
func ConfigPath(prefix, def string) string {
	if val := os.Getenv(prefix + "CONFIG"); val != "" {
		return val
	}
	return def
}
