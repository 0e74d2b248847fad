// Package loader reads magicline configuration sources into nested maps.
//
// A TOMLLoader reads magicline.toml, an EnvLoader reads MAGICLINE_*
// environment variables. Both produce map[string]any keyed by section, so
// the sources can be combined with DeepMerge before the config package
// converts them into typed settings.
package loader

import (
	"io/fs"
	"os"
)

// Loader is the interface for configuration sources.
type Loader interface {
	// Load reads configuration from the source and returns a map.
	// Returns nil, nil if the source doesn't exist (not an error).
	Load() (map[string]any, error)
}

// FileSystem is an abstraction for file system operations, so tests can
// use an in-memory file system.
type FileSystem interface {
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// DeepMerge recursively merges src into dst.
// Values in src override values in dst.
// Maps are merged recursively; other types are replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = srcVal
	}
	return dst
}

// Flatten returns the leaves of a nested map keyed by dot-separated path.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten(out, "", m)
	return out
}

func flatten(out map[string]any, prefix string, m map[string]any) {
	for key, val := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(out, path, sub)
			continue
		}
		out[path] = val
	}
}
