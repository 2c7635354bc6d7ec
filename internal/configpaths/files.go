// Package configpaths resolves platform configuration directories and
// config file candidate paths for the bridge.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "nso-gc-bridge"

// DefaultConfigDir returns the platform-specific configuration directory.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, appDirName), nil
		}
		return "", errors.New("AppData not set")
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, "Library", "Application Support", appDirName), nil
		}
		return "", errors.New("HOME not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", appDirName), nil
		}
		return "", errors.New("HOME not set")
	}
}

// EnsureDir ensures the directory for a given file path exists.
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0o755)
}

// ConfigCandidatePaths builds candidate config file paths per format. If
// userPath is provided it is prioritized and routed to the matching loader
// by extension.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	add := func(slice *[]string, p string) { *slice = append(*slice, p) }

	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".json":
			add(&jsonPaths, userPath)
		case ".yaml", ".yml":
			add(&yamlPaths, userPath)
		case ".toml":
			add(&tomlPaths, userPath)
		default:
			add(&jsonPaths, userPath)
		}
	}

	bases := []string{appDirName, "config", "bridge"}

	wd, _ := os.Getwd()
	for _, base := range bases {
		add(&jsonPaths, filepath.Join(wd, base+".json"))
		add(&yamlPaths, filepath.Join(wd, base+".yaml"))
		add(&yamlPaths, filepath.Join(wd, base+".yml"))
		add(&tomlPaths, filepath.Join(wd, base+".toml"))
	}

	if dir, err := DefaultConfigDir(); err == nil {
		for _, base := range bases {
			add(&jsonPaths, filepath.Join(dir, base+".json"))
			add(&yamlPaths, filepath.Join(dir, base+".yaml"))
			add(&yamlPaths, filepath.Join(dir, base+".yml"))
			add(&tomlPaths, filepath.Join(dir, base+".toml"))
		}
	}

	if runtime.GOOS != "windows" {
		for _, base := range bases {
			etc := filepath.Join("/etc", appDirName)
			add(&jsonPaths, filepath.Join(etc, base+".json"))
			add(&yamlPaths, filepath.Join(etc, base+".yaml"))
			add(&yamlPaths, filepath.Join(etc, base+".yml"))
			add(&tomlPaths, filepath.Join(etc, base+".toml"))
		}
	}

	return
}
