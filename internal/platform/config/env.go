package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// envSource layers explicit values over the process environment over a dotenv file.
type envSource struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newEnvSource(options loaderOptions) (envSource, error) {
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return envSource{}, err
	}
	return envSource{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

// EnvironmentValues returns the merged key/value view Load would read from, so callers can
// initialise dependencies (e.g. the secret fetcher) before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv))
	for key, value := range dotenv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func (s envSource) lookup(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s envSource) raw(key string) (string, bool) {
	value, ok := s.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (s envSource) String(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

func (s envSource) Duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.raw(key); ok {
		if d, err := cast.ToDurationE(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s envSource) Int(key string, fallback int) int {
	if value, ok := s.raw(key); ok {
		if parsed, err := cast.ToIntE(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s envSource) Bool(key string, fallback bool) bool {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	if parsed, err := cast.ToBoolE(value); err == nil {
		return parsed
	}
	return fallback
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}
