// Package config loads provider declarations from json, yaml or toml files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the provider config looked up in the working
	// directory first.
	DefaultFileName   = "mcp-servers-config.json"
	projectConfigName = "petalmcp.yaml"
	homeConfigName    = "config.yaml"
)

var (
	// ErrNotFound is returned when no configuration file exists.
	ErrNotFound = errors.New("config: no configuration file found")
	// ErrUnknownServer is returned for a name the file does not declare.
	ErrUnknownServer = errors.New("config: unknown server")
)

// File is the configuration document.
type File struct {
	Servers map[string]Server `json:"mcpServers" yaml:"mcpServers" toml:"mcpServers"`

	path string
}

// Server declares one provider.
type Server struct {
	Command  string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args     []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Disabled bool              `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// Path is the file the configuration was read from.
func (f *File) Path() string {
	return f.path
}

// Names returns the enabled server names, sorted.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Servers))
	for name, server := range f.Servers {
		if server.Disabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is declared, enabled or not.
func (f *File) Has(name string) bool {
	_, ok := f.Servers[name]
	return ok
}

// Load reads a configuration file. The format follows the extension:
// .yaml and .yml are YAML, .toml is TOML, everything else is JSON.
func Load(path string) (*File, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return nil, ErrNotFound
	}

	var cfg File
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".toml":
		if _, err := toml.DecodeFile(clean, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	case ".yaml", ".yml":
		data, err := readFile(clean)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	default:
		data, err := readFile(clean)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", clean, err)
		}
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]Server{}
	}
	cfg.path = clean
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return data, nil
}

// Discover finds and loads the configuration, returning ErrNotFound when
// no candidate exists.
func Discover(explicitPath string) (*File, error) {
	path, ok, err := DiscoverPath(explicitPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return Load(path)
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidates := make([]string, 0, 3)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates,
			filepath.Join(cwd, DefaultFileName),
			filepath.Join(cwd, projectConfigName),
		)
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, ".petalmcp", homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}
