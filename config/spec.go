package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/petal-labs/petalmcp/provider"
)

// Spec converts a declared server into a launch spec. ${VAR} references in
// command, args, env and url are expanded; npx commands get the variables
// that keep npm from prompting.
func (f *File) Spec(name string) (provider.Spec, error) {
	server, ok := f.Servers[name]
	if !ok {
		return provider.Spec{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return server.Spec(name), nil
}

// Specs returns launch specs for every enabled server, in Names order.
func (f *File) Specs() []provider.Spec {
	names := f.Names()
	specs := make([]provider.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, f.Servers[name].Spec(name))
	}
	return specs
}

// Spec converts the declaration into a launch spec named name.
func (s Server) Spec(name string) provider.Spec {
	spec := provider.Spec{
		Name:    name,
		Command: strings.TrimSpace(expandEnvValue(s.Command)),
		URL:     strings.TrimSpace(expandEnvValue(s.URL)),
		Env:     expandStringMap(s.Env),
		Headers: expandStringMap(s.Headers),
	}
	if len(s.Args) > 0 {
		spec.Args = make([]string, 0, len(s.Args))
		for _, arg := range s.Args {
			spec.Args = append(spec.Args, expandEnvValue(arg))
		}
	}
	if filepath.Base(spec.Command) == "npx" {
		if spec.Env == nil {
			spec.Env = map[string]string{}
		}
		spec.Env["NPM_CONFIG_YES"] = "true"
		spec.Env["NPX_FORCE"] = "true"
	}
	return spec
}

// ScriptSpec builds a spec that runs a provider script directly: .py files
// with python, .js files with node. The provider is named after the file,
// up to its first dot. The script must exist and be a regular file.
func ScriptSpec(path string) (provider.Spec, error) {
	clean := strings.TrimSpace(path)
	var command string
	switch {
	case strings.HasSuffix(clean, ".py"):
		command = "python"
	case strings.HasSuffix(clean, ".js"):
		command = "node"
	default:
		return provider.Spec{}, fmt.Errorf("%w: server script %q must be a .py or .js file", provider.ErrInvalidSpec, path)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return provider.Spec{}, fmt.Errorf("%w: server script: %w", provider.ErrInvalidSpec, err)
	}
	if info.IsDir() {
		return provider.Spec{}, fmt.Errorf("%w: server script %q is a directory", provider.ErrInvalidSpec, path)
	}
	name, _, _ := strings.Cut(filepath.Base(clean), ".")
	return provider.Spec{Name: name, Command: command, Args: []string{clean}}, nil
}

func expandStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = expandEnvValue(value)
	}
	return out
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}
