package provider

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec is how to launch or reach one provider.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// URL selects the HTTP transport instead of a subprocess.
	URL     string
	Headers map[string]string
}

// Validate checks the spec shape without touching the system.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.Command) == "" && strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("%w: %q needs a command or url", ErrInvalidSpec, s.Name)
	}
	if s.Command != "" && s.URL != "" {
		return fmt.Errorf("%w: %q sets both command and url", ErrInvalidSpec, s.Name)
	}
	return nil
}

// Clone returns a deep copy.
func (s Spec) Clone() Spec {
	s.Args = slices.Clone(s.Args)
	s.Env = maps.Clone(s.Env)
	s.Headers = maps.Clone(s.Headers)
	return s
}

func (s Spec) String() string {
	if s.URL != "" {
		return s.Name + " (" + s.URL + ")"
	}
	return s.Name + " (" + strings.TrimSpace(s.Command+" "+strings.Join(s.Args, " ")) + ")"
}
