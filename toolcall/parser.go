// Package toolcall extracts tool invocations from free-form model output.
//
// Models without native function calling describe tool use in several
// textual encodings. A Parser tries a fixed cascade of grammars and keeps
// the result of the first grammar that finds anything; later grammars are
// not consulted. Parsing never fails: text with no recognizable call
// yields no invocations.
package toolcall

import (
	"encoding/json"
	"maps"
	"strings"
)

// Invocation is one parsed request to run a tool.
type Invocation struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// Grammar recognizes one encoding of tool calls.
type Grammar interface {
	Name() string
	// TryParse returns every invocation in text, in order of appearance,
	// and whether the grammar matched at all.
	TryParse(text string) ([]Invocation, bool)
}

// Match is the outcome of a cascade run.
type Match struct {
	// Grammar names the grammar that produced the invocations, empty when
	// nothing matched.
	Grammar     string
	Invocations []Invocation
}

// Parser runs grammars in priority order.
type Parser struct {
	grammars []Grammar
}

// DefaultGrammars returns the standard cascade, highest priority first.
func DefaultGrammars() []Grammar {
	return []Grammar{
		TagGrammar{},
		FileListGrammar{},
		FunctionCallsGrammar{},
		JSONGrammar{},
		TerseGrammar{},
	}
}

// NewParser returns a parser over grammars. With none it uses
// DefaultGrammars.
func NewParser(grammars ...Grammar) *Parser {
	if len(grammars) == 0 {
		grammars = DefaultGrammars()
	}
	return &Parser{grammars: grammars}
}

// Parse returns the invocations found by the first grammar that finds any.
func (p *Parser) Parse(text string) []Invocation {
	return p.ParseDetailed(text).Invocations
}

// ParseDetailed is Parse plus the name of the matching grammar.
func (p *Parser) ParseDetailed(text string) Match {
	for _, grammar := range p.grammars {
		if found, ok := grammar.TryParse(text); ok && len(found) > 0 {
			return Match{Grammar: grammar.Name(), Invocations: found}
		}
	}
	return Match{Invocations: []Invocation{}}
}

// Grammars lists the grammar names in cascade order.
func (p *Parser) Grammars() []string {
	names := make([]string, 0, len(p.grammars))
	for _, grammar := range p.grammars {
		names = append(names, grammar.Name())
	}
	return names
}

var defaultParser = NewParser()

// Parse runs the default cascade over text.
func Parse(text string) []Invocation {
	return defaultParser.Parse(text)
}

// decodeLoose returns raw decoded as JSON, or raw itself when it is not
// valid JSON.
func decodeLoose(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func newInvocation(name string, params map[string]any) (Invocation, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Invocation{}, false
	}
	if params == nil {
		params = map[string]any{}
	}
	return Invocation{Name: name, Parameters: maps.Clone(params)}, true
}
