package toolcall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNoGrammarMatches(t *testing.T) {
	for _, text := range []string{
		"",
		"The directory contains three files.",
		"[TOOL]broken{not json}[/TOOL]",
		"<invoke name=\"x\"></invoke> without the outer block",
	} {
		got := Parse(text)
		require.NotNil(t, got, "text %q", text)
		assert.Empty(t, got, "text %q", text)
	}
}

func TestTagGrammar(t *testing.T) {
	got := Parse(`Let me check. [TOOL]search{"query": "go generics", "limit": 3}[/TOOL]`)
	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Name)
	assert.Equal(t, map[string]any{"query": "go generics", "limit": float64(3)}, got[0].Parameters)
}

func TestTagGrammarMultipleInOrder(t *testing.T) {
	got := Parse("[TOOL]first{\"a\":1}[/TOOL]\nthen\n[TOOL] second {\n  \"b\": {\"nested\": true}\n}[/TOOL]")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
	assert.Equal(t, map[string]any{"nested": true}, got[1].Parameters["b"])
}

func TestTagGrammarSkipsMalformedBlockOnly(t *testing.T) {
	got := Parse(`[TOOL]bad{"a":}[/TOOL] [TOOL]good{"b":2}[/TOOL]`)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Name)
}

func TestTagGrammarEmptyParams(t *testing.T) {
	got := Parse("[TOOL]list_tools{}[/TOOL]")
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{}, got[0].Parameters)
}

func TestFileListGrammarSpellings(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "keyword", text: `get_local_file_list(path="./docs")`, want: []string{"./docs"}},
		{name: "positional", text: `call get_local_file_list('src') now`, want: []string{"src"}},
		{name: "object", text: `get_local_file_list({"path": "/tmp"})`, want: []string{"/tmp"}},
		{name: "bare mention", text: "I will use get_local_file_list to look.", want: []string{"."}},
		{name: "keyword beats positional", text: `get_local_file_list(path="a") get_local_file_list("b")`, want: []string{"a"}},
		{name: "all keyword matches", text: `get_local_file_list(path="a") and get_local_file_list(path = 'b')`, want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			require.Len(t, got, len(tt.want))
			for i, path := range tt.want {
				assert.Equal(t, FileListTool, got[i].Name)
				assert.Equal(t, path, got[i].Parameters["path"])
			}
		})
	}
}

func TestFunctionCallsGrammar(t *testing.T) {
	text := `<function_calls>
<invoke name="perplexity_ask">
<parameter name="messages">[{"role": "user", "content": "hi"}]</parameter>
<parameter name="model"> sonar </parameter>
</invoke>
<invoke name="read_file">
<parameter name="path">notes.md</parameter>
<parameter name="limit">20</parameter>
</invoke>
</function_calls>`

	got := Parse(text)
	require.Len(t, got, 2)
	assert.Equal(t, "perplexity_ask", got[0].Name)
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "hi"}}, got[0].Parameters["messages"])
	assert.Equal(t, "sonar", got[0].Parameters["model"])
	assert.Equal(t, "read_file", got[1].Name)
	assert.Equal(t, "notes.md", got[1].Parameters["path"])
	assert.Equal(t, float64(20), got[1].Parameters["limit"])
}

func TestFunctionCallsGrammarNamespaced(t *testing.T) {
	text := strings.NewReplacer("</", "</ns:", "<", "<ns:").Replace(
		`<function_calls><invoke name="search"><parameter name="q">cats</parameter></invoke></function_calls>`,
	)
	text = strings.ReplaceAll(text, "ns:", "antml"+":")
	got := Parse(text)
	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Name)
	assert.Equal(t, "cats", got[0].Parameters["q"])
}

func TestJSONGrammarFencedBlock(t *testing.T) {
	text := "Here you go:\n```json\n{\"type\": \"tool_use\", \"name\": \"search\", \"input\": {\"q\": \"weather\"}}\n```"
	got := Parse(text)
	require.Len(t, got, 1)
	assert.Equal(t, Invocation{Name: "search", Parameters: map[string]any{"q": "weather"}}, got[0])
}

func TestJSONGrammarContentArray(t *testing.T) {
	text := "```json\n{\"content\": [{\"type\": \"text\", \"text\": \"thinking\"}, {\"type\": \"tool_use\", \"name\": \"a\", \"input\": {}}, {\"type\": \"tool_use\", \"name\": \"b\"}]}\n```"
	got := Parse(text)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, map[string]any{}, got[1].Parameters)
}

func TestJSONGrammarBareObject(t *testing.T) {
	text := `Calling {"type": "tool_use", "name": "lookup", "input": {"id": 7}} now`
	got := Parse(text)
	require.Len(t, got, 1)
	assert.Equal(t, "lookup", got[0].Name)
	assert.Equal(t, float64(7), got[0].Parameters["id"])
}

func TestJSONGrammarIgnoresInvalidBlocks(t *testing.T) {
	text := "```json\n{not json}\n```\n```json\n{\"type\": \"tool_use\", \"name\": \"ok\", \"input\": {}}\n```"
	got := Parse(text)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Name)
}

func TestTerseGrammar(t *testing.T) {
	got := Parse(`Tool: weather(city="Seoul", days=3, metric=true, note=plain text)`)
	require.Len(t, got, 1)
	assert.Equal(t, "weather", got[0].Name)
	assert.Equal(t, map[string]any{
		"city":   "Seoul",
		"days":   float64(3),
		"metric": true,
		"note":   "plain text",
	}, got[0].Parameters)
}

func TestTerseGrammarQuotedNumberDecodes(t *testing.T) {
	got := Parse(`Tool: page(n="12")`)
	require.Len(t, got, 1)
	assert.Equal(t, float64(12), got[0].Parameters["n"])
}

func TestTerseGrammarNoArguments(t *testing.T) {
	got := Parse("Tool: list_providers()")
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Parameters)
}

func TestCascadeStopsAtFirstMatchingGrammar(t *testing.T) {
	text := `[TOOL]search{"q":"x"}[/TOOL] and also Tool: other(a=1)`
	match := NewParser().ParseDetailed(text)
	assert.Equal(t, "tag", match.Grammar)
	require.Len(t, match.Invocations, 1)
	assert.Equal(t, "search", match.Invocations[0].Name)
}

func TestCascadeFileListOutranksLaterGrammars(t *testing.T) {
	text := "```json\n{\"type\": \"tool_use\", \"name\": \"get_local_file_list\", \"input\": {\"path\": \"/srv\"}}\n```"
	match := NewParser().ParseDetailed(text)
	assert.Equal(t, "file_list", match.Grammar)
	require.Len(t, match.Invocations, 1)
	assert.Equal(t, ".", match.Invocations[0].Parameters["path"])
}

func TestParseReturnsFreshMaps(t *testing.T) {
	text := `[TOOL]search{"q":"x"}[/TOOL]`
	first := Parse(text)
	first[0].Parameters["q"] = "mutated"
	second := Parse(text)
	assert.Equal(t, "x", second[0].Parameters["q"])
}

func TestCustomCascade(t *testing.T) {
	parser := NewParser(TerseGrammar{})
	assert.Equal(t, []string{"terse"}, parser.Grammars())
	assert.Empty(t, parser.Parse(`[TOOL]search{"q":"x"}[/TOOL]`))
	assert.Len(t, parser.Parse("Tool: ping()"), 1)
}

func TestDefaultGrammarOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"tag", "file_list", "function_calls", "json", "terse"},
		NewParser().Grammars(),
	)
}

func TestGrammarTryParseReportsMatch(t *testing.T) {
	for _, grammar := range DefaultGrammars() {
		t.Run(grammar.Name(), func(t *testing.T) {
			found, ok := grammar.TryParse("plain prose with no calls")
			assert.False(t, ok)
			assert.Empty(t, found)
		})
	}

	found, ok := TerseGrammar{}.TryParse("Tool: ping()")
	assert.True(t, ok)
	require.Len(t, found, 1)
	assert.Equal(t, "ping", found[0].Name)
}
