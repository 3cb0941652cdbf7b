package conversation

import (
	"strings"

	"github.com/petal-labs/petalmcp/provider"
)

const promptPreamble = `You are a helpful AI assistant that can use various tools to help users.
When using tools, use this format:

[TOOL]tool_name{"parameter1": "value1", "parameter2": "value2"}[/TOOL]

For example, to list files in the current directory:
[TOOL]get_local_file_list{"path": "."}[/TOOL]

Make sure to always include all required parameters for tools.

Available tools:
`

// BuildSystemPrompt renders the tool catalog into the default system
// prompt. The output depends only on tools, in the order given.
func BuildSystemPrompt(tools []provider.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	for _, tool := range tools {
		b.WriteString("- ")
		b.WriteString(tool.Name)
		b.WriteString(": ")
		b.WriteString(tool.Description)
		b.WriteString("\n")
		if required := tool.Required(); len(required) > 0 {
			b.WriteString("  Required parameters: ")
			b.WriteString(strings.Join(required, ", "))
			b.WriteString("\n")
		}
		for _, p := range tool.Params {
			b.WriteString("  - ")
			b.WriteString(p.Name)
			b.WriteString(" (")
			b.WriteString(p.Type)
			b.WriteString("): ")
			b.WriteString(p.Description)
			b.WriteString("\n")
		}
	}
	return b.String()
}
