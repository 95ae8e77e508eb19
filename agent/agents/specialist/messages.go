package specialist

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// ToSchemaMessages converts stored history into eino messages. Tool-use blocks
// become assistant tool calls and tool-result blocks become tool messages.
func ToSchemaMessages(history []contractx.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		var calls []schema.ToolCall
		var results []*schema.Message
		for _, block := range m.Content {
			switch {
			case block.ToolUse != nil:
				args, _ := json.Marshal(block.ToolUse.Input)
				calls = append(calls, schema.ToolCall{
					ID:   block.ToolUse.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(args),
					},
				})
			case block.ToolResult != nil:
				results = append(results, schema.ToolMessage(block.ToolResult.Content, block.ToolResult.ToolUseID))
			}
		}

		text := m.JoinedText()
		switch m.Role {
		case contractx.RoleAssistant:
			if text != "" || len(calls) > 0 {
				out = append(out, schema.AssistantMessage(text, calls))
			}
		default:
			if text != "" {
				out = append(out, schema.UserMessage(text))
			}
		}
		out = append(out, results...)
	}
	return out
}
