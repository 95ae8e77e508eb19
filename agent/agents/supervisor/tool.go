package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// SendMessagesTool is injected into the lead's tool set.
const SendMessagesTool = "send_messages"

type outgoingMessage struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type sendMessagesArgs struct {
	Messages []outgoingMessage `json:"messages"`
}

func sendMessagesInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: SendMessagesTool,
		Desc: "Send messages to multiple team members in parallel and receive their answers.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"messages": {
				Type:     schema.Array,
				Desc:     "One message per team member",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"recipient": {Type: schema.String, Desc: "Name of the team member", Required: true},
						"content":   {Type: schema.String, Desc: "Self-contained message for the team member", Required: true},
					},
				},
			},
		}),
	}
}

func parseSendMessages(arguments string) ([]outgoingMessage, error) {
	var args sendMessagesArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("%w: invalid %s arguments: %v", contractx.ErrSchemaViolation, SendMessagesTool, err)
	}
	out := make([]outgoingMessage, 0, len(args.Messages))
	for _, m := range args.Messages {
		m.Recipient = strings.TrimSpace(m.Recipient)
		m.Content = strings.TrimSpace(m.Content)
		if m.Recipient == "" || m.Content == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s carries no messages", contractx.ErrSchemaViolation, SendMessagesTool)
	}
	return out, nil
}
