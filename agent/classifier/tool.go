package classifier

import "github.com/cloudwego/eino/schema"

// AnalyzePromptTool is the function the model must call with its decision.
const AnalyzePromptTool = "analyzePrompt"

const analyzePromptDesc = "Analyze the user input and return the agent best suited to handle it."

func analyzePromptInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: AnalyzePromptTool,
		Desc: analyzePromptDesc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"userinput": {
				Type:     schema.String,
				Desc:     "The original user input",
				Required: true,
			},
			"selected_agent": {
				Type:     schema.String,
				Desc:     "The id of the selected agent, or empty when none fits",
				Required: true,
			},
			"confidence": {
				Type:     schema.Number,
				Desc:     "Confidence level between 0 and 1",
				Required: true,
			},
		}),
	}
}

// analyzePromptParameters is the same schema as raw JSON Schema for SDKs that
// take one.
func analyzePromptParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"userinput": map[string]any{
				"type":        "string",
				"description": "The original user input",
			},
			"selected_agent": map[string]any{
				"type":        "string",
				"description": "The id of the selected agent, or empty when none fits",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Confidence level between 0 and 1",
			},
		},
		"required": []string{"userinput", "selected_agent", "confidence"},
	}
}
