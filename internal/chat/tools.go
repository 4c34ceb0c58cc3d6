package chat

type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinitions lists the specialist tools offered to the supervisor model.
// Each tool forwards a self-contained request to one domain specialist.
var ToolDefinitions = []ToolDefinition{
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "billing_tool",
			Description: "Route a billing question to the billing specialist: invoices, payments, pricing, contracts, purchase orders, and revenue.",
			Parameters: toolParams(
				map[string]any{
					"request": map[string]any{
						"type":        "string",
						"description": "The self-contained billing question to forward.",
					},
				},
				[]string{"request"},
			),
		},
	},
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "technical_tool",
			Description: "Route a technical question to the technical specialist: specifications, manuals, troubleshooting, maintenance, and service bulletins.",
			Parameters: toolParams(
				map[string]any{
					"request": map[string]any{
						"type":        "string",
						"description": "The self-contained technical question to forward.",
					},
				},
				[]string{"request"},
			),
		},
	},
	{
		Type: "function",
		Function: ToolFunction{
			Name:        "policy_tool",
			Description: "Route a policy question to the policy specialist: regulations, compliance, FAA/EASA/DFARS requirements, governance, and support policies.",
			Parameters: toolParams(
				map[string]any{
					"request": map[string]any{
						"type":        "string",
						"description": "The self-contained policy question to forward.",
					},
				},
				[]string{"request"},
			),
		},
	},
}

func toolParams(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
