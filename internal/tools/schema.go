// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

// =============================================================================
// PROVIDER TOOL SCHEMA
// =============================================================================

// FunctionTool is the OpenAI-compatible tool declaration.
type FunctionTool struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema describes one callable function.
type FunctionSchema struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  FunctionParameters `json:"parameters"`
}

// FunctionParameters is a JSON Schema object.
type FunctionParameters struct {
	Type       string                      `json:"type"`
	Properties map[string]FunctionProperty `json:"properties"`
	Required   []string                    `json:"required,omitempty"`
}

// FunctionProperty is one JSON Schema property.
type FunctionProperty struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// ToFunctionTool converts a Tool to the provider's JSON Schema format:
//
//	{
//	  "type": "function",
//	  "function": {
//	    "name": "web_search",
//	    "description": "...",
//	    "parameters": {
//	      "type": "object",
//	      "properties": {"query": {"type": "string", "description": "..."}},
//	      "required": ["query"]
//	    }
//	  }
//	}
func ToFunctionTool(tool Tool) FunctionTool {
	properties := make(map[string]FunctionProperty, len(tool.Schema.Parameters))
	var required []string

	for _, param := range tool.Schema.Parameters {
		properties[param.Name] = FunctionProperty{
			Type:        param.Type,
			Description: param.Description,
			Default:     param.Default,
			Enum:        param.Enum,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	return FunctionTool{
		Type: "function",
		Function: FunctionSchema{
			Name:        tool.Name,
			Description: tool.GetShortDescription(),
			Parameters: FunctionParameters{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		},
	}
}

// ToFunctionTools converts a tool selection.
func ToFunctionTools(selected []Tool) []FunctionTool {
	if len(selected) == 0 {
		return nil
	}
	out := make([]FunctionTool, len(selected))
	for i, t := range selected {
		out[i] = ToFunctionTool(t)
	}
	return out
}
