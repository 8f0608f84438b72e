package facade

import (
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// ToolDescription is one entry of a tool listing, shaped by a detail tier.
type ToolDescription struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Actions     []string          `json:"actions,omitempty"`
	ActionHelp  map[string]string `json:"action_help,omitempty"`
}

// Describe renders the facade table at the requested tier. The micro view
// is always a subset of compact, which covers the same facades as full.
func (t *Table) Describe(tier Tier) []ToolDescription {
	var out []ToolDescription
	for _, s := range t.specs {
		if tier == TierMicro && !s.MicroEligible {
			continue
		}
		d := ToolDescription{
			Name:        s.Name,
			Description: s.Compact,
			Actions:     s.ActionNames(),
		}
		if tier == TierFull {
			d.Description = s.Full
			if len(s.ActionHelp) > 0 {
				d.ActionHelp = s.ActionHelp
			}
		}
		out = append(out, d)
	}
	return out
}

// MCPTools renders the table at the requested tier as MCP tool
// definitions, each with an "action" enum where the facade has one and a
// free-form args object for the selected action's parameters.
func (t *Table) MCPTools(tier Tier) []mcplib.Tool {
	var tools []mcplib.Tool
	for _, d := range t.Describe(tier) {
		opts := []mcplib.ToolOption{
			mcplib.WithDescription(d.Description),
		}
		if len(d.Actions) > 0 {
			actionDesc := "Operation to perform"
			if tier == TierFull && len(d.ActionHelp) > 0 {
				actionDesc = actionHelpText(d)
			}
			opts = append(opts,
				mcplib.WithString("action",
					mcplib.Required(),
					mcplib.Enum(d.Actions...),
					mcplib.Description(actionDesc),
				),
				mcplib.WithObject("args",
					mcplib.Description("Arguments for the selected action"),
				),
			)
		} else {
			opts = append(opts,
				mcplib.WithObject("args",
					mcplib.Description("Arguments for this tool"),
				),
			)
		}
		tools = append(tools, mcplib.NewTool(d.Name, opts...))
	}
	return tools
}

// actionHelpText folds per-action help into the enum description so full
// tier clients see what each action does without a second lookup.
func actionHelpText(d ToolDescription) string {
	text := "Operation to perform:"
	for _, a := range d.Actions {
		help, ok := d.ActionHelp[a]
		if !ok {
			continue
		}
		text += "\n- " + a + ": " + help
	}
	return text
}
