package subagent

import "github.com/jg-phare/taskcore/pkg/types"

// modelAliases maps short names to provider-qualified model ids.
var modelAliases = map[string]string{
	"sonnet": "anthropic/claude-sonnet-4-5",
	"haiku":  "anthropic/claude-haiku-4-5",
	"mini":   "openai/gpt-5-mini",
	"nano":   "openai/gpt-5-nano",
}

// ResolveModel picks the main model of a child. A profile may name a model
// id, an alias, or one of the parent's roles: inherit or main, editor,
// weak. A role the parent leaves empty falls back to its main model.
func ResolveModel(profileModel string, parent types.Models) string {
	role := func(m string) string {
		if m == "" {
			return parent.Main
		}
		return m
	}
	switch profileModel {
	case "", "inherit", "main":
		return parent.Main
	case "editor":
		return role(parent.Editor)
	case "weak":
		return role(parent.Weak)
	}
	if full, ok := modelAliases[profileModel]; ok {
		return full
	}
	return profileModel
}
