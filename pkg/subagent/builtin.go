package subagent

// BuiltinProfiles returns the profiles available without any files.
// Global and project files override them by id.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		"general": {
			ID:            "general",
			Name:          "General",
			Description:   "General-purpose agent for researching questions, searching code and executing multi-step work.",
			SystemPrompt:  "You are a sub-agent. Complete the task you are given and reply with a concise final report.",
			ContextMemory: MemoryOff,
			MaxTurns:      DefaultMaxTurns,
		},
		"explore": {
			ID:              "explore",
			Name:            "Explore",
			Description:     "Read-only agent specialized for exploring codebases.",
			SystemPrompt:    "You explore the codebase to answer the question you are given. Do not modify files.",
			Model:           "haiku",
			ContextMemory:   MemoryLastMessage,
			MaxTurns:        DefaultMaxTurns,
			DisallowedTools: []string{"power/file_write", "power/file_edit", "power/bash"},
		},
	}
}
