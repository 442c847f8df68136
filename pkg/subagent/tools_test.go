package subagent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jg-phare/taskcore/pkg/types"
)

var parentKeys = []string{
	"power/bash", "power/file_read", "power/file_write", "power/grep",
	"todo/set_items", "todo/get_items", ToolKey,
}

func TestResolveTools(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		disallowed []string
		want       []string
	}{
		{
			name: "inherit all but delegation",
			want: []string{"power/bash", "power/file_read", "power/file_write", "power/grep", "todo/set_items", "todo/get_items"},
		},
		{
			name:    "exact and glob",
			allowed: []string{"power/file_*", "todo/get_items"},
			want:    []string{"power/file_read", "power/file_write", "todo/get_items"},
		},
		{
			name:    "bare group",
			allowed: []string{"todo"},
			want:    []string{"todo/set_items", "todo/get_items"},
		},
		{
			name:       "disallowed after allowed",
			allowed:    []string{"power/**"},
			disallowed: []string{"power/bash", "power/file_write"},
			want:       []string{"power/file_read", "power/grep"},
		},
		{
			name:    "delegation never passes",
			allowed: []string{ToolKey, "power/grep"},
			want:    []string{"power/grep"},
		},
		{
			name:    "unknown tool is not added",
			allowed: []string{"net/ping"},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTools(tt.allowed, tt.disallowed, parentKeys))
		})
	}
}

func TestResolveModel(t *testing.T) {
	parent := types.Models{Main: "parent", Weak: "cheap"}
	assert.Equal(t, "parent", ResolveModel("", parent))
	assert.Equal(t, "parent", ResolveModel("inherit", parent))
	assert.Equal(t, "cheap", ResolveModel("weak", parent))
	assert.Equal(t, "parent", ResolveModel("editor", parent))
	assert.Equal(t, "anthropic/claude-haiku-4-5", ResolveModel("haiku", parent))
	assert.Equal(t, "openai/gpt-4o", ResolveModel("openai/gpt-4o", parent))
}

func TestBuiltinProfiles(t *testing.T) {
	for id, p := range BuiltinProfiles() {
		assert.Equal(t, id, p.ID)
		assert.NotEmpty(t, p.Description, id)
		assert.NotEmpty(t, p.SystemPrompt, id)
		assert.Positive(t, p.MaxTurns, id)
	}
}
