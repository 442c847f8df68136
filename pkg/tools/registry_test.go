package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(nil)
	assert.Equal(t, []string{
		"power/ask_question", "power/bash", "power/fetch", "power/file_edit", "power/file_read",
		"power/file_write", "power/glob", "power/grep",
		"todo/get_items", "todo/set_items",
	}, r.Keys())

	r = DefaultRegistry(&fakeDelegator{})
	_, ok := r.Get("subagents/run_task")
	assert.True(t, ok)
}

func TestRegistry_Views(t *testing.T) {
	r := DefaultRegistry(&fakeDelegator{})

	only := r.Only([]string{"power/bash", "power/nope"})
	assert.Equal(t, []string{"power/bash"}, only.Keys())

	without := r.Without("subagents/run_task", "todo/get_items", "todo/set_items")
	assert.Equal(t, 8, without.Len())
	assert.Equal(t, 11, r.Len(), "views do not modify the source")

	filtered := r.Filter("todo/*", "power/file_*")
	assert.Equal(t, []string{"power/file_edit", "power/file_read", "power/file_write", "todo/get_items", "todo/set_items"}, filtered.Keys())
}

func TestRegistry_Specs(t *testing.T) {
	specs := NewRegistry(&BashTool{}, &GlobTool{}).Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "power/bash", specs[0].Key)
	assert.NotEmpty(t, specs[0].Description)
	assert.Equal(t, "object", specs[0].Schema["type"])
	assert.Equal(t, "power/glob", specs[1].Key)
}
