package subagent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// profileHeader is the YAML block at the top of a profile file.
type profileHeader struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Model           string   `yaml:"model"`
	ContextMemory   string   `yaml:"contextMemory"`
	MaxTurns        int      `yaml:"maxTurns"`
	Color           string   `yaml:"color"`
	EnableTodo      bool     `yaml:"enableTodo"`
	Tools           toolList `yaml:"tools"`
	DisallowedTools toolList `yaml:"disallowedTools"`
}

// toolList accepts "a, b" as well as a YAML sequence.
type toolList []string

func (l *toolList) UnmarshalYAML(node *yaml.Node) error {
	var items []string
	switch node.Kind {
	case yaml.ScalarNode:
		items = strings.Split(node.Value, ",")
	case yaml.SequenceNode:
		if err := node.Decode(&items); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: tools must be a string or a list", node.Line)
	}
	out := (*l)[:0]
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !doublestar.ValidatePattern(item) {
			return fmt.Errorf("line %d: invalid tool pattern %q", node.Line, item)
		}
		out = append(out, item)
	}
	*l = out
	return nil
}

var fence = []byte("---")

// splitFrontmatter separates the leading "---" fenced header from the body.
// Without a complete header the whole input is body.
func splitFrontmatter(data []byte) ([]byte, string) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	first, rest, ok := bytes.Cut(data, []byte("\n"))
	if !ok || !bytes.Equal(first, fence) {
		return nil, string(data)
	}
	var header [][]byte
	for {
		var line []byte
		line, rest, ok = bytes.Cut(rest, []byte("\n"))
		if bytes.Equal(line, fence) {
			return bytes.Join(header, []byte("\n")), string(rest)
		}
		header = append(header, line)
		if !ok {
			return nil, string(data)
		}
	}
}

// ParseFile reads a profile file.
func ParseFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	return ParseContent(data, path)
}

// ParseContent parses a Markdown profile. The header configures the
// profile and the body becomes its system prompt. The id defaults to the
// file name without extension.
func ParseContent(data []byte, filePath string) (*Profile, error) {
	header, body := splitFrontmatter(data)
	if len(header) == 0 {
		return nil, fmt.Errorf("%s: no frontmatter", filePath)
	}

	var h profileHeader
	if err := yaml.Unmarshal(header, &h); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	if h.ID == "" {
		h.ID = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	if strings.ContainsAny(h.ID, "/ \t") {
		return nil, fmt.Errorf("%s: invalid id %q", filePath, h.ID)
	}
	if strings.TrimSpace(h.Description) == "" {
		return nil, fmt.Errorf("%s: description is required", filePath)
	}
	mem, err := ParseContextMemory(h.ContextMemory)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	p := &Profile{
		ID:              h.ID,
		Name:            h.Name,
		Description:     h.Description,
		SystemPrompt:    strings.TrimSpace(body),
		Model:           h.Model,
		ContextMemory:   mem,
		MaxTurns:        h.MaxTurns,
		Color:           h.Color,
		EnableTodo:      h.EnableTodo,
		Tools:           h.Tools,
		DisallowedTools: h.DisallowedTools,
		FilePath:        filePath,
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.MaxTurns <= 0 {
		p.MaxTurns = DefaultMaxTurns
	}
	return p, nil
}
