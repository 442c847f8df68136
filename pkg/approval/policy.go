// Package approval decides whether a tool invocation may run.
package approval

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Decision is a stored approval policy value.
type Decision string

const (
	Always Decision = "always"
	Ask    Decision = "ask"
	Never  Decision = "never"
)

// ParseDecision parses a decision name case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case Always:
		return Always, nil
	case Ask:
		return Ask, nil
	case Never:
		return Never, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// UnmarshalText lets decisions be read straight from configuration.
func (d *Decision) UnmarshalText(text []byte) error {
	v, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Rule applies a decision to every tool key matching a doublestar pattern,
// e.g. "power/*" or "mcp/**".
type Rule struct {
	Pattern  string   `toml:"pattern"`
	Decision Decision `toml:"decision"`
}

// Policy is the stored approval configuration.
type Policy struct {
	Default Decision            `toml:"default"`
	Tools   map[string]Decision `toml:"tools"`
	Rules   []Rule              `toml:"rules"`
}

// DefaultPolicy asks for everything except read-only tools.
func DefaultPolicy() Policy {
	return Policy{
		Default: Ask,
		Tools: map[string]Decision{
			"power/ask_question": Always,
			"power/file_read":    Always,
			"power/glob":         Always,
			"todo/set_items":     Always,
			"todo/get_items":     Always,
			"subagents/run_task": Always,
		},
	}
}

// Lookup resolves a tool key: exact entry, then the first matching rule,
// then the default. An unset default means Ask.
func (p Policy) Lookup(key string) Decision {
	if d, ok := p.Tools[key]; ok && d != "" {
		return d
	}
	for _, r := range p.Rules {
		if ok, err := doublestar.Match(r.Pattern, key); err == nil && ok {
			return r.Decision
		}
	}
	if p.Default == "" {
		return Ask
	}
	return p.Default
}

// Validate checks every decision and rule pattern.
func (p Policy) Validate() error {
	check := func(where string, d Decision) error {
		if _, err := ParseDecision(string(d)); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		return nil
	}
	if p.Default != "" {
		if err := check("default", p.Default); err != nil {
			return err
		}
	}
	for key, d := range p.Tools {
		if err := check("tools."+key, d); err != nil {
			return err
		}
	}
	for i, r := range p.Rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("rules[%d]: invalid pattern %q", i, r.Pattern)
		}
		if err := check(fmt.Sprintf("rules[%d]", i), r.Decision); err != nil {
			return err
		}
	}
	return nil
}

// Merge overlays o on p: o's default wins when set, tool entries are
// merged key by key, and o's rules are tried before p's.
func (p Policy) Merge(o Policy) Policy {
	out := Policy{Default: p.Default, Tools: make(map[string]Decision, len(p.Tools)+len(o.Tools))}
	if o.Default != "" {
		out.Default = o.Default
	}
	for k, v := range p.Tools {
		out.Tools[k] = v
	}
	for k, v := range o.Tools {
		out.Tools[k] = v
	}
	out.Rules = append(append([]Rule(nil), o.Rules...), p.Rules...)
	return out
}
