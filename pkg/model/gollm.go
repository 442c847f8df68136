package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"

	"github.com/jg-phare/taskcore/pkg/agent"
	"github.com/jg-phare/taskcore/pkg/types"
)

// client is one provider/model pair. stream is nil when the provider
// cannot stream.
type client struct {
	generate func(ctx context.Context, system, prompt string) (string, error)
	stream   func(ctx context.Context, system, prompt string, onToken func(string)) (string, error)
}

// Gollm implements agent.Model over gollm. Tools are offered through the
// system prompt and calls are read back from a JSON array in the reply.
type Gollm struct {
	cfg       Config
	logger    *slog.Logger
	newClient func(provider, model string) (client, error)

	mu      sync.Mutex
	clients map[string]client
}

// NewGollm creates a gollm-backed model. Clients are created lazily per
// "provider/model" name.
func NewGollm(cfg Config) *Gollm {
	cfg.setDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Gollm{cfg: cfg, logger: cfg.Logger, clients: make(map[string]client)}
	g.newClient = g.newGollmClient
	return g
}

var _ agent.Model = (*Gollm)(nil)

// Complete runs one completion. Text is streamed through onChunk only when
// no tools are offered, since a tool-calling reply ends in JSON that must
// not reach the response.
func (g *Gollm) Complete(ctx context.Context, req agent.Request, onChunk func(string)) (agent.Response, error) {
	name := req.Model
	if name == "" {
		name = g.cfg.Model
	}
	if name == "" {
		return agent.Response{}, ErrEmptyModel
	}
	provider, m := splitModel(name, g.cfg.Provider)
	c, err := g.client(provider, m)
	if err != nil {
		return agent.Response{}, err
	}

	system := renderSystem(req.System, req.Tools)
	prompt := renderPrompt(req.Messages)

	var out string
	if len(req.Tools) == 0 && c.stream != nil && onChunk != nil {
		streamed := false
		err = withRetry(ctx, g.cfg.Retry, func(ctx context.Context) error {
			var e error
			out, e = c.stream(ctx, system, prompt, func(tok string) {
				streamed = true
				onChunk(tok)
			})
			e = classify(provider, e)
			var ce *Error
			if streamed && errors.As(e, &ce) {
				ce.Retryable = false
			}
			return e
		})
	} else {
		err = withRetry(ctx, g.cfg.Retry, func(ctx context.Context) error {
			var e error
			out, e = c.generate(ctx, system, prompt)
			return classify(provider, e)
		})
	}
	if err != nil {
		g.logger.Warn("completion failed", "model", name, "error", err)
		return agent.Response{}, err
	}

	resp := agent.Response{Text: out}
	if len(req.Tools) > 0 {
		resp.Text, resp.ToolCalls = parseToolCalls(out)
	}
	resp.Usage = types.Usage{
		InputTokens:  estimateTokens(system) + estimateTokens(prompt),
		OutputTokens: estimateTokens(out),
	}
	resp.Usage.Cost = Cost(name, resp.Usage)
	return resp, nil
}

func (g *Gollm) client(provider, m string) (client, error) {
	key := provider + "/" + m
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	c, err := g.newClient(provider, m)
	if err != nil {
		return client{}, err
	}
	g.clients[key] = c
	return c, nil
}

func (g *Gollm) newGollmClient(provider, m string) (client, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(m),
		gollm.SetMaxTokens(g.cfg.MaxTokens),
		gollm.SetTemperature(g.cfg.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if g.cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(g.cfg.APIKey))
	}
	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return client{}, fmt.Errorf("creating %s/%s client: %w", provider, m, err)
	}

	build := func(system, text string) *gollm.Prompt {
		var popts []gollm.PromptOption
		if system != "" {
			popts = append(popts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
		}
		return gollm.NewPrompt(text, popts...)
	}

	c := client{
		generate: func(ctx context.Context, system, prompt string) (string, error) {
			return llm.Generate(ctx, build(system, prompt))
		},
	}
	if llm.SupportsStreaming() {
		c.stream = func(ctx context.Context, system, prompt string, onToken func(string)) (string, error) {
			s, err := llm.Stream(ctx, build(system, prompt))
			if err != nil {
				return "", err
			}
			defer s.Close()

			var full strings.Builder
			for {
				tok, err := s.Next(ctx)
				if err == io.EOF {
					return full.String(), nil
				}
				if err != nil {
					return full.String(), err
				}
				if tok == nil || tok.Text == "" {
					continue
				}
				full.WriteString(tok.Text)
				onToken(tok.Text)
			}
		}
	}
	return c, nil
}
