package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jg-phare/taskcore/pkg/types"
)

// DefaultMaxTurns bounds a step when Config.MaxTurns is zero.
const DefaultMaxTurns = 50

// ErrNoModel is returned when a step is started without a model.
var ErrNoModel = errors.New("no model configured")

// Config configures one agent step.
type Config struct {
	Model     Model
	ModelName string
	System    string
	Tools     []ToolSpec
	MaxTurns  int
	Logger    *slog.Logger
}

// RunStep runs turns until the model stops calling tools, the turn limit
// is reached or ctx is cancelled. Each turn streams into a fresh response
// message; tool calls run sequentially through the host.
func RunStep(ctx context.Context, cfg Config, host Host) (StepResult, error) {
	var res StepResult
	if cfg.Model == nil {
		res.ExitReason = ExitError
		return res, ErrNoModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for {
		if ctx.Err() != nil {
			res.ExitReason = ExitAborted
			return res, ctx.Err()
		}
		if res.Turns >= maxTurns {
			res.ExitReason = ExitMaxTurns
			return res, nil
		}

		resp, respID, err := runTurn(ctx, cfg, host)
		res.LastResponseID = respID
		if err != nil {
			if ctx.Err() != nil {
				res.ExitReason = ExitAborted
				return res, ctx.Err()
			}
			res.ExitReason = ExitError
			return res, fmt.Errorf("model completion: %w", err)
		}
		res.Turns++
		res.Usage = res.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			res.ExitReason = ExitEndTurn
			return res, nil
		}

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				res.ExitReason = ExitAborted
				return res, ctx.Err()
			}
			if call.ID == "" {
				call.ID = types.NewID()
			}
			result := host.InvokeTool(ctx, call)
			res.ToolCalls++
			logger.Debug("tool finished", "tool", call.Key(), "call_id", call.ID, "error", result.IsError)
		}
	}
}

// runTurn streams one completion into a new response message. The message
// is completed even when the model fails so partial content is kept.
func runTurn(ctx context.Context, cfg Config, host Host) (Response, string, error) {
	respID := types.NewID()
	req := Request{
		System:   cfg.System,
		Messages: BuildMessages(host.History()),
		Tools:    cfg.Tools,
		Model:    cfg.ModelName,
	}

	streamed := false
	resp, err := cfg.Model.Complete(ctx, req, func(chunk string) {
		if chunk == "" {
			return
		}
		streamed = true
		_ = host.ProcessStreamChunk(ctx, respID, chunk)
	})
	if err != nil {
		if streamed {
			_ = host.ProcessStreamCompleted(context.WithoutCancel(ctx), respID, nil)
		}
		return resp, respID, err
	}

	if !streamed && resp.Text != "" {
		_ = host.ProcessStreamChunk(ctx, respID, resp.Text)
		streamed = true
	}
	if streamed || len(resp.ToolCalls) == 0 {
		usage := resp.Usage
		_ = host.ProcessStreamCompleted(ctx, respID, &usage)
	}
	return resp, respID, nil
}
