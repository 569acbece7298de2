// Package agent implements the per-session agent loop: model calls, tool
// execution, event publication and durable history.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DeskClaw/DeskClaw/internal/bus"
	"github.com/DeskClaw/DeskClaw/internal/provider"
	"github.com/DeskClaw/DeskClaw/internal/store"
	"github.com/DeskClaw/DeskClaw/internal/tools"
)

// Terminal outcome statuses.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Loop-fatal error kinds.
const (
	KindModelUnavailable  = "model_unavailable"
	KindTurnLimitExceeded = "turn_limit_exceeded"
	KindInternal          = "internal"
)

// Outcome is the terminal result of one Run invocation.
type Outcome struct {
	Status    string
	ErrorKind string
	Err       error
}

// Options holds loop tuning knobs.
type Options struct {
	MaxTurns  int
	MaxTokens int
	Retry     RetryConfig
}

// DefaultOptions returns the recommended loop settings.
func DefaultOptions() Options {
	return Options{
		MaxTurns:  100,
		MaxTokens: 4096,
		Retry:     DefaultRetryConfig(),
	}
}

// Loop drives a single session's conversation. One Run call processes one
// user message to completion, cancellation or failure. Runs for the same
// session must not overlap; the session registry guarantees that.
type Loop struct {
	provider provider.LLMProvider
	executor *tools.Executor
	store    *store.Store
	bus      *bus.EventBus
	opts     Options
	log      *slog.Logger
}

// NewLoop creates an agent loop.
func NewLoop(prov provider.LLMProvider, executor *tools.Executor, st *store.Store, eventBus *bus.EventBus, opts Options, logger *slog.Logger) *Loop {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 100
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider: prov,
		executor: executor,
		store:    st,
		bus:      eventBus,
		opts:     opts,
		log:      logger.With("component", "agent"),
	}
}

// Run appends the user message, then alternates model calls and tool
// execution until the model stops requesting tools, the turn ceiling is
// hit, or the caller cancels. Cancellation is observed between iterations
// and between tool calls, never mid-call.
func (l *Loop) Run(ctx context.Context, sess *store.Session, userText string) Outcome {
	userMsg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: userText}
	if err := l.store.AppendMessage(userMsg); err != nil {
		return l.fail(sess, KindInternal, fmt.Errorf("persist user message: %w", err))
	}

	rows, err := l.store.ListMessages(sess.ID)
	if err != nil {
		return l.fail(sess, KindInternal, fmt.Errorf("load history: %w", err))
	}
	history := historyFromRows(rows)
	defs := toolDefinitions(l.executor.Registry())

	for turn := 0; turn < l.opts.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return l.cancelled(sess)
		}

		resp, err := l.chatWithRetry(ctx, sess.ID, &provider.ChatRequest{
			System:    sess.SystemPrompt,
			Messages:  history,
			Tools:     defs,
			Model:     sess.Model,
			MaxTokens: l.opts.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return l.cancelled(sess)
			}
			return l.fail(sess, KindModelUnavailable, err)
		}

		if err := l.store.AppendMessage(assistantRow(sess.ID, resp)); err != nil {
			return l.fail(sess, KindInternal, fmt.Errorf("persist assistant message: %w", err))
		}
		history = append(history, provider.Message{Role: "assistant", Blocks: resp.Blocks})

		uses := resp.ToolUses()
		if len(uses) == 0 {
			l.bus.Publish(sess.ID, bus.EventTurnComplete, map[string]any{"status": StatusCompleted})
			return Outcome{Status: StatusCompleted}
		}

		var resultBlocks []provider.ContentBlock
		for i, use := range uses {
			if ctx.Err() != nil {
				// Remaining invocations get cancellation markers so the
				// persisted history stays well formed.
				l.persistCancelledResults(sess.ID, uses[i:])
				return l.cancelled(sess)
			}
			l.bus.Publish(sess.ID, bus.EventToolStarted, map[string]any{
				"tool":        use.ToolName,
				"tool_use_id": use.ToolUseID,
				"input":       use.ToolInput,
			})

			res := l.executor.Execute(ctx, use.ToolName, use.ToolInput)
			if res.IsError() {
				l.log.Warn("tool failed", "session", sess.ID, "tool", use.ToolName, "kind", res.ErrorKind)
			}
			if err := l.persistToolResult(sess.ID, use, res); err != nil {
				return l.fail(sess, KindInternal, err)
			}
			l.bus.Publish(sess.ID, bus.EventToolResult, map[string]any{
				"tool":        use.ToolName,
				"tool_use_id": use.ToolUseID,
				"result":      res,
			})
			resultBlocks = append(resultBlocks, provider.ToolResultBlock(use.ToolUseID, res.Text(), res.IsError()))
		}
		history = append(history, provider.Message{Role: "user", Blocks: resultBlocks})
	}

	return l.fail(sess, KindTurnLimitExceeded,
		fmt.Errorf("turn limit of %d reached without completion", l.opts.MaxTurns))
}

// chatWithRetry calls the model, streaming partials to the bus, retrying
// transient failures with backoff. A retried stream may re-publish partials
// already seen; subscribers treat assistant_partial as best-effort.
func (l *Loop) chatWithRetry(ctx context.Context, sessionID string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return retry(ctx, l.opts.Retry, provider.IsRetryable, func() (*provider.ChatResponse, error) {
		if streamer, ok := l.provider.(provider.Streamer); ok {
			return streamer.ChatStream(ctx, req, func(text string) {
				l.bus.Publish(sessionID, bus.EventAssistantPartial, map[string]any{"text": text})
			})
		}
		resp, err := l.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if text := resp.Text(); text != "" {
			l.bus.Publish(sessionID, bus.EventAssistantPartial, map[string]any{"text": text})
		}
		return resp, nil
	})
}

func (l *Loop) persistToolResult(sessionID string, use provider.ContentBlock, res tools.ToolResult) error {
	input, _ := json.Marshal(use.ToolInput)
	result, _ := json.Marshal(res)
	row := &store.Message{
		SessionID:  sessionID,
		Role:       store.RoleTool,
		ToolName:   use.ToolName,
		ToolUseID:  use.ToolUseID,
		ToolInput:  string(input),
		ToolResult: string(result),
	}
	if err := l.store.AppendMessage(row); err != nil {
		return fmt.Errorf("persist tool result: %w", err)
	}
	return nil
}

func (l *Loop) persistCancelledResults(sessionID string, uses []provider.ContentBlock) {
	for _, use := range uses {
		res := tools.ToolResult{ErrorKind: "cancelled", Error: "cancelled before execution"}
		if err := l.persistToolResult(sessionID, use, res); err != nil {
			l.log.Error("persist cancellation marker", "session", sessionID, "error", err)
			return
		}
	}
}

func (l *Loop) cancelled(sess *store.Session) Outcome {
	l.bus.Publish(sess.ID, bus.EventTurnComplete, map[string]any{"status": StatusCancelled})
	return Outcome{Status: StatusCancelled}
}

// fail persists an error message, publishes an error event, and returns a
// failed outcome. A failed turn never crashes the process or the session.
func (l *Loop) fail(sess *store.Session, kind string, err error) Outcome {
	l.log.Error("turn failed", "session", sess.ID, "kind", kind, "error", err)
	row := &store.Message{
		SessionID: sess.ID,
		Role:      store.RoleAssistant,
		Content:   fmt.Sprintf("Error (%s): %v", kind, err),
	}
	if perr := l.store.AppendMessage(row); perr != nil {
		l.log.Error("persist error message", "session", sess.ID, "error", perr)
	}
	l.bus.Publish(sess.ID, bus.EventError, map[string]any{"kind": kind, "error": err.Error()})
	return Outcome{Status: StatusFailed, ErrorKind: kind, Err: err}
}

// toolInvocation is the persisted form of one tool_use block.
type toolInvocation struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// assistantRow flattens a model response into one message row: the text
// content plus all tool invocations serialized into the tool_input column.
func assistantRow(sessionID string, resp *provider.ChatResponse) *store.Message {
	row := &store.Message{
		SessionID: sessionID,
		Role:      store.RoleAssistant,
		Content:   resp.Text(),
	}
	uses := resp.ToolUses()
	if len(uses) > 0 {
		invs := make([]toolInvocation, len(uses))
		for i, use := range uses {
			invs[i] = toolInvocation{ID: use.ToolUseID, Name: use.ToolName, Input: use.ToolInput}
		}
		data, _ := json.Marshal(invs)
		row.ToolName = uses[0].ToolName
		row.ToolUseID = uses[0].ToolUseID
		row.ToolInput = string(data)
	}
	return row
}

// historyFromRows rebuilds the provider-facing conversation from persisted
// rows. Consecutive tool-result rows merge into a single user message, the
// shape the Messages API requires after a multi-tool assistant turn.
func historyFromRows(rows []*store.Message) []provider.Message {
	var out []provider.Message
	for _, row := range rows {
		switch row.Role {
		case store.RoleUser:
			out = append(out, provider.Message{Role: "user", Blocks: []provider.ContentBlock{provider.TextBlock(row.Content)}})

		case store.RoleAssistant:
			var blocks []provider.ContentBlock
			if row.Content != "" {
				blocks = append(blocks, provider.TextBlock(row.Content))
			}
			if row.ToolInput != "" {
				var invs []toolInvocation
				if err := json.Unmarshal([]byte(row.ToolInput), &invs); err == nil {
					for _, inv := range invs {
						blocks = append(blocks, provider.ContentBlock{
							Type:      provider.BlockToolUse,
							ToolUseID: inv.ID,
							ToolName:  inv.Name,
							ToolInput: inv.Input,
						})
					}
				}
			}
			if len(blocks) > 0 {
				out = append(out, provider.Message{Role: "assistant", Blocks: blocks})
			}

		case store.RoleTool:
			var res tools.ToolResult
			json.Unmarshal([]byte(row.ToolResult), &res)
			block := provider.ToolResultBlock(row.ToolUseID, res.Text(), res.IsError())
			if n := len(out); n > 0 && out[n-1].Role == "user" && len(out[n-1].Blocks) > 0 && out[n-1].Blocks[0].Type == provider.BlockToolResult {
				out[n-1].Blocks = append(out[n-1].Blocks, block)
			} else {
				out = append(out, provider.Message{Role: "user", Blocks: []provider.ContentBlock{block}})
			}
		}
	}
	return out
}

// toolDefinitions exposes the registry to the model.
func toolDefinitions(reg *tools.Registry) []provider.ToolDefinition {
	list := reg.List()
	defs := make([]provider.ToolDefinition, len(list))
	for i, t := range list {
		defs[i] = provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		}
	}
	return defs
}
