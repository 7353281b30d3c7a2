package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// TurnRequest is everything the runtime needs to produce one agent reply.
type TurnRequest struct {
	Mode    Mode
	TripID  string
	History []Message
}

// Hooks receive runtime output as it is produced. A non-nil error from any
// hook aborts the run, which is how transport failures and cancellation
// stop token consumption.
type Hooks struct {
	Token      func(token string) error
	ToolCall   func(name string, arguments json.RawMessage) error
	ToolResult func(name, result string, success bool) error
}

// Completion is the finished output of one turn.
type Completion struct {
	Text             string
	Usage            TokenUsage
	Cost             float64
	ItineraryUpdated bool
	SegmentsModified int
}

// Runtime produces agent replies for session turns. Implementations stream
// tokens and tool events through the hooks and return the assembled result.
type Runtime interface {
	Run(ctx context.Context, req TurnRequest, hooks Hooks) (*Completion, error)
}

// ToolSpec describes one capability offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolOutcome is the result of executing a tool call.
type ToolOutcome struct {
	Content          string
	ItineraryUpdated bool
	SegmentsModified int
}

// Toolset is the capability set bound to one turn.
type Toolset interface {
	Specs() []ToolSpec
	Call(ctx context.Context, name string, arguments json.RawMessage) (ToolOutcome, error)
}

// ToolProvider yields the toolset for a session's mode and trip. A nil
// toolset means the turn runs without tools.
type ToolProvider interface {
	ToolsFor(mode Mode, tripID string) Toolset
}

const (
	// Bound on model round-trips within one turn. Each tool round costs a
	// full request; a run that has not settled by then is broken.
	maxToolRounds = 6

	historyLimit = 20
)

// modelPricing is USD per million tokens.
type modelPricing struct {
	input  float64
	output float64
}

var pricing = map[string]modelPricing{
	"gpt-5":      {input: 1.25, output: 10.0},
	"gpt-5-mini": {input: 0.25, output: 2.0},
	"gpt-5-nano": {input: 0.05, output: 0.4},
}

// OpenAIRuntime drives turns through the OpenAI chat completions streaming
// API, executing tool calls between rounds.
type OpenAIRuntime struct {
	client openai.Client
	model  string
	tools  ToolProvider
	logger *slog.Logger
}

func NewOpenAIRuntime(apiKey, model string, tools ToolProvider, logger *slog.Logger) *OpenAIRuntime {
	return &OpenAIRuntime{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		tools:  tools,
		logger: logger,
	}
}

func (r *OpenAIRuntime) Run(ctx context.Context, req TurnRequest, hooks Hooks) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:    r.model,
		Messages: buildMessages(req),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	var toolset Toolset
	if r.tools != nil {
		toolset = r.tools.ToolsFor(req.Mode, req.TripID)
	}
	if toolset != nil {
		for _, spec := range toolset.Specs() {
			params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.Parameters),
				},
			})
		}
	}

	completion := &Completion{}
	var text strings.Builder

	for round := 0; round < maxToolRounds; round++ {
		acc := openai.ChatCompletionAccumulator{}
		stream := r.client.Chat.Completions.NewStreaming(ctx, params)

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					text.WriteString(delta)
					if hooks.Token != nil {
						if err := hooks.Token(delta); err != nil {
							stream.Close()
							return nil, err
						}
					}
				}
			}
			if call, ok := acc.JustFinishedToolCall(); ok && hooks.ToolCall != nil {
				if err := hooks.ToolCall(call.Name, json.RawMessage(call.Arguments)); err != nil {
					stream.Close()
					return nil, err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}

		completion.Usage.add(TokenUsage{
			Input:  acc.Usage.PromptTokens,
			Output: acc.Usage.CompletionTokens,
		})

		if len(acc.Choices) == 0 {
			return nil, errors.New("model returned no choices")
		}
		msg := acc.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			completion.Text = text.String()
			completion.Cost = estimateCost(r.model, completion.Usage)
			return completion, nil
		}
		if toolset == nil {
			return nil, errors.New("model requested tools but none are bound")
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			name := call.Function.Name
			result, outcome, callErr := r.execTool(ctx, toolset, name, call.Function.Arguments)
			if hooks.ToolResult != nil {
				if err := hooks.ToolResult(name, result, callErr == nil); err != nil {
					return nil, err
				}
			}
			completion.ItineraryUpdated = completion.ItineraryUpdated || outcome.ItineraryUpdated
			completion.SegmentsModified += outcome.SegmentsModified
			params.Messages = append(params.Messages, openai.ToolMessage(result, call.ID))
		}
	}

	return nil, fmt.Errorf("turn did not settle after %d tool rounds", maxToolRounds)
}

// execTool runs one tool call. A failing tool does not abort the turn: the
// error text is fed back to the model so it can recover or apologize.
func (r *OpenAIRuntime) execTool(ctx context.Context, toolset Toolset, name, arguments string) (string, ToolOutcome, error) {
	outcome, err := toolset.Call(ctx, name, json.RawMessage(arguments))
	if err != nil {
		r.logger.Warn("assistant tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("tool error: %s", err.Error()), ToolOutcome{}, err
	}
	return outcome.Content, outcome, nil
}

// buildMessages converts session history into chat completion params,
// prepending the mode's system prompt and truncating old history the same
// way the non-agent assistant endpoint does.
func buildMessages(req TurnRequest) []openai.ChatCompletionMessageParamUnion {
	history := req.History
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(req.Mode)),
	}
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

func estimateCost(model string, usage TokenUsage) float64 {
	p, ok := pricing[model]
	if !ok {
		p = pricing["gpt-5-mini"]
	}
	return float64(usage.Input)*p.input/1e6 + float64(usage.Output)*p.output/1e6
}
