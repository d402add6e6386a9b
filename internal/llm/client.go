package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

// oauthBetaHeader must accompany bearer-token requests.
const oauthBetaHeader = "oauth-2025-04-20"

// Credentials selects how requests are authenticated. AuthToken wins when set.
type Credentials struct {
	APIKey    string
	AuthToken string
}

// Client wraps the Anthropic SDK
type Client struct {
	client   anthropic.Client
	provider config.ProviderConfig
	log      *logging.Logger
}

var _ LLMClient = (*Client)(nil)

// NewClient creates a new LLM client. Retries are owned by RetryingClient,
// so the SDK's own retry loop is disabled.
func NewClient(provider config.ProviderConfig, creds Credentials, log *logging.Logger) *Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if creds.AuthToken != "" {
		opts = append(opts,
			option.WithAuthToken(creds.AuthToken),
			option.WithHeader("anthropic-beta", oauthBetaHeader),
		)
	} else {
		opts = append(opts, option.WithAPIKey(creds.APIKey))
	}
	if provider.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(provider.BaseURL))
	}
	return &Client{
		client:   anthropic.NewClient(opts...),
		provider: provider,
		log:      log.WithPrefix("llm"),
	}
}

// Chat sends a message and returns the response
func (c *Client) Chat(ctx context.Context, req *Request) (*Response, error) {
	params := c.buildParams(req)
	c.log.Debug("sending request",
		logging.Model(string(params.Model)),
		logging.MessageCount(len(req.Messages)),
		logging.Count(len(req.Tools)),
	)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	resp := c.parseResponse(msg)
	c.log.Debug("received response",
		logging.F("stop_reason", resp.StopReason),
		logging.InputTokens(resp.Usage.InputTokens),
		logging.OutputTokens(resp.Usage.OutputTokens),
		logging.CacheReadTokens(resp.Usage.CacheReadTokens),
	)
	return resp, nil
}

func (c *Client) buildParams(req *Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.provider.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.provider.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}

	// The system prompt and tool list are stable across rounds of a run, so
	// both are marked as cache breakpoints.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Text:         req.System,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	if len(req.Tools) > 0 {
		apiTools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolUnionParamOfTool(buildInputSchema(tool.InputSchema), tool.Name)
			toolParam.OfTool.Description = anthropic.String(tool.Description)
			apiTools = append(apiTools, toolParam)
		}
		apiTools[len(apiTools)-1].OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		params.Tools = apiTools
	}

	return params
}

func convertMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		switch msg.Role {
		case RoleUser:
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	return out
}

func (c *Client) parseResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
		Model:      string(msg.Model),
		Usage: Usage{
			InputTokens:      int(msg.Usage.InputTokens),
			OutputTokens:     int(msg.Usage.OutputTokens),
			CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
		},
	}

	var texts []string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, b.Text)
		case anthropic.ToolUseBlock:
			input, err := parseToolInput(string(b.Input))
			if err != nil {
				c.log.Warn("failed to parse tool input", logging.ToolName(b.Name), logging.Error(err))
				input = make(map[string]any)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	resp.Content = strings.Join(texts, "\n")

	return resp
}

func parseToolInput(jsonStr string) (map[string]any, error) {
	if jsonStr == "" {
		return make(map[string]any), nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = make(map[string]any)
	}
	return input, nil
}

// buildInputSchema converts a JSON schema document into the SDK's schema param.
func buildInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{
		Properties: map[string]any{},
	}
	if props, ok := schema["properties"]; ok {
		param.Properties = props
	}
	if required, ok := schema["required"]; ok {
		param.ExtraFields = map[string]any{
			"required": required,
		}
	}
	return param
}
