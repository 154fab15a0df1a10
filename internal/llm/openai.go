package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn. Tool results reference the call they answer via
// ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
}

// ToolDef describes a callable action offered to the model. Parameters maps
// property name to description; all properties are plain strings.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]string
}

// ToolCall is an action invocation the model requested. Arguments is the raw
// JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Completion is one model response: either assistant text, tool calls, or
// both.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func encodeTools(tools []ToolDef) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		properties := make(map[string]any, len(t.Parameters))
		required := make([]string, 0, len(t.Parameters))
		for name, desc := range t.Parameters {
			properties[name] = map[string]any{"type": "string", "description": desc}
			required = append(required, name)
		}
		var w wireTool
		w.Type = "function"
		w.Function.Name = t.Name
		w.Function.Description = t.Description
		w.Function.Parameters = map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		}
		out = append(out, w)
	}
	return out
}

// Chat sends the conversation and tool definitions, returning the model's
// reply text and any requested tool calls.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolDef) (Completion, error) {
	if c.APIKey == "" {
		return Completion{}, fmt.Errorf("openai api key missing")
	}
	endpoint := "https://api.openai.com/v1/chat/completions"

	wireMsgs := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wireMsgs = append(wireMsgs, wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: wireMsgs, Tools: encodeTools(tools)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Completion{}, fmt.Errorf("openai error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Completion{}, err
	}
	if len(cr.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai: empty choices")
	}

	msg := cr.Choices[0].Message
	out := Completion{Text: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// Generate is the single-prompt convenience used where no tools apply.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := c.Chat(ctx, []Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}
