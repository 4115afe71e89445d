// Package openaicompat implements llm.Provider against a raw OpenAI-compatible
// chat-completions HTTP endpoint.
//
// It is hand-rolled on top of net/http and a manual server-sent-events
// parser rather than the official openai-go SDK because reasoning_details
// and thought_signature — fields some OpenAI-compatible backends (reasoning
// models, Anthropic-via-proxy, OpenRouter) attach to assistant messages and
// tool calls — are not representable in that SDK's typed message params.
// This client treats both as opaque JSON and replays them byte-for-byte.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL (must not include the
// trailing "/chat/completions").
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxRetries sets the number of retry attempts for unary requests on
// transient failure (5xx, 429). Default 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithCapabilities overrides the static capability table normally derived
// from the model name, for backends whose model naming doesn't match
// OpenAI's conventions.
func WithCapabilities(caps types.ModelCapabilities) Option {
	return func(c *Client) { c.caps = &caps }
}

// Client implements llm.Provider against an OpenAI-compatible
// /chat/completions endpoint, unary and streaming.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	http       *http.Client
	maxRetries int
	caps       *types.ModelCapabilities
}

const defaultBaseURL = "https://api.openai.com/v1"

// New constructs a Client. apiKey and model must be non-empty.
func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaicompat: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openaicompat: model must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: 120 * time.Second},
		maxRetries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---- wire shapes ----

type wireMessage struct {
	Role             string                  `json:"role"`
	Content          *string                 `json:"content,omitempty"`
	Name             string                  `json:"name,omitempty"`
	ToolCalls        []wireToolCall          `json:"tool_calls,omitempty"`
	ToolCallID       string                  `json:"tool_call_id,omitempty"`
	ReasoningDetails []types.ReasoningDetail `json:"reasoning_details,omitempty"`
}

type wireToolCall struct {
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	Function         wireFunction `json:"function"`
	ThoughtSignature string       `json:"thought_signature,omitempty"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolDef struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireToolDef `json:"tools,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	Delta        wireDelta   `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type wireDelta struct {
	Content          string                  `json:"content"`
	ToolCalls        []wireToolCallDelta     `json:"tool_calls"`
	ReasoningDetails []types.ReasoningDetail `json:"reasoning_details"`
}

type wireToolCallDelta struct {
	Index            int          `json:"index"`
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	Function         wireFunction `json:"function"`
	ThoughtSignature string       `json:"thought_signature"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

func messageToWire(m types.Message) wireMessage {
	wm := wireMessage{
		Role:             m.Role,
		Name:             m.Name,
		ToolCallID:       m.ToolCallID,
		ReasoningDetails: m.ReasoningDetails,
	}
	if m.Content != "" || m.ToolCalls == nil {
		content := m.Content
		wm.Content = &content
	}
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:               tc.ID,
			Type:             "function",
			Function:         wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			ThoughtSignature: tc.ThoughtSignature,
		})
	}
	return wm
}

func (c *Client) buildRequest(req llm.CompletionRequest, stream bool) wireRequest {
	var messages []wireMessage
	if req.SystemPrompt != "" {
		content := req.SystemPrompt
		messages = append(messages, wireMessage{Role: "system", Content: &content})
	}
	for _, m := range req.Messages {
		messages = append(messages, messageToWire(m))
	}

	wr := wireRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		wr.Temperature = &t
	}
	for _, td := range req.Tools {
		wr.Tools = append(wr.Tools, wireToolDef{
			Type: "function",
			Function: wireFunctionDef{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return wr
}

// ---- Complete ----

// Complete implements llm.Provider. Retries transient failures (5xx, 429)
// with exponential backoff; 4xx other than 429 are not retried.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	var resp wireResponse
	if err := c.doWithRetry(ctx, body, func(r *http.Response) error {
		return json.NewDecoder(r.Body).Decode(&resp)
	}); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openaicompat: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		ReasoningDetails: choice.Message.ReasoningDetails,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:               tc.ID,
			Name:             tc.Function.Name,
			Arguments:        tc.Function.Arguments,
			ThoughtSignature: tc.ThoughtSignature,
		})
	}
	return out, nil
}

func (c *Client) doWithRetry(ctx context.Context, body []byte, onOK func(*http.Response) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := c.send(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err := onOK(resp)
			resp.Body.Close()
			return err
		}

		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("openaicompat: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return lastErr
		}
	}
	return fmt.Errorf("openaicompat: request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: http: %w", err)
	}
	return resp, nil
}

// ---- StreamCompletion ----

// StreamCompletion implements llm.Provider. It opens a single HTTP request
// with stream:true and parses the server-sent-events body line by line,
// accumulating tool-call fragments per delta index and reasoning_details
// fragments in arrival order. Errors that occur after the stream has
// started are surfaced as a Chunk{FinishReason: "error"} rather than a
// returned error, per the Provider contract.
func (c *Client) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	resp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openaicompat: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	ch := make(chan llm.Chunk, 32)
	go c.pump(ctx, resp.Body, ch)
	return ch, nil
}

type toolCallBuilder struct {
	id        string
	name      string
	arguments strings.Builder
	signature string
}

func (c *Client) pump(ctx context.Context, body io.ReadCloser, ch chan<- llm.Chunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	toolCalls := map[int]*toolCallBuilder{}
	order := []int{}

	emit := func(chunk llm.Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}
		if payload == "" {
			continue
		}

		var sse wireResponse
		if err := json.Unmarshal([]byte(payload), &sse); err != nil {
			if !emit(llm.Chunk{FinishReason: "error", Text: fmt.Sprintf("decode stream chunk: %v", err)}) {
				return
			}
			continue
		}
		if len(sse.Choices) == 0 {
			continue
		}
		choice := sse.Choices[0]
		delta := choice.Delta

		out := llm.Chunk{Text: delta.Content, ReasoningDetails: delta.ReasoningDetails}
		if choice.FinishReason != nil {
			out.FinishReason = *choice.FinishReason
		}

		for _, tc := range delta.ToolCalls {
			b, ok := toolCalls[tc.Index]
			if !ok {
				b = &toolCallBuilder{}
				toolCalls[tc.Index] = b
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.arguments.WriteString(tc.Function.Arguments)
			if tc.ThoughtSignature != "" {
				b.signature = tc.ThoughtSignature
			}
		}

		if out.FinishReason != "" && len(toolCalls) > 0 {
			for _, idx := range order {
				b := toolCalls[idx]
				out.ToolCalls = append(out.ToolCalls, types.ToolCall{
					ID:               b.id,
					Name:             b.name,
					Arguments:        b.arguments.String(),
					ThoughtSignature: b.signature,
				})
			}
		}

		if !emit(out) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(llm.Chunk{FinishReason: "error", Text: fmt.Sprintf("read stream: %v", err)})
	}
}

// CountTokens implements llm.Provider with a rough 4-chars-per-token
// approximation plus a small per-message overhead.
// TODO: swap in tiktoken-go for exact counts once model-specific vocab
// tables are wired up.
func (c *Client) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (c *Client) Capabilities() types.ModelCapabilities {
	if c.caps != nil {
		return *c.caps
	}
	return modelCapabilities(c.model)
}

func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.ContextWindow = 128_000
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	}
	return caps
}
