package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxResponseBody caps how much of a provider response we'll read, mirroring
// the embedding provider's defensive body limit.
const maxResponseBody = 10 * 1024 * 1024

// HTTPClient is a Client backed by an OpenAI-compatible chat-completions
// endpoint. It adapts the shape of the teacher's OpenAIProvider (single
// bearer-token HTTP POST, JSON in, JSON out, explicit body-size cap) to a
// single-prompt completion call instead of a batch-embedding call.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient. baseURL defaults to OpenAI's chat
// completions endpoint when empty, so self-hosted OpenAI-compatible
// servers (vLLM, Ollama's OpenAI shim) can be targeted by override.
func NewHTTPClient(apiKey, baseURL string) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llmclient: API key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	return &HTTPClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Call sends prompt as a single user message and returns the model's raw
// text content, never retrying internally.
func (c *HTTPClient) Call(ctx context.Context, prompt string, params Params) (RawResponse, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	reqBody, err := json.Marshal(chatRequest{
		Model:       params.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return RawResponse{}, &CallError{Class: ClassMalformed, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return RawResponse{}, &CallError{Class: ClassOther, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return RawResponse{}, &CallError{Class: ClassTimeout, Err: err}
		}
		return RawResponse{}, &CallError{Class: ClassNetwork, Err: fmt.Errorf("send request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return RawResponse{}, &CallError{Class: ClassNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		class := classifyHTTPStatus(resp.StatusCode)
		var retryAfter int
		if class == ClassRateLimit {
			if v := resp.Header.Get("Retry-After"); v != "" {
				retryAfter, _ = strconv.Atoi(v)
			}
		}
		var errResp chatResponse
		msg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
			msg = errResp.Error.Type + ": " + errResp.Error.Message
		}
		return RawResponse{}, &CallError{Class: class, RetryAfter: retryAfter, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)}
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return RawResponse{}, &CallError{Class: ClassMalformed, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if result.Error != nil {
		return RawResponse{}, &CallError{Class: ClassOther, Err: fmt.Errorf("%s: %s", result.Error.Type, result.Error.Message)}
	}
	if len(result.Choices) == 0 {
		return RawResponse{}, &CallError{Class: ClassMalformed, Err: fmt.Errorf("no choices in response")}
	}

	return RawResponse{
		Content: result.Choices[0].Message.Content,
		Model:   result.Model,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}, nil
}
