// Package client provides HTTP clients implementing agent.ModelClient
// against API-based AI providers.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// OpenAICompatClient is an HTTP agent.ModelClient for OpenAI-compatible
// chat-completion APIs. It supports both streaming and non-streaming
// requests and retries transient failures with exponential backoff.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// NewOpenAICompatClient creates a new OpenAI-compatible API client.
func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	return &OpenAICompatClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		maxRetries: 3,
	}
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []chatCompletionMessage `json:"messages"`
	Temperature *float64                `json:"temperature,omitempty"`
	MaxTokens   *int                    `json:"max_tokens,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Error   *chatCompletionError   `json:"error,omitempty"`
}

type chatCompletionChoice struct {
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type chatCompletionError struct {
	Message string `json:"message"`
}

type chatCompletionStreamChunk struct {
	Choices []chatCompletionStreamChoice `json:"choices"`
}

type chatCompletionStreamChoice struct {
	Delta chatCompletionMessageDelta `json:"delta"`
}

type chatCompletionMessageDelta struct {
	Content string `json:"content,omitempty"`
}

// APIError represents a structured HTTP error with optional Retry-After
// information.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Invoke implements agent.ModelClient: it renders the transcript into the
// provider's chat-completion shape and returns a channel of normalized
// UpstreamEvent chunks, streamed from the provider's SSE response when
// stream is true, or delivered as a single chunk otherwise.
func (c *OpenAICompatClient) Invoke(ctx context.Context, a *agent.Agent, transcript []agent.Message, tools []agent.Tool, stream bool) (<-chan agent.UpstreamEvent, error) {
	req := chatCompletionRequest{
		Model:    a.Model,
		Messages: renderMessages(a, transcript),
		Stream:   stream,
	}
	if a.Temperature > 0 {
		t := a.Temperature
		req.Temperature = &t
	}
	if a.MaxTokens > 0 {
		mt := a.MaxTokens
		req.MaxTokens = &mt
	}

	out := make(chan agent.UpstreamEvent, 16)

	if !stream {
		go c.invokeNonStreaming(ctx, req, out)
		return out, nil
	}

	httpReq, err := c.prepareStreamRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, httpReq, req)
	if err != nil {
		return nil, err
	}

	go c.pumpStream(resp.Body, out)
	return out, nil
}

func renderMessages(a *agent.Agent, transcript []agent.Message) []chatCompletionMessage {
	msgs := make([]chatCompletionMessage, 0, len(transcript)+1)
	if a.SystemPrompt != "" {
		msgs = append(msgs, chatCompletionMessage{Role: "system", Content: a.SystemPrompt})
	}
	for _, m := range transcript {
		role := "assistant"
		if m.Source == "user" {
			role = "user"
		}
		msgs = append(msgs, chatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

func (c *OpenAICompatClient) invokeNonStreaming(ctx context.Context, req chatCompletionRequest, out chan<- agent.UpstreamEvent) {
	defer close(out)

	resp, err := c.createChatCompletion(ctx, req)
	if err != nil {
		out <- agent.UpstreamEvent{Err: err}
		return
	}
	if len(resp.Choices) == 0 {
		out <- agent.UpstreamEvent{Err: fmt.Errorf("openai_compat: empty choices")}
		return
	}
	out <- agent.UpstreamEvent{DeltaContent: resp.Choices[0].Message.Content}
}

func (c *OpenAICompatClient) createChatCompletion(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	req.Stream = false

	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryDelay(attempt, retryAfter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		retryAfter = 0
		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			if apiErr, ok := err.(*APIError); ok {
				retryAfter = apiErr.RetryAfter
				if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
					continue
				}
			}
			if shouldRetry(err) {
				continue
			}
			return nil, err
		}
		return resp, nil
	}

	return nil, fmt.Errorf("openai_compat: failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *OpenAICompatClient) doRequest(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai_compat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai_compat: build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai_compat: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai_compat: decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai_compat: api error: %s", result.Error.Message)
	}
	return &result, nil
}

func (c *OpenAICompatClient) prepareStreamRequest(ctx context.Context, req chatCompletionRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai_compat: marshal stream request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai_compat: build stream request: %w", err)
	}
	c.setHeaders(httpReq)
	return httpReq, nil
}

func (c *OpenAICompatClient) doWithRetry(ctx context.Context, httpReq *http.Request, origReq chatCompletionRequest) (*http.Response, error) {
	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryDelay(attempt, retryAfter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			rebuilt, err := c.prepareStreamRequest(ctx, origReq)
			if err != nil {
				return nil, err
			}
			httpReq = rebuilt
		}

		retryAfter = 0
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("openai_compat: request failed: %w", err)
			if shouldRetry(lastErr) {
				continue
			}
			return nil, lastErr
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := c.handleErrorResponse(resp)
			resp.Body.Close()
			lastErr = apiErr
			if ae, ok := apiErr.(*APIError); ok {
				retryAfter = ae.RetryAfter
				if ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500 {
					continue
				}
			}
			if shouldRetry(apiErr) {
				continue
			}
			return nil, apiErr
		}
		return resp, nil
	}
	return nil, fmt.Errorf("openai_compat: failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *OpenAICompatClient) pumpStream(body io.ReadCloser, out chan<- agent.UpstreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.WithError(err).WithField("data", data).Warn("failed to parse stream chunk")
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			out <- agent.UpstreamEvent{DeltaContent: chunk.Choices[0].Delta.Content}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- agent.UpstreamEvent{Err: fmt.Errorf("openai_compat: read stream: %w", err)}
	}
}

func (c *OpenAICompatClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *OpenAICompatClient) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("HTTP %d (failed to read error body: %w)", resp.StatusCode, err)
	}

	message := strings.TrimSpace(string(body))
	retryAfter := parseRetryAfter(resp, body)

	var errorResp struct {
		Error *chatCompletionError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil {
		if errorResp.Error != nil && strings.TrimSpace(errorResp.Error.Message) != "" {
			message = strings.TrimSpace(errorResp.Error.Message)
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message, RetryAfter: retryAfter}
}

var retryAfterMessageRe = regexp.MustCompile(`(?i)(?:try again in|retry after)\s*([0-9]+(?:\.[0-9]+)?)s`)

func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	return maxDuration(parseRetryAfterHeader(resp), parseRetryAfterBody(body))
}

func parseRetryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(raw); err == nil {
		if wait := time.Until(parsed); wait > 0 {
			return wait
		}
	}
	return 0
}

func parseRetryAfterBody(body []byte) time.Duration {
	if len(body) == 0 {
		return 0
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	if msg, ok := payload["message"].(string); ok {
		return parseRetryAfterMessage(msg)
	}
	return 0
}

func parseRetryAfterMessage(message string) time.Duration {
	match := retryAfterMessageRe.FindStringSubmatch(message)
	if len(match) < 2 {
		return 0
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	//nolint:gosec // G115: shift is bounded above, safe from overflow
	backoff := time.Duration(1<<uint(shift)) * time.Second

	if retryAfter > 0 && retryAfter > backoff {
		backoff = retryAfter
	}
	return addJitter(backoff)
}

func addJitter(wait time.Duration) time.Duration {
	if wait <= 0 {
		return 0
	}
	maxJitter := wait / 10
	if maxJitter < 10*time.Millisecond {
		return wait
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(maxJitter))
	return wait + jitter
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if strings.Contains(errStr, "HTTP 5") {
		return true
	}
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF")
}
