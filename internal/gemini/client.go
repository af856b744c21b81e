// Package gemini wraps the hosted generative-model API behind a small
// streaming client.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gemchat/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

// Message is one turn of conversation history, in the application's own
// role vocabulary ("user" / "assistant").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiPart struct {
	Text string `json:"text"`
}

type apiContent struct {
	Role  string    `json:"role"`
	Parts []apiPart `json:"parts"`
}

type apiRequest struct {
	Contents []apiContent `json:"contents"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type apiStreamResponse struct {
	Candidates []struct {
		Content struct {
			Parts []apiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *apiStatus `json:"error"`
}

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.GeminiAPIKey),
		model:      strings.TrimSpace(cfg.GeminiModel),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.GeminiBaseURL), "/"),
		httpClient: httpClient,
	}
}

// StreamGenerateContent requests a streaming completion for the given
// history and invokes onDelta for every text fragment as it arrives.
// The full history is sent as-is; no context-window trimming happens
// here. Returns ErrMissingAPIKey before any network activity when no
// credential is configured, and *Error for upstream failures.
func (c Client) StreamGenerateContent(ctx context.Context, history []Message, onDelta func(string) error) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	if len(history) == 0 {
		return errors.New("history is required")
	}

	payload, err := json.Marshal(apiRequest{Contents: toAPIContents(history)})
	if err != nil {
		return fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return newError(CategoryNetwork, "request gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var parsed apiStreamResponse
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}

		if parsed.Error != nil {
			message := strings.TrimSpace(parsed.Error.Message)
			return newError(classify(parsed.Error.Status, parsed.Error.Code, message), message, nil)
		}

		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			return newError(CategoryContentPolicy, "prompt blocked: "+parsed.PromptFeedback.BlockReason, nil)
		}

		for _, candidate := range parsed.Candidates {
			if isBlockedFinish(candidate.FinishReason) {
				return newError(CategoryContentPolicy, "generation stopped: "+candidate.FinishReason, nil)
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				if err := onDelta(part.Text); err != nil {
					return err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return newError(CategoryNetwork, "read gemini stream", err)
	}
	return nil
}

func (c Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var parsed struct {
		Error *apiStatus `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		message := strings.TrimSpace(parsed.Error.Message)
		return newError(classify(parsed.Error.Status, resp.StatusCode, message), message, nil)
	}

	message := fmt.Sprintf("gemini returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	return newError(classify("", resp.StatusCode, message), message, nil)
}

// toAPIContents converts internal roles to the provider's vocabulary:
// "assistant" becomes "model", "user" stays "user".
func toAPIContents(history []Message) []apiContent {
	contents := make([]apiContent, 0, len(history))
	for _, message := range history {
		role := "user"
		if message.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, apiContent{
			Role:  role,
			Parts: []apiPart{{Text: message.Content}},
		})
	}
	return contents
}

func isBlockedFinish(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII":
		return true
	default:
		return false
	}
}
