// Package inference wraps the two upstream model calls: the vision
// "describe" call that extracts menu items from an image, and the per-item
// "illustrate" call that generates a dish photograph.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/menulens/internal/config"
	"github.com/kalambet/menulens/internal/health"
	"github.com/kalambet/menulens/internal/menu"
)

// UpstreamError is returned when the describe call exhausts its retry budget.
// It carries the last attempt's failure.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("describe upstream failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Client talks to the describe and illustrate upstreams. Keep-alive is
// disabled on the shared transport so a connection stalled by an upstream
// timeout is never handed to a later request.
type Client struct {
	describe  config.DescribeConfig
	images    config.ImagesConfig
	tracker   *health.Tracker
	transport *http.Transport
	http      *http.Client
}

// NewClient builds a Client from the upstream configuration. tracker may be
// nil when health bookkeeping is not wanted (tests).
func NewClient(describe config.DescribeConfig, images config.ImagesConfig, tracker *health.Tracker) *Client {
	transport := &http.Transport{DisableKeepAlives: true}
	return &Client{
		describe:  describe,
		images:    images,
		tracker:   tracker,
		transport: transport,
		// Timeouts are applied per call via context; the client itself has none.
		http: &http.Client{Transport: transport},
	}
}

// ResetConnections drops any idle upstream connections. Advisory: the next
// call dials fresh regardless of this call's outcome.
func (c *Client) ResetConnections() {
	c.transport.CloseIdleConnections()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Describe sends the menu image and extraction prompt to the vision upstream
// and parses the returned item array. Any failure (timeout, non-2xx,
// transport) is retried up to MaxRetries times with exponential backoff;
// the first attempt uses the long cold-start timeout, retries the shorter
// one. Exhaustion surfaces an *UpstreamError wrapping the last failure.
func (c *Client) Describe(ctx context.Context, imageB64, prompt string) ([]menu.Item, error) {
	req := chatRequest{
		Model: c.describe.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: fmt.Sprintf(`%s <img src="data:image/png;base64,%s" />`, prompt, imageB64),
		}},
		MaxTokens:   1024,
		Temperature: 0.5,
		TopP:        0.95,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling describe request: %w", err)
	}

	var lastErr error
	attempts := c.describe.MaxRetries + 1
	for attempt := range attempts {
		timeout := c.describe.InitialTimeout
		if attempt > 0 {
			timeout = c.describe.RetryTimeout
		}

		content, err := c.doChat(ctx, body, timeout)
		if err == nil {
			c.recordSuccess()
			return menu.ParseItems(content), nil
		}
		lastErr = err
		slog.Warn("describe attempt failed", "attempt", attempt+1, "error", err)

		if attempt < attempts-1 {
			backoff := c.describe.BackoffBase << attempt
			select {
			case <-ctx.Done():
				c.recordFailure()
				return nil, &UpstreamError{Attempts: attempt + 1, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}

	c.recordFailure()
	return nil, &UpstreamError{Attempts: attempts, Err: lastErr}
}

func (c *Client) doChat(ctx context.Context, body []byte, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.describe.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	AspectRatio    string  `json:"aspect_ratio"`
	Seed           int     `json:"seed"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
}

type imageResponse struct {
	Image  string   `json:"image"`
	Output []string `json:"output"`
	Images []string `json:"images"`
}

// Illustrate asks the image upstream for a photograph of the described dish.
// A non-2xx status or a payload without any recognized image field means "no
// image produced" and yields ("", nil); only transport-level failures return
// an error. Single attempt, no retries: the caller's consecutive-failure
// accounting decides when to stop paying for further calls.
func (c *Client) Illustrate(ctx context.Context, description string) (string, error) {
	req := imageRequest{
		Prompt:         menu.IllustrationPrompt(description),
		NegativePrompt: menu.IllustrationNegativePrompt,
		AspectRatio:    "1:1",
		Seed:           0,
		Steps:          20,
		CfgScale:       5,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling illustrate request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.images.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.images.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating illustrate request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("illustrate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", nil
	}

	var result imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil
	}

	switch {
	case result.Image != "":
		return "data:image/jpeg;base64," + result.Image, nil
	case len(result.Output) > 0:
		return result.Output[0], nil
	case len(result.Images) > 0:
		return result.Images[0], nil
	}
	return "", nil
}

// Prewarm issues a tiny chat request to pull the describe model out of cold
// start before the first real submission. Best effort; failures are logged
// and swallowed.
func (c *Client) Prewarm(ctx context.Context) {
	req := chatRequest{
		Model:       c.describe.Model,
		Messages:    []chatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens:   10,
		Temperature: 0.5,
		TopP:        0.95,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return
	}

	if _, err := c.doChat(ctx, body, c.describe.RetryTimeout); err != nil {
		slog.Debug("prewarm failed", "error", err)
		return
	}
	c.recordSuccess()
	slog.Info("describe upstream prewarmed")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.describe.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.describe.APIToken)
	}
}

func (c *Client) recordSuccess() {
	if c.tracker != nil {
		c.tracker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.tracker != nil {
		c.tracker.RecordFailure()
	}
}
