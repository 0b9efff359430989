package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/drumgen/internal/config"
)

var (
	ErrNotConfigured   = errors.New("audio provider api key not configured")
	ErrMissingAudioURL = errors.New("audio provider response has no audio url")
)

// Client calls the generative-audio provider. It makes exactly one attempt per
// request and never retries.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

type Request struct {
	Prompt string
	BPM    *int
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.AudioTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:   cfg.AudioAPIKey,
		endpoint: joinURL(cfg.AudioBaseURL, cfg.AudioGeneratePath),
		model:    cfg.AudioModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Generate asks the provider for a track. Every failure is returned as a
// Failure outcome instead of an error.
func (c *Client) Generate(ctx context.Context, req Request) Outcome {
	if !c.Configured() {
		return Failure{Cause: ErrNotConfigured}
	}
	audioURL, err := c.post(ctx, BuildPrompt(req.Prompt, req.BPM))
	if err != nil {
		if c.log != nil {
			c.log.Error("audio provider call failed", "err", err)
		}
		return Failure{Cause: err}
	}
	return Success{URL: audioURL}
}

func (c *Client) post(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"input": map[string]any{
			"prompt": prompt,
			"seed":   "-1",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post audio provider: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("audio provider error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		AudioURL string `json:"audio_url"`
		Output   *struct {
			AudioURL string `json:"audio_url"`
		} `json:"output"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}

	audioURL := parsed.AudioURL
	if parsed.Output != nil && strings.TrimSpace(parsed.Output.AudioURL) != "" {
		audioURL = parsed.Output.AudioURL
	}
	audioURL = strings.TrimSpace(audioURL)
	if audioURL == "" {
		return "", ErrMissingAudioURL
	}
	if c.log != nil {
		c.log.Info("audio provider returned track", "url", audioURL)
	}
	return audioURL, nil
}

// BuildPrompt appends the tempo to the user's description.
func BuildPrompt(prompt string, bpm *int) string {
	prompt = strings.TrimSpace(prompt)
	if bpm != nil {
		prompt += fmt.Sprintf(", %d BPM", *bpm)
	}
	return prompt
}

func joinURL(base, path string) string {
	baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	endpoint, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return baseURL.ResolveReference(endpoint).String()
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
