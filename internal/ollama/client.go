package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/stream"
)

const (
	DefaultTimeout     = 120 * time.Second
	DefaultTemperature = 0.7
)

type Config struct {
	URL         string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// Client is an inference.Model backed by an Ollama server.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		temperature: temperature,
	}
}

func (c *Client) Name() string {
	return c.model
}

// Delivery is always incremental: each /api/chat line carries only the newly
// generated text.
func (c *Client) Delivery() stream.Policy {
	return stream.Incremental
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (c *Client) buildRequest(req inference.Completion) (*chatRequest, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		images, err := media.EncodeBase64(m.Images)
		if err != nil {
			return nil, fmt.Errorf("encode images: %w", err)
		}
		messages = append(messages, chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Images:  images,
		})
	}

	options := map[string]any{}
	for k, v := range req.Options {
		options[k] = v
	}
	if req.Sampling {
		if _, ok := options["temperature"]; !ok {
			options["temperature"] = c.temperature
		}
	} else {
		options["temperature"] = 0
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	return &chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  options,
	}, nil
}

func (c *Client) StreamComplete(ctx context.Context, req inference.Completion) (inference.Stream, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return &chatStream{body: resp.Body, decoder: json.NewDecoder(resp.Body)}, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, payload.Error)
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("ollama returned status %d", resp.StatusCode)
}

// chatStream reads the NDJSON body of a streaming /api/chat call. Each line
// carries only the newly generated text.
type chatStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
}

func (s *chatStream) Recv() (inference.Chunk, error) {
	if s.done {
		return inference.Chunk{}, io.EOF
	}

	var resp chatResponse
	if err := s.decoder.Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return inference.Chunk{}, io.ErrUnexpectedEOF
		}
		return inference.Chunk{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return inference.Chunk{}, fmt.Errorf("ollama: %s", resp.Error)
	}

	s.done = resp.Done
	return inference.Chunk{Text: resp.Message.Content, Done: resp.Done}, nil
}

func (s *chatStream) Close() error {
	return s.body.Close()
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
