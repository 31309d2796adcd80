package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/stream"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{URL: "http://localhost:11434/", Model: "qwen2.5vl:7b"})

	if client.baseURL != "http://localhost:11434" {
		t.Errorf("expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, client.httpClient.Timeout)
	}
	if client.temperature != DefaultTemperature {
		t.Errorf("expected temperature %v, got %v", DefaultTemperature, client.temperature)
	}
	if client.Name() != "qwen2.5vl:7b" {
		t.Errorf("unexpected name %s", client.Name())
	}
	if client.Delivery() != stream.Incremental {
		t.Errorf("expected incremental delivery, got %v", client.Delivery())
	}
}

func TestNewClient_CustomTimeout(t *testing.T) {
	client := NewClient(Config{URL: "http://localhost:11434", Timeout: 10 * time.Second})
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", client.httpClient.Timeout)
	}
}

func writeLines(w http.ResponseWriter, lines ...chatResponse) {
	enc := json.NewEncoder(w)
	for _, l := range lines {
		enc.Encode(l)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func imageInput() *media.Input {
	return &media.Input{
		Kind:        media.KindImage,
		SourceCount: 1,
		Frames:      []media.Frame{media.NewFrame(0, image.NewRGBA(image.Rect(0, 0, 8, 8)))},
	}
}

func completion() inference.Completion {
	return inference.Completion{
		Messages: []inference.Message{
			{Role: inference.RoleUser, Content: "earlier"},
			{Role: inference.RoleAssistant, Content: "reply"},
			{
				Role:    inference.RoleUser,
				Content: "describe",
				Images:  []image.Image{image.NewRGBA(image.Rect(0, 0, 4, 4)), image.NewRGBA(image.Rect(0, 0, 4, 4))},
			},
		},
		MaxTokens: 256,
		Sampling:  true,
	}
}

func drain(t *testing.T, st inference.Stream) (string, error) {
	t.Helper()
	defer st.Close()

	var text string
	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return text, nil
		}
		if err != nil {
			return text, err
		}
		text += chunk.Text
	}
}

func TestClient_StreamComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model 'test-model', got %s", req.Model)
		}
		if !req.Stream {
			t.Error("stream should be true")
		}
		if len(req.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(req.Messages))
		}
		if len(req.Messages[0].Images) != 0 {
			t.Error("history turns should not carry images")
		}
		if len(req.Messages[2].Images) != 2 {
			t.Errorf("expected 2 images on the last message, got %d", len(req.Messages[2].Images))
		}
		if req.Options["num_predict"] != float64(256) {
			t.Errorf("expected num_predict 256, got %v", req.Options["num_predict"])
		}
		if req.Options["temperature"] != 0.7 {
			t.Errorf("expected temperature 0.7, got %v", req.Options["temperature"])
		}

		writeLines(w,
			chatResponse{Message: chatMessage{Role: "assistant", Content: "A "}},
			chatResponse{Message: chatMessage{Role: "assistant", Content: "cat."}},
			chatResponse{Message: chatMessage{Role: "assistant"}, Done: true},
		)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "test-model"})

	st, err := client.StreamComplete(context.Background(), completion())
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}

	text, err := drain(t, st)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text != "A cat." {
		t.Errorf("expected 'A cat.', got %q", text)
	}
}

func TestClient_StreamComplete_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llava:13b" {
			t.Errorf("expected request model to win, got %s", req.Model)
		}
		if req.Options["temperature"] != float64(0) {
			t.Errorf("expected greedy decoding without sampling, got %v", req.Options["temperature"])
		}
		writeLines(w, chatResponse{Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "default-model"})
	req := completion()
	req.Model = "llava:13b"
	req.Sampling = false

	st, err := client.StreamComplete(context.Background(), req)
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}
	if _, err := drain(t, st); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
}

func TestClient_StreamComplete_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"missing\" not found"}`)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "missing"})

	_, err := client.StreamComplete(context.Background(), completion())
	if err == nil {
		t.Fatal("expected error for 404 status")
	}
	if want := `ollama returned status 404: model "missing" not found`; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestClient_StreamComplete_ErrorInStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			chatResponse{Message: chatMessage{Content: "par"}},
			chatResponse{Error: "out of memory"},
		)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "test-model"})
	st, err := client.StreamComplete(context.Background(), completion())
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}

	text, err := drain(t, st)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if text != "par" {
		t.Errorf("expected partial text before failure, got %q", text)
	}
}

func TestClient_StreamComplete_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w, chatResponse{Message: chatMessage{Content: "no end"}})
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "test-model"})
	st, err := client.StreamComplete(context.Background(), completion())
	if err != nil {
		t.Fatalf("StreamComplete() error = %v", err)
	}

	if _, err := drain(t, st); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestClient_StreamComplete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "test-model", Timeout: 20 * time.Millisecond})

	if _, err := client.StreamComplete(context.Background(), completion()); err == nil {
		t.Error("expected timeout error")
	}
}

func TestClient_SessionEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeLines(w,
			chatResponse{Message: chatMessage{Content: "A "}},
			chatResponse{Message: chatMessage{Content: "cat."}},
			chatResponse{Done: true},
		)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, Model: "test-model"})
	req := &inference.Request{
		Media:     imageInput(),
		Question:  "describe",
		MaxTokens: inference.DefaultMaxTokens,
		Sampling:  true,
	}

	session, err := inference.NewSession(client, req, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	var final string
	for ev := range session.Start(context.Background()) {
		if ev.Type == inference.EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Type == inference.EventComplete {
			final = ev.Text
		}
	}
	if final != "A cat." {
		t.Errorf("expected 'A cat.', got %q", final)
	}
}

func TestClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5vl:7b"},{"name":"llava:13b"}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0] != "qwen2.5vl:7b" || models[1] != "llava:13b" {
		t.Errorf("unexpected models %v", models)
	}
}

func TestClient_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	if !client.IsAvailable(context.Background()) {
		t.Error("expected server to be available")
	}

	server.Close()
	if client.IsAvailable(context.Background()) {
		t.Error("expected closed server to be unavailable")
	}
}
