package summarize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func mockServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func llmWithServer(url string) *LLM {
	return NewLLM("test-key", "", url, NewHeuristic(0))
}

func respondJSON(w http.ResponseWriter, content string) {
	resp := chatResponse{
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

const postText = "Tab completion stopped working after the update. See https://forum.example/t/1 for logs."

func TestLLM_SuccessfulResponse(t *testing.T) {
	srv := mockServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultModel)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "in 50 words or less") {
			t.Errorf("unexpected prompt: %+v", req.Messages)
		}
		respondJSON(w, "  Completion broke after an update.  ")
	})
	defer srv.Close()

	result := llmWithServer(srv.URL).Summarize(context.Background(), postText)

	if result.Method != MethodLLM {
		t.Errorf("method = %q, want llm", result.Method)
	}
	if result.Text != "Completion broke after an update." {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.Links) != 1 || result.Links[0] != "https://forum.example/t/1" {
		t.Errorf("links = %v", result.Links)
	}
}

func TestLLM_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"empty choices", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{}})
		}},
		{"blank reply", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, "   ")
		}},
		{"malformed json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{{{not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mockServer(tt.handler)
			defer srv.Close()

			result := llmWithServer(srv.URL).Summarize(context.Background(), postText)
			if result.Method != MethodFallback {
				t.Errorf("method = %q, want fallback", result.Method)
			}
			if result.Text == "" {
				t.Error("expected fallback text")
			}
		})
	}
}

func TestLLM_Timeout(t *testing.T) {
	srv := mockServer(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		respondJSON(w, "too late")
	})
	defer srv.Close()

	s := llmWithServer(srv.URL)
	s.client.Timeout = 50 * time.Millisecond

	if result := s.Summarize(context.Background(), postText); result.Method != MethodFallback {
		t.Errorf("method = %q, want fallback", result.Method)
	}
}

func TestLLM_NoAPIKeySkipsRequest(t *testing.T) {
	called := false
	srv := mockServer(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		respondJSON(w, "unused")
	})
	defer srv.Close()

	s := NewLLM("", "", srv.URL, NewHeuristic(0))
	if result := s.Summarize(context.Background(), postText); result.Method != MethodFallback {
		t.Errorf("method = %q, want fallback", result.Method)
	}
	if called {
		t.Error("api should not be called without a key")
	}
}
