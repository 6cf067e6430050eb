// Package llmmock runs a scriptable OpenAI-compatible completion
// server for e2e scenarios. Each model name carries a queue of canned
// response bodies; once the queue drains, the last response repeats, so
// a stage that keeps retrying against an exhausted script keeps getting
// the terminal answer. Responses are always HTTP 200: scenario failures
// are expressed as schema-invalid content, never as transport errors,
// so one scenario cannot trip the registry's circuit breaker for the
// next.
package llmmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Server is the in-process completion endpoint.
type Server struct {
	srv *httptest.Server

	mu      sync.Mutex
	scripts map[string][]string
	served  map[string]int
}

// completionRequest is the slice of the OpenAI request the mock needs.
type completionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// New starts the server on a loopback port.
func New() *Server {
	s := &Server{
		scripts: make(map[string][]string),
		served:  make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleCompletion)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL returns the OpenAI-compatible base URL, ending in /v1.
func (s *Server) URL() string {
	return s.srv.URL + "/v1"
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// Script replaces the response queue for a model and resets its call
// count.
func (s *Server) Script(model string, responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[model] = responses
	s.served[model] = 0
}

// Reset clears every script and call count.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = make(map[string][]string)
	s.served = make(map[string]int)
}

// Calls returns how many completions the model has served since its
// last Script or Reset.
func (s *Server) Calls(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[model]
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed completion request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	queue, ok := s.scripts[req.Model]
	if !ok || len(queue) == 0 {
		s.mu.Unlock()
		// An unscripted model is a scenario bug; fail loudly.
		http.Error(w, fmt.Sprintf("no script for model %q", req.Model), http.StatusNotFound)
		return
	}
	call := s.served[req.Model]
	s.served[req.Model] = call + 1
	if call >= len(queue) {
		call = len(queue) - 1
	}
	content := queue[call]
	s.mu.Unlock()

	resp := map[string]any{
		"id":      fmt.Sprintf("llmmock-%s-%d", req.Model, call+1),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     len(req.Messages) * 100,
			"completion_tokens": len(content) / 4,
			"total_tokens":      len(req.Messages)*100 + len(content)/4,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
