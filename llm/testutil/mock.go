// Package testutil provides test utilities for the llm package.
// It includes scripted implementations for testing review-stage interactions.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semreview/llm"
)

// ScriptedClient is a thread-safe scripted LLM client for testing.
// It records every request passed to Complete() and returns configured
// responses in sequence.
//
// Usage:
//
//	// Single response
//	client := &testutil.ScriptedClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"overall_risk": "low", "findings": []}`, Model: "test-model"},
//	    },
//	}
//
//	// Multiple responses (planner then reviewer)
//	client := &testutil.ScriptedClient{
//	    Responses: []*llm.Response{
//	        {Content: plannerJSON, Model: "test-model"},
//	        {Content: reviewerJSON, Model: "test-model"},
//	    },
//	}
//
//	// Error response
//	client := &testutil.ScriptedClient{
//	    Err: errors.New("connection failed"),
//	}
type ScriptedClient struct {
	mu               sync.Mutex
	capturedContext  context.Context
	capturedRequests []llm.Request
	Responses        []*llm.Response // Responses to return in sequence
	Err              error           // Error to return (takes precedence over Responses)
	callCount        int
	responseIndex    int
}

// Complete implements llm.Completer.
// Returns the next response from Responses, or Err if set.
func (s *ScriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capturedContext = ctx
	s.capturedRequests = append(s.capturedRequests, req)
	s.callCount++

	if s.Err != nil {
		return nil, s.Err
	}

	if s.responseIndex < len(s.Responses) {
		resp := s.Responses[s.responseIndex]
		s.responseIndex++
		return resp, nil
	}

	// Default response if no responses configured
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// CapturedContext returns the last context passed to Complete().
func (s *ScriptedClient) CapturedContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturedContext
}

// CapturedRequests returns all requests passed to Complete() so far.
func (s *ScriptedClient) CapturedRequests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.capturedRequests))
	copy(out, s.capturedRequests)
	return out
}

// CallCount returns the number of times Complete() was called.
func (s *ScriptedClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// Reset clears the scripted client's state so it can be reused.
func (s *ScriptedClient) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount = 0
	s.responseIndex = 0
	s.capturedContext = nil
	s.capturedRequests = nil
}
