package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	planFixture    = `{"risk_ranking":["auth.go"],"hotspots":[{"file":"auth.go","reason":"token check changed"}],"file_clusters":[{"cluster_label":"auth","files":["auth.go"],"token_budget":2000}],"skip_files":[],"overall_risk_estimate":"medium"}`
	reviewFixture  = `{"summary":"Token expiry check inverted.","overall_risk":"high","findings":[{"priority":0,"type":"bug","file":"auth.go","start_line":12,"message":"The expiry comparison admits expired tokens"}],"files_reviewed":["auth.go"]}`
	garbageFixture = `{"verdict":"looks good to me"}`
)

func TestLoadFixturesBaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-planner.json", planFixture)
	writeFixture(t, dir, "mock-reviewer.json", reviewFixture)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixturesSequential(t *testing.T) {
	dir := t.TempDir()

	// Retry sequence: schema-invalid first answer, valid correction,
	// then a base fallback for any calls beyond the sequence.
	writeFixture(t, dir, "mock-reviewer.1.json", garbageFixture)
	writeFixture(t, dir, "mock-reviewer.2.json", reviewFixture)
	writeFixture(t, dir, "mock-reviewer.json", `{"summary":"Fallback review.","overall_risk":"low","findings":[],"files_reviewed":[]}`)
	writeFixture(t, dir, "mock-planner.json", planFixture)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	reviewerSeq := fixtures["mock-reviewer"]
	if len(reviewerSeq) != 3 {
		t.Fatalf("mock-reviewer: expected 3 fixtures, got %d", len(reviewerSeq))
	}
	if !strings.Contains(reviewerSeq[0], "verdict") {
		t.Errorf("fixture[0] should be the schema-invalid answer, got: %s", reviewerSeq[0])
	}
	if !strings.Contains(reviewerSeq[1], "expiry") {
		t.Errorf("fixture[1] should be the valid correction, got: %s", reviewerSeq[1])
	}
	if !strings.Contains(reviewerSeq[2], "Fallback") {
		t.Errorf("fixture[2] should be the base fallback, got: %s", reviewerSeq[2])
	}

	if len(fixtures["mock-planner"]) != 1 {
		t.Fatalf("mock-planner: expected 1 fixture, got %d", len(fixtures["mock-planner"]))
	}
}

func TestLoadFixturesNumberedOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-reviewer.1.json", garbageFixture)
	writeFixture(t, dir, "mock-reviewer.2.json", reviewFixture)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(fixtures["mock-reviewer"]) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(fixtures["mock-reviewer"]))
	}
}

func TestLoadFixturesEmptyDir(t *testing.T) {
	if _, err := loadFixtures(t.TempDir()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestLoadFixturesRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-planner.json", "not json at all")

	if _, err := loadFixtures(dir); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestSequentialSelectionDrivesRetryLoop(t *testing.T) {
	fixtures := map[string][]string{
		"mock-reviewer": {garbageFixture, reviewFixture},
		"mock-planner":  {planFixture},
	}
	s := newServer(fixtures, 0)

	// First reviewer call gets the schema-invalid answer.
	resp1 := doCompletion(t, s, "mock-reviewer", "review this")
	if !strings.Contains(resp1, "verdict") {
		t.Errorf("call 1: expected the invalid answer, got: %s", resp1)
	}

	// The retried call gets the valid correction.
	resp2 := doCompletion(t, s, "mock-reviewer", "format correction")
	if !strings.Contains(resp2, "expiry") {
		t.Errorf("call 2: expected the correction, got: %s", resp2)
	}

	// Past the sequence the last fixture repeats.
	resp3 := doCompletion(t, s, "mock-reviewer", "again")
	if !strings.Contains(resp3, "expiry") {
		t.Errorf("call 3: expected the last fixture repeated, got: %s", resp3)
	}

	// Planner calls count separately.
	planResp := doCompletion(t, s, "mock-planner", "triage this")
	if !strings.Contains(planResp, "risk_ranking") {
		t.Errorf("planner: expected the plan fixture, got: %s", planResp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-reviewer": {reviewFixture},
		"mock-planner":  {planFixture},
	}
	s := newServer(fixtures, 0)

	doCompletion(t, s, "mock-reviewer", "a")
	doCompletion(t, s, "mock-reviewer", "b")
	doCompletion(t, s, "mock-planner", "c")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-reviewer"] != 2 {
		t.Errorf("mock-reviewer calls: expected 2, got %d", stats.CallsByModel["mock-reviewer"])
	}
	if stats.CallsByModel["mock-planner"] != 1 {
		t.Errorf("mock-planner calls: expected 1, got %d", stats.CallsByModel["mock-planner"])
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]string{
		"planner": {planFixture},
	}
	s := newServer(fixtures, 0)

	resp := doCompletion(t, s, "mock-planner", "triage")
	if !strings.Contains(resp, "risk_ranking") {
		t.Errorf("expected mock- prefix stripping to resolve, got: %s", resp)
	}
}

func TestUnknownModelNotFound(t *testing.T) {
	s := newServer(map[string][]string{"mock-planner": {planFixture}}, 0)

	body, _ := json.Marshal(map[string]any{
		"model":    "mock-reviewer",
		"messages": []map[string]string{{"role": "user", "content": "review"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown model, got %d", w.Code)
	}
}

func TestNumberedFileRegex(t *testing.T) {
	tests := []struct {
		filename string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-reviewer.1.json", "mock-reviewer", "1", true},
		{"mock-reviewer.2.json", "mock-reviewer", "2", true},
		{"mock-reviewer.10.json", "mock-reviewer", "10", true},
		{"mock-reviewer.json", "", "", false},
		{"mock-planner.json", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFileRe.FindStringSubmatch(tt.filename)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.filename)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.filename, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.filename, matches[2], tt.wantNum)
			}
		} else if matches != nil {
			t.Errorf("%s: expected no match, got %v", tt.filename, matches)
		}
	}
}

func TestClassifyFixture(t *testing.T) {
	if got := classifyFixture(reviewFixture); got != "valid review" {
		t.Errorf("review fixture classified as %q", got)
	}
	if got := classifyFixture(planFixture); got != "plan-shaped" {
		t.Errorf("plan fixture classified as %q", got)
	}
	if got := classifyFixture(garbageFixture); !strings.HasPrefix(got, "schema-invalid") {
		t.Errorf("garbage fixture classified as %q", got)
	}
}

func TestRequestCaptureFilters(t *testing.T) {
	fixtures := map[string][]string{
		"mock-reviewer": {garbageFixture, reviewFixture},
	}
	s := newServer(fixtures, 0)

	doCompletion(t, s, "mock-reviewer", "first prompt")
	doCompletion(t, s, "mock-reviewer", "second prompt")

	req := httptest.NewRequest(http.MethodGet, "/requests?model=mock-reviewer&call=2", nil)
	w := httptest.NewRecorder()
	s.handleRequests(w, req)

	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}

	reqs := captured.RequestsByModel["mock-reviewer"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request for call 2, got %d", len(reqs))
	}
	if len(reqs[0].Messages) != 1 || !strings.Contains(reqs[0].Messages[0].Content, "second") {
		t.Errorf("call 2 capture should hold the second prompt, got %+v", reqs[0].Messages)
	}

	// Unfiltered returns the full history.
	req = httptest.NewRequest(http.MethodGet, "/requests", nil)
	w = httptest.NewRecorder()
	s.handleRequests(w, req)
	captured.RequestsByModel = nil
	if err := json.NewDecoder(w.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}
	if len(captured.RequestsByModel["mock-reviewer"]) != 2 {
		t.Errorf("expected 2 captured requests unfiltered, got %d", len(captured.RequestsByModel["mock-reviewer"]))
	}
}

func TestDelayAddsLatency(t *testing.T) {
	s := newServer(map[string][]string{"mock-planner": {planFixture}}, 30*time.Millisecond)

	start := time.Now()
	doCompletion(t, s, "mock-planner", "triage")
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected at least 30ms of latency, got %v", elapsed)
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doCompletion(t *testing.T, s *server, model, prompt string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		t.Fatal("no choices in response")
	}
	return resp.Choices[0].Message.Content
}
