// Package forgemock runs an in-process stand-in for the forge REST
// API. It serves the read endpoints the review pipeline needs (pull
// request, changed files, policy file) from registered fixtures and
// captures the write endpoints (reviews, check runs) for scenario
// assertions. Paths follow the enterprise layout under /api/v3/, which
// is what the forge client requests when given a custom base URL.
package forgemock

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// PullFixture is a pull request served by the mock.
type PullFixture struct {
	Number  int
	Title   string
	Body    string
	State   string
	Draft   bool
	HeadRef string
	HeadSHA string
	BaseRef string
	Author  string
}

// FileFixture is one changed file in a pull request.
type FileFixture struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// ReviewComment is one captured inline comment.
type ReviewComment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

// CapturedReview is one POSTed pull-request review.
type CapturedReview struct {
	Owner    string
	Repo     string
	Number   int
	CommitID string
	Body     string
	Event    string
	Comments []ReviewComment
}

// CapturedCheckRun is one POSTed check run.
type CapturedCheckRun struct {
	Owner      string
	Repo       string
	Name       string
	HeadSHA    string
	Status     string
	Conclusion string
	Title      string
	Summary    string
}

// Server is the in-process forge.
type Server struct {
	srv   *httptest.Server
	token string

	mu        sync.Mutex
	pulls     map[int]PullFixture
	files     map[int][]FileFixture
	policy    []byte
	reviews   []CapturedReview
	checkRuns []CapturedCheckRun
	nextID    int64
}

// New starts the server on a loopback port. Requests must carry the
// given bearer token; anything else is rejected, so a wiring regression
// in the connector surfaces as a 401 rather than a silent pass.
func New(token string) *Server {
	s := &Server{
		token:  token,
		pulls:  make(map[int]PullFixture),
		files:  make(map[int][]FileFixture),
		nextID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}/pulls/{number}", s.handleGetPull)
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}/pulls/{number}/files", s.handleListFiles)
	mux.HandleFunc("GET /api/v3/repos/{owner}/{repo}/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/pulls/{number}/reviews", s.handleCreateReview)
	mux.HandleFunc("POST /api/v3/repos/{owner}/{repo}/check-runs", s.handleCreateCheckRun)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no forge fixture route for %s %s", r.Method, r.URL.Path))
	})
	s.srv = httptest.NewServer(s.requireAuth(mux))
	return s
}

// URL returns the base URL for the forge client's BaseURL option.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// Reset drops every fixture and capture.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls = make(map[int]PullFixture)
	s.files = make(map[int][]FileFixture)
	s.policy = nil
	s.reviews = nil
	s.checkRuns = nil
}

// AddPull registers a pull request and its changed files.
func (s *Server) AddPull(p PullFixture, files []FileFixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.State == "" {
		p.State = "open"
	}
	s.pulls[p.Number] = p
	s.files[p.Number] = files
}

// SetPolicy installs the repository policy file. Empty removes it, so
// the pipeline falls back to defaults through a 404.
func (s *Server) SetPolicy(policyYAML string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if policyYAML == "" {
		s.policy = nil
		return
	}
	s.policy = []byte(policyYAML)
}

// Reviews returns the captured pull-request reviews, oldest first.
func (s *Server) Reviews() []CapturedReview {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedReview, len(s.reviews))
	copy(out, s.reviews)
	return out
}

// CheckRuns returns the captured check runs, oldest first.
func (s *Server) CheckRuns() []CapturedCheckRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedCheckRun, len(s.checkRuns))
	copy(out, s.checkRuns)
	return out
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetPull(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	s.mu.Lock()
	pull, ok := s.pulls[number]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"number": pull.Number,
		"title":  pull.Title,
		"body":   pull.Body,
		"state":  pull.State,
		"draft":  pull.Draft,
		"merged": false,
		"head":   map[string]any{"ref": pull.HeadRef, "sha": pull.HeadSHA},
		"base":   map[string]any{"ref": pull.BaseRef},
		"user":   map[string]any{"login": pull.Author},
		"html_url": fmt.Sprintf("%s/%s/%s/pull/%d",
			s.srv.URL, r.PathValue("owner"), r.PathValue("repo"), pull.Number),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	s.mu.Lock()
	files, ok := s.files[number]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		status := f.Status
		if status == "" {
			status = "modified"
		}
		out = append(out, map[string]any{
			"filename":  f.Filename,
			"status":    status,
			"additions": f.Additions,
			"deletions": f.Deletions,
			"changes":   f.Additions + f.Deletions,
			"patch":     f.Patch,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetContents(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()

	if path != ".ai-reviewer.yml" || policy == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"name":     ".ai-reviewer.yml",
		"path":     path,
		"size":     len(policy),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString(policy),
	})
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var req struct {
		Body     string          `json:"body"`
		Event    string          `json:"event"`
		CommitID string          `json:"commit_id"`
		Comments []ReviewComment `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("malformed review: %v", err))
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.reviews = append(s.reviews, CapturedReview{
		Owner:    r.PathValue("owner"),
		Repo:     r.PathValue("repo"),
		Number:   number,
		CommitID: req.CommitID,
		Body:     req.Body,
		Event:    req.Event,
		Comments: req.Comments,
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": "COMMENTED"})
}

func (s *Server) handleCreateCheckRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		HeadSHA    string `json:"head_sha"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		Output     *struct {
			Title   string `json:"title"`
			Summary string `json:"summary"`
		} `json:"output"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("malformed check run: %v", err))
		return
	}

	run := CapturedCheckRun{
		Owner:      r.PathValue("owner"),
		Repo:       r.PathValue("repo"),
		Name:       req.Name,
		HeadSHA:    req.HeadSHA,
		Status:     req.Status,
		Conclusion: req.Conclusion,
	}
	if req.Output != nil {
		run.Title = req.Output.Title
		run.Summary = req.Output.Summary
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.checkRuns = append(s.checkRuns, run)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name, "status": "completed"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
