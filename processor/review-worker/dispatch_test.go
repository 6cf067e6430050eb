package reviewworker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semreview/component"
	"github.com/c360studio/semreview/forge"
	"github.com/c360studio/semreview/llm"
	"github.com/c360studio/semreview/llm/testutil"
	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/retry"
	"github.com/c360studio/semreview/review"
)

const testSHA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// filesJSON is one modified file whose patch adds an import at new
// line 2, which maps to diff position 2.
const filesJSON = `[{"filename":"main.go","status":"modified","additions":1,"deletions":0,"changes":1,"patch":"@@ -1,3 +1,4 @@\n package main\n+import \"os\"\n func main() {\n }"}]`

const planJSON = `{
  "risk_ranking": ["main.go"],
  "hotspots": [{"file": "main.go", "reason": "fresh import at line 2"}],
  "file_clusters": [{"cluster_label": "entry", "files": ["main.go"], "token_budget": 1500}],
  "skip_files": [],
  "overall_risk_estimate": "low"
}`

// reviewJSON carries one finding that maps inline (line 2) and one
// file-level finding that cannot be placed. files_reviewed is wrong on
// purpose; the worker must replace it with the built context.
const reviewJSON = `{
  "summary": "Adds an unused os import.",
  "overall_risk": "low",
  "findings": [
    {"priority": 1, "type": "style", "file": "main.go", "start_line": 2, "end_line": null, "message": "The os import is unused", "evidence": "+import \"os\"", "suggested_patch": null},
    {"priority": 2, "type": "docs", "file": "main.go", "start_line": null, "end_line": null, "message": "Missing package comment", "evidence": "", "suggested_patch": null}
  ],
  "suggested_tests": ["TestMainRuns"],
  "risk_hotspots": [],
  "files_reviewed": ["wrong.txt"],
  "files_skipped": [],
  "truncation_note": null,
  "not_reviewed": null,
  "ticket_compliance": null
}`

func prJSON(state string, draft bool) string {
	return fmt.Sprintf(`{"number":7,"title":"Add os import","body":"Part of ABC-123","state":%q,"draft":%t,"head":{"ref":"feature/abc-123","sha":%q},"base":{"ref":"main"},"user":{"login":"dev-a"}}`,
		state, draft, testSHA)
}

func testEvent() *review.CanonicalEvent {
	return &review.CanonicalEvent{
		DeliveryID:   "delivery-1",
		RepoFullName: "acme/gadget",
		PRNumber:     7,
		HeadSHA:      testSHA,
		EventAction:  "opened",
		Trigger:      review.TriggerAuto,
		BaseRef:      "main",
		ReceivedAt:   time.Now().UTC(),
		TraceID:      "trace-1",
	}
}

// postedReview is the forge-side shape of a review POST.
type postedReview struct {
	CommitID string `json:"commit_id"`
	Body     string `json:"body"`
	Event    string `json:"event"`
	Comments []struct {
		Path     string `json:"path"`
		Position int    `json:"position"`
		Body     string `json:"body"`
	} `json:"comments"`
}

// postedCheckRun is the forge-side shape of a check-run POST.
type postedCheckRun struct {
	Name       string `json:"name"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Output     struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"output"`
}

// forgeFixture serves the forge endpoints the dispatcher touches and
// captures everything it posts.
type forgeFixture struct {
	pr       string
	files    string
	policy   string
	prStatus int

	mu        sync.Mutex
	reviews   []postedReview
	checkRuns []postedCheckRun
}

func defaultFixture() *forgeFixture {
	return &forgeFixture{pr: prJSON("open", false), files: filesJSON}
}

// Paths carry the /api/v3 prefix the enterprise base URL adds.
func (f *forgeFixture) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/gadget/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, f.files)
	})
	mux.HandleFunc("/api/v3/repos/acme/gadget/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		var posted postedReview
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Errorf("decoding review request: %v", err)
		}
		f.mu.Lock()
		f.reviews = append(f.reviews, posted)
		f.mu.Unlock()
		writeBody(w, http.StatusOK, `{"id": 1}`)
	})
	mux.HandleFunc("/api/v3/repos/acme/gadget/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		if f.prStatus != 0 {
			writeBody(w, f.prStatus, `{"message": "unavailable"}`)
			return
		}
		writeBody(w, http.StatusOK, f.pr)
	})
	mux.HandleFunc("/api/v3/repos/acme/gadget/contents/.ai-reviewer.yml", func(w http.ResponseWriter, r *http.Request) {
		if f.policy == "" {
			writeBody(w, http.StatusNotFound, `{"message": "Not Found"}`)
			return
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(f.policy))
		writeBody(w, http.StatusOK, fmt.Sprintf(
			`{"type":"file","encoding":"base64","name":".ai-reviewer.yml","path":".ai-reviewer.yml","content":%q}`, encoded))
	})
	mux.HandleFunc("/api/v3/repos/acme/gadget/check-runs", func(w http.ResponseWriter, r *http.Request) {
		var posted postedCheckRun
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Errorf("decoding check-run request: %v", err)
		}
		f.mu.Lock()
		f.checkRuns = append(f.checkRuns, posted)
		f.mu.Unlock()
		writeBody(w, http.StatusCreated, `{"id": 99}`)
	})
	return mux
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

type staticClients struct {
	client *forge.Client
	err    error
}

func (s staticClients) Client(ctx context.Context, installationID int64) (*forge.Client, error) {
	return s.client, s.err
}

type fakeGuard struct {
	mu   sync.Mutex
	won  bool
	err  error
	keys []string
}

func (g *fakeGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, key)
	if g.err != nil {
		return false, g.err
	}
	return g.won, nil
}

// fakeMsg covers the jetstream.Msg methods the dispatcher touches.
type fakeMsg struct {
	jetstream.Msg
	data    []byte
	subject string
	acked   bool
	naked   bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }

// newWorker builds a component against a fixture forge and an LLM
// scripted with the given responses in order.
func newWorker(t *testing.T, fx *forgeFixture, responses ...string) (*Component, *testutil.ScriptedClient) {
	t.Helper()

	server := httptest.NewServer(fx.handler(t))
	t.Cleanup(server.Close)

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc, err := forge.NewClient(server.Client(), forge.Options{
		BaseURL: server.URL,
		Retry:   &retry.Config{MaxAttempts: 1},
		Logger:  discard,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	conn, err := forge.NewConnector(forge.ConnectorOptions{Token: "test-token"})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}

	c, err := NewComponent(DefaultConfig(), component.Dependencies{Logger: discard, Metrics: metrics.New()}, conn)
	if err != nil {
		t.Fatalf("NewComponent() error = %v", err)
	}

	scripted := &testutil.ScriptedClient{}
	for _, content := range responses {
		scripted.Responses = append(scripted.Responses, &llm.Response{Content: content, Model: "test-model"})
	}

	c.clients = staticClients{client: fc}
	c.guard = &fakeGuard{won: true}
	c.planner = review.NewPlanner(scripted, review.DefaultPlannerConfig(), discard)
	c.reviewer = review.NewReviewer(scripted, review.DefaultReviewerConfig(), discard)

	return c, scripted
}

func TestProcessPostsReviewAndCheckRun(t *testing.T) {
	fx := defaultFixture()
	c, scripted := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}

	guard := c.guard.(*fakeGuard)
	if len(guard.keys) != 1 || guard.keys[0] != "acme/gadget:7:"+testSHA {
		t.Errorf("claimed keys = %v, want the dedup key once", guard.keys)
	}

	if scripted.CallCount() != 2 {
		t.Errorf("LLM calls = %d, want planner then reviewer", scripted.CallCount())
	}
	tc := llm.GetTraceContext(scripted.CapturedContext())
	if tc.TraceID != "trace-1" || tc.ReviewKey != "acme/gadget:7:"+testSHA {
		t.Errorf("trace context = %+v, want the delivery trace and review key", tc)
	}

	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 1 {
		t.Fatalf("posted reviews = %d, want 1", len(fx.reviews))
	}
	posted := fx.reviews[0]
	if posted.CommitID != testSHA {
		t.Errorf("CommitID = %q, want the head sha", posted.CommitID)
	}
	if posted.Event != "COMMENT" {
		t.Errorf("Event = %q, want COMMENT", posted.Event)
	}
	if !strings.Contains(posted.Body, "## Summary") || !strings.Contains(posted.Body, "Adds an unused os import.") {
		t.Errorf("review body missing the summary:\n%s", posted.Body)
	}
	if !strings.Contains(posted.Body, "Missing package comment") {
		t.Errorf("best-effort mode keeps unplaced findings in the body:\n%s", posted.Body)
	}
	if !strings.Contains(posted.Body, "`main.go`") || strings.Contains(posted.Body, "wrong.txt") {
		t.Errorf("files section must reflect the built context, got:\n%s", posted.Body)
	}
	if len(posted.Comments) != 1 {
		t.Fatalf("inline comments = %d, want 1", len(posted.Comments))
	}
	cm := posted.Comments[0]
	if cm.Path != "main.go" || cm.Position != 2 {
		t.Errorf("comment placed at %s:%d, want main.go:2", cm.Path, cm.Position)
	}
	if !strings.Contains(cm.Body, "unused") {
		t.Errorf("comment body = %q", cm.Body)
	}

	if len(fx.checkRuns) != 1 {
		t.Fatalf("check runs = %d, want 1", len(fx.checkRuns))
	}
	run := fx.checkRuns[0]
	if run.Name != "AI Code Review" || run.HeadSHA != testSHA {
		t.Errorf("check run = %+v", run)
	}
	if run.Status != "completed" || run.Conclusion != "neutral" {
		t.Errorf("status/conclusion = %s/%s, want completed/neutral under the default threshold", run.Status, run.Conclusion)
	}
	if run.Output.Title != "2 findings, overall risk low" {
		t.Errorf("Title = %q", run.Output.Title)
	}
	if !strings.Contains(run.Output.Summary, "## Summary") {
		t.Errorf("check-run summary missing the document:\n%s", run.Output.Summary)
	}
}

func TestProcessDuplicateClaimSkips(t *testing.T) {
	fx := defaultFixture()
	c, scripted := newWorker(t, fx)
	c.guard = &fakeGuard{won: false}

	err := c.process(context.Background(), c.logger, testEvent())
	reason, ok := review.SkipReason(err)
	if !ok || reason != "duplicate" {
		t.Fatalf("process() error = %v, want duplicate skip", err)
	}
	if scripted.CallCount() != 0 {
		t.Errorf("LLM calls = %d, want none for a duplicate", scripted.CallCount())
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 0 || len(fx.checkRuns) != 0 {
		t.Errorf("duplicate must not touch the forge: reviews=%d checks=%d", len(fx.reviews), len(fx.checkRuns))
	}
}

func TestProcessClaimErrorRedelivers(t *testing.T) {
	c, _ := newWorker(t, defaultFixture())
	c.guard = &fakeGuard{err: errors.New("kv down")}

	err := c.process(context.Background(), c.logger, testEvent())
	if !review.IsTransient(err) {
		t.Fatalf("process() error = %v, want transient", err)
	}
}

func TestProcessSkipsDraftForAutoTrigger(t *testing.T) {
	fx := &forgeFixture{pr: prJSON("open", true), files: filesJSON}
	c, scripted := newWorker(t, fx)

	err := c.process(context.Background(), c.logger, testEvent())
	reason, ok := review.SkipReason(err)
	if !ok || reason != "draft_pr" {
		t.Fatalf("process() error = %v, want draft_pr skip", err)
	}
	if scripted.CallCount() != 0 {
		t.Errorf("LLM calls = %d, want none for a skipped draft", scripted.CallCount())
	}
}

func TestProcessManualTriggerReviewsDraft(t *testing.T) {
	fx := &forgeFixture{pr: prJSON("open", true), files: filesJSON}
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	ev := testEvent()
	ev.Trigger = review.TriggerManual
	if err := c.process(context.Background(), c.logger, ev); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 1 {
		t.Errorf("posted reviews = %d, want 1 despite the draft flag", len(fx.reviews))
	}
}

func TestProcessMissingPRSkips(t *testing.T) {
	fx := defaultFixture()
	fx.prStatus = http.StatusNotFound
	c, _ := newWorker(t, fx)

	err := c.process(context.Background(), c.logger, testEvent())
	reason, ok := review.SkipReason(err)
	if !ok || reason != "pr_not_found" {
		t.Fatalf("process() error = %v, want pr_not_found skip", err)
	}
}

func TestProcessClosedPRSkips(t *testing.T) {
	fx := &forgeFixture{pr: prJSON("closed", false), files: filesJSON}
	c, _ := newWorker(t, fx)

	err := c.process(context.Background(), c.logger, testEvent())
	reason, ok := review.SkipReason(err)
	if !ok || reason != "pr_closed" {
		t.Fatalf("process() error = %v, want pr_closed skip", err)
	}
}

func TestProcessForgeOutageRedelivers(t *testing.T) {
	fx := defaultFixture()
	fx.prStatus = http.StatusInternalServerError
	c, _ := newWorker(t, fx)

	err := c.process(context.Background(), c.logger, testEvent())
	if !review.IsTransient(err) {
		t.Fatalf("process() error = %v, want transient", err)
	}
}

func TestProcessEmptyChangeSetSkips(t *testing.T) {
	fx := &forgeFixture{pr: prJSON("open", false), files: `[]`}
	c, _ := newWorker(t, fx)

	err := c.process(context.Background(), c.logger, testEvent())
	reason, ok := review.SkipReason(err)
	if !ok || reason != "no_reviewable_files" {
		t.Fatalf("process() error = %v, want no_reviewable_files skip", err)
	}
}

func TestProcessPolicyCheckRunOnly(t *testing.T) {
	fx := defaultFixture()
	fx.policy = "post_review_comment: false\n"
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 0 {
		t.Errorf("posted reviews = %d, want none when post_review_comment is off", len(fx.reviews))
	}
	if len(fx.checkRuns) != 1 {
		t.Errorf("check runs = %d, want 1", len(fx.checkRuns))
	}
}

func TestProcessFailureThreshold(t *testing.T) {
	fx := defaultFixture()
	fx.policy = "failure_on_severity: low\n"
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.checkRuns) != 1 {
		t.Fatalf("check runs = %d, want 1", len(fx.checkRuns))
	}
	if fx.checkRuns[0].Conclusion != "failure" {
		t.Errorf("Conclusion = %q, want failure once a finding meets the threshold", fx.checkRuns[0].Conclusion)
	}
}

func TestProcessStrictInlineSuppressesUnplaced(t *testing.T) {
	fx := defaultFixture()
	fx.policy = "review_comment_mode: strict_inline\n"
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 1 {
		t.Fatalf("posted reviews = %d, want 1", len(fx.reviews))
	}
	posted := fx.reviews[0]
	if len(posted.Comments) != 1 {
		t.Errorf("inline comments = %d, want 1", len(posted.Comments))
	}
	if strings.Contains(posted.Body, "Missing package comment") {
		t.Errorf("strict mode must drop findings it cannot place inline:\n%s", posted.Body)
	}
	if fx.checkRuns[0].Output.Title != "1 finding, overall risk low" {
		t.Errorf("Title = %q, want the suppressed finding excluded", fx.checkRuns[0].Output.Title)
	}
}

func TestProcessSummaryOnlyMode(t *testing.T) {
	fx := defaultFixture()
	fx.policy = "review_comment_mode: summary_only\n"
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	posted := fx.reviews[0]
	if len(posted.Comments) != 0 {
		t.Errorf("inline comments = %d, want none in summary_only mode", len(posted.Comments))
	}
	if !strings.Contains(posted.Body, "The os import is unused") || !strings.Contains(posted.Body, "Missing package comment") {
		t.Errorf("summary body must keep every finding:\n%s", posted.Body)
	}
}

func TestProcessMalformedPolicyUsesDefaults(t *testing.T) {
	fx := defaultFixture()
	fx.policy = "review_comment_mode: [broken\n"
	c, _ := newWorker(t, fx, planJSON, reviewJSON)

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 1 {
		t.Errorf("posted reviews = %d, want 1 under the default policy", len(fx.reviews))
	}
}

func TestProcessPlannerValidationFailure(t *testing.T) {
	fx := defaultFixture()
	c, scripted := newWorker(t, fx, "not json", "still not json", "nope")

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v, want the validation failure handled", err)
	}
	if scripted.CallCount() != 3 {
		t.Errorf("LLM calls = %d, want the format-correction attempts", scripted.CallCount())
	}

	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 0 {
		t.Errorf("posted reviews = %d, want none", len(fx.reviews))
	}
	if len(fx.checkRuns) != 1 {
		t.Fatalf("check runs = %d, want the neutral report", len(fx.checkRuns))
	}
	run := fx.checkRuns[0]
	if run.Conclusion != "neutral" {
		t.Errorf("Conclusion = %q, want neutral", run.Conclusion)
	}
	if run.Output.Title != "Review not completed" {
		t.Errorf("Title = %q", run.Output.Title)
	}
	if !strings.Contains(run.Output.Summary, "planner stage") {
		t.Errorf("Summary = %q, want the failing stage named", run.Output.Summary)
	}
}

func TestProcessReviewerValidationFailure(t *testing.T) {
	fx := defaultFixture()
	c, scripted := newWorker(t, fx, planJSON, "junk", "junk", "junk")

	if err := c.process(context.Background(), c.logger, testEvent()); err != nil {
		t.Fatalf("process() error = %v, want the validation failure handled", err)
	}
	if scripted.CallCount() != 4 {
		t.Errorf("LLM calls = %d, want plan plus three review attempts", scripted.CallCount())
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.checkRuns) != 1 || !strings.Contains(fx.checkRuns[0].Output.Summary, "reviewer stage") {
		t.Fatalf("check runs = %+v, want a neutral report naming the reviewer", fx.checkRuns)
	}
}

func TestProcessLLMFailureRedelivers(t *testing.T) {
	fx := defaultFixture()
	c, scripted := newWorker(t, fx)
	scripted.Err = errors.New("connection reset")

	err := c.process(context.Background(), c.logger, testEvent())
	if !review.IsTransient(err) {
		t.Fatalf("process() error = %v, want transient", err)
	}
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.reviews) != 0 || len(fx.checkRuns) != 0 {
		t.Errorf("transport failure must not post: reviews=%d checks=%d", len(fx.reviews), len(fx.checkRuns))
	}
}

func TestProcessFatalLLMErrorIsConfig(t *testing.T) {
	c, scripted := newWorker(t, defaultFixture())
	scripted.Err = llm.NewFatalError(errors.New("api key rejected"))

	err := c.process(context.Background(), c.logger, testEvent())
	if !review.IsConfigError(err) {
		t.Fatalf("process() error = %v, want configuration", err)
	}
}

func TestHandleMessagePoisonAcks(t *testing.T) {
	c, _ := newWorker(t, defaultFixture())

	msg := &fakeMsg{data: []byte("not json"), subject: "review.event.acme.gadget.7"}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%t naked=%t, want the poison message acknowledged", msg.acked, msg.naked)
	}
	if got := c.reviewsFailed.Load(); got != 1 {
		t.Errorf("reviewsFailed = %d, want 1", got)
	}
}

func TestHandleMessageInvalidEventAcks(t *testing.T) {
	c, _ := newWorker(t, defaultFixture())

	ev := testEvent()
	ev.PRNumber = 0
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := &fakeMsg{data: body, subject: "review.event.acme.gadget.0"}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%t naked=%t, want the invalid event acknowledged", msg.acked, msg.naked)
	}
}

func TestHandleMessageSkipAcks(t *testing.T) {
	c, _ := newWorker(t, defaultFixture())
	c.guard = &fakeGuard{won: false}

	body, err := json.Marshal(testEvent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := &fakeMsg{data: body}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%t naked=%t, want the skip acknowledged", msg.acked, msg.naked)
	}
	if got := c.reviewsSkipped.Load(); got != 1 {
		t.Errorf("reviewsSkipped = %d, want 1", got)
	}
}

func TestHandleMessageTransientNaks(t *testing.T) {
	c, _ := newWorker(t, defaultFixture())
	c.guard = &fakeGuard{err: errors.New("kv down")}

	body, err := json.Marshal(testEvent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := &fakeMsg{data: body}
	c.handleMessage(context.Background(), msg)

	if msg.acked || !msg.naked {
		t.Errorf("acked=%t naked=%t, want the failure returned to the queue", msg.acked, msg.naked)
	}
	if got := c.reviewsFailed.Load(); got != 1 {
		t.Errorf("reviewsFailed = %d, want 1", got)
	}
}

func TestHandleMessageSuccessAcks(t *testing.T) {
	c, _ := newWorker(t, defaultFixture(), planJSON, reviewJSON)

	body, err := json.Marshal(testEvent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := &fakeMsg{data: body}
	c.handleMessage(context.Background(), msg)

	if !msg.acked || msg.naked {
		t.Errorf("acked=%t naked=%t, want the completed review acknowledged", msg.acked, msg.naked)
	}
	if got := c.reviewsCompleted.Load(); got != 1 {
		t.Errorf("reviewsCompleted = %d, want 1", got)
	}
}

func TestCheckTitle(t *testing.T) {
	rev := &review.Review{OverallRisk: review.RiskMedium}
	if got := checkTitle(rev); got != "No findings" {
		t.Errorf("checkTitle() = %q", got)
	}
	rev.Findings = []review.Finding{{Priority: 0, Type: review.FindingBug, File: "a.go", Message: "m"}}
	if got := checkTitle(rev); got != "1 finding, overall risk medium" {
		t.Errorf("checkTitle() = %q", got)
	}
	rev.Findings = append(rev.Findings, rev.Findings[0])
	if got := checkTitle(rev); got != "2 findings, overall risk medium" {
		t.Errorf("checkTitle() = %q", got)
	}
}
