package webhook

import (
	"testing"

	"github.com/google/go-github/v57/github"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

func testOptions() Options {
	return Options{
		TriggerPhrase: "/review",
		BotUsername:   "review-bot",
		TriggerLabels: []string{"ai-review"},
		CheckRunName:  "AI Code Review",
	}
}

func prEvent(action string) *github.PullRequestEvent {
	return &github.PullRequestEvent{
		Action: github.String(action),
		Repo:   &github.Repository{FullName: github.String("acme/widgets")},
		PullRequest: &github.PullRequest{
			Number: github.Int(42),
			Head:   &github.PullRequestBranch{SHA: github.String(testSHA)},
			Base:   &github.PullRequestBranch{Ref: github.String("main")},
		},
		Installation: &github.Installation{ID: github.Int64(991)},
	}
}

func commentEvent(action, body string) *github.IssueCommentEvent {
	return &github.IssueCommentEvent{
		Action: github.String(action),
		Repo:   &github.Repository{FullName: github.String("acme/widgets")},
		Issue: &github.Issue{
			Number:           github.Int(42),
			PullRequestLinks: &github.PullRequestLinks{URL: github.String("https://example.test/pr/42")},
		},
		Comment:      &github.IssueComment{Body: github.String(body)},
		Installation: &github.Installation{ID: github.Int64(991)},
	}
}

func checkRunEvent(action, name string) *github.CheckRunEvent {
	return &github.CheckRunEvent{
		Action: github.String(action),
		Repo:   &github.Repository{FullName: github.String("acme/widgets")},
		CheckRun: &github.CheckRun{
			Name:    github.String(name),
			HeadSHA: github.String(testSHA),
			PullRequests: []*github.PullRequest{
				{
					Number: github.Int(42),
					Base:   &github.PullRequestBranch{Ref: github.String("main")},
				},
			},
		},
		Installation: &github.Installation{ID: github.Int64(991)},
	}
}

func TestClassifyPullRequestLifecycle(t *testing.T) {
	for _, action := range []string{"opened", "synchronize", "reopened", "ready_for_review"} {
		t.Run(action, func(t *testing.T) {
			c := Classify(prEvent(action), testOptions())
			if !c.Enqueue {
				t.Fatalf("Enqueue = false (%s), want true", c.IgnoreReason)
			}
			if c.Trigger != "auto" {
				t.Errorf("Trigger = %q, want auto", c.Trigger)
			}
			if c.RepoFullName != "acme/widgets" || c.PRNumber != 42 || c.HeadSHA != testSHA {
				t.Errorf("identity fields = %q %d %q", c.RepoFullName, c.PRNumber, c.HeadSHA)
			}
			if c.BaseRef != "main" {
				t.Errorf("BaseRef = %q, want main", c.BaseRef)
			}
			if c.InstallationID != 991 {
				t.Errorf("InstallationID = %d, want 991", c.InstallationID)
			}
		})
	}
}

func TestClassifyPullRequestIgnoredActions(t *testing.T) {
	for _, action := range []string{"closed", "edited", "assigned", "unlabeled"} {
		t.Run(action, func(t *testing.T) {
			c := Classify(prEvent(action), testOptions())
			if c.Enqueue {
				t.Fatal("Enqueue = true, want ignore")
			}
			if c.IgnoreReason != ReasonUnsupportedAction {
				t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, ReasonUnsupportedAction)
			}
		})
	}
}

func TestClassifyLabeled(t *testing.T) {
	tests := []struct {
		name       string
		label      string
		wantQueue  bool
		wantReason string
	}{
		{"trigger label", "ai-review", true, ""},
		{"case insensitive", "AI-Review", true, ""},
		{"other label", "docs", false, ReasonLabelNotInTriggerSet},
		{"no label in payload", "", false, ReasonLabelNotInTriggerSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := prEvent("labeled")
			if tt.label != "" {
				ev.Label = &github.Label{Name: github.String(tt.label)}
			}
			c := Classify(ev, testOptions())
			if c.Enqueue != tt.wantQueue {
				t.Errorf("Enqueue = %v, want %v", c.Enqueue, tt.wantQueue)
			}
			if c.IgnoreReason != tt.wantReason {
				t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, tt.wantReason)
			}
		})
	}
}

func TestClassifyIssueComment(t *testing.T) {
	tests := []struct {
		name       string
		action     string
		body       string
		wantQueue  bool
		wantReason string
	}{
		{"trigger phrase", "created", "please /review this", true, ""},
		{"phrase case insensitive", "created", "/REVIEW", true, ""},
		{"edited comment", "edited", "/review", true, ""},
		{"bot mention", "created", "hey @Review-Bot review when you can", true, ""},
		{"no trigger", "created", "looks fine to me", false, ReasonNoTriggerPhrase},
		{"deleted action", "deleted", "/review", false, ReasonUnsupportedAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(commentEvent(tt.action, tt.body), testOptions())
			if c.Enqueue != tt.wantQueue {
				t.Fatalf("Enqueue = %v (%s), want %v", c.Enqueue, c.IgnoreReason, tt.wantQueue)
			}
			if !tt.wantQueue && c.IgnoreReason != tt.wantReason {
				t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, tt.wantReason)
			}
			if tt.wantQueue {
				if c.Trigger != "manual" {
					t.Errorf("Trigger = %q, want manual", c.Trigger)
				}
				if c.HeadSHA != "" {
					t.Errorf("HeadSHA = %q, want empty pending resolution", c.HeadSHA)
				}
			}
		})
	}
}

func TestClassifyIssueCommentNotOnPR(t *testing.T) {
	ev := commentEvent("created", "/review")
	ev.Issue.PullRequestLinks = nil
	c := Classify(ev, testOptions())
	if c.Enqueue {
		t.Fatal("Enqueue = true for a plain issue comment")
	}
	if c.IgnoreReason != ReasonCommentNotOnPR {
		t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, ReasonCommentNotOnPR)
	}
}

func TestClassifyCheckRun(t *testing.T) {
	c := Classify(checkRunEvent("rerequested", "AI Code Review"), testOptions())
	if !c.Enqueue {
		t.Fatalf("Enqueue = false (%s), want true", c.IgnoreReason)
	}
	if c.Trigger != "rerun" {
		t.Errorf("Trigger = %q, want rerun", c.Trigger)
	}
	if c.HeadSHA != testSHA || c.PRNumber != 42 {
		t.Errorf("identity fields = %q %d", c.HeadSHA, c.PRNumber)
	}
}

func TestClassifyCheckRunMismatches(t *testing.T) {
	tests := []struct {
		name       string
		event      *github.CheckRunEvent
		wantReason string
	}{
		{"other check name", checkRunEvent("rerequested", "lint"), ReasonCheckNameMismatch},
		{"created action", checkRunEvent("created", "AI Code Review"), ReasonUnsupportedAction},
		{"completed action", checkRunEvent("completed", "AI Code Review"), ReasonUnsupportedAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.event, testOptions())
			if c.Enqueue {
				t.Fatal("Enqueue = true, want ignore")
			}
			if c.IgnoreReason != tt.wantReason {
				t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, tt.wantReason)
			}
		})
	}
}

func TestClassifyCheckRunNoPR(t *testing.T) {
	ev := checkRunEvent("rerequested", "AI Code Review")
	ev.CheckRun.PullRequests = nil
	c := Classify(ev, testOptions())
	if c.Enqueue {
		t.Fatal("Enqueue = true with no attached pull request")
	}
	if c.IgnoreReason != ReasonNoPullRequest {
		t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, ReasonNoPullRequest)
	}
}

func TestClassifyReviewCommentIgnored(t *testing.T) {
	ev := &github.PullRequestReviewCommentEvent{
		Action: github.String("created"),
		Repo:   &github.Repository{FullName: github.String("acme/widgets")},
	}
	c := Classify(ev, testOptions())
	if c.Enqueue {
		t.Fatal("Enqueue = true for a review comment event")
	}
	if c.IgnoreReason != ReasonReviewCommentLoop {
		t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, ReasonReviewCommentLoop)
	}
}

func TestClassifyUnknownEvent(t *testing.T) {
	c := Classify(&github.PushEvent{}, testOptions())
	if c.Enqueue {
		t.Fatal("Enqueue = true for a push event")
	}
	if c.IgnoreReason != ReasonUnsupportedEvent {
		t.Errorf("IgnoreReason = %q, want %q", c.IgnoreReason, ReasonUnsupportedEvent)
	}
}

func TestClassifyAllowList(t *testing.T) {
	opts := testOptions()
	opts.AllowedRepos = []string{"acme/widgets", "acme/gadgets"}

	if c := Classify(prEvent("opened"), opts); !c.Enqueue {
		t.Errorf("allow-listed repo ignored: %s", c.IgnoreReason)
	}

	opts.AllowedRepos = []string{"acme/other"}
	for _, ev := range []any{
		prEvent("opened"),
		commentEvent("created", "/review"),
		checkRunEvent("rerequested", "AI Code Review"),
	} {
		c := Classify(ev, opts)
		if c.Enqueue {
			t.Errorf("%T enqueued from a non-allowed repo", ev)
		}
		if c.IgnoreReason != ReasonRepoNotAllowed {
			t.Errorf("%T IgnoreReason = %q, want %q", ev, c.IgnoreReason, ReasonRepoNotAllowed)
		}
	}
}
