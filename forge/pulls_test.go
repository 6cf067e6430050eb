package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestGetPullRequest(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, `{
			"number": 7,
			"title": "Add token expiry check",
			"body": "Fixes CORE-12",
			"state": "open",
			"draft": true,
			"head": {"ref": "fix/expiry", "sha": %q},
			"base": {"ref": "main"},
			"user": {"login": "octocat"},
			"labels": [{"name": "needs-review"}, {"name": "auth"}],
			"html_url": "https://forge.example/acme/gadget/pull/7"
		}`, testHeadSHA)
	})

	c := newTestClient(t, Options{}, handler)
	pr, err := c.GetPullRequest(context.Background(), "acme", "gadget", 7)
	if err != nil {
		t.Fatalf("GetPullRequest failed: %v", err)
	}

	if gotPath != "/repos/acme/gadget/pulls/7" {
		t.Errorf("unexpected request path %s", gotPath)
	}
	if pr.Number != 7 {
		t.Errorf("expected number 7, got %d", pr.Number)
	}
	if pr.Title != "Add token expiry check" {
		t.Errorf("unexpected title %q", pr.Title)
	}
	if pr.Body != "Fixes CORE-12" {
		t.Errorf("unexpected body %q", pr.Body)
	}
	if pr.State != "open" || !pr.Draft || pr.Merged {
		t.Errorf("unexpected state fields: state=%q draft=%v merged=%v", pr.State, pr.Draft, pr.Merged)
	}
	if pr.HeadRef != "fix/expiry" || pr.HeadSHA != testHeadSHA || pr.BaseRef != "main" {
		t.Errorf("unexpected refs: head=%q sha=%q base=%q", pr.HeadRef, pr.HeadSHA, pr.BaseRef)
	}
	if pr.Author != "octocat" {
		t.Errorf("unexpected author %q", pr.Author)
	}
	if len(pr.Labels) != 2 || pr.Labels[0] != "needs-review" || pr.Labels[1] != "auth" {
		t.Errorf("unexpected labels %v", pr.Labels)
	}
	if pr.URL != "https://forge.example/acme/gadget/pull/7" {
		t.Errorf("unexpected URL %q", pr.URL)
	}
}

func TestGetPullRequestMergedAt(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"number": 7,
			"state": "closed",
			"merged_at": "2026-08-01T10:00:00Z"
		}`)
	})

	c := newTestClient(t, Options{}, handler)
	pr, err := c.GetPullRequest(context.Background(), "acme", "gadget", 7)
	if err != nil {
		t.Fatalf("GetPullRequest failed: %v", err)
	}
	if !pr.Merged {
		t.Error("merged_at should imply merged")
	}
	want := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if !pr.MergedAt.Equal(want) {
		t.Errorf("expected MergedAt %v, got %v", want, pr.MergedAt)
	}
}

func TestListChangedFilesPagination(t *testing.T) {
	var queries []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `</repos/acme/gadget/pulls/7/files?page=2&per_page=100>; rel="next"`)
			fmt.Fprint(w, `[
				{"filename": "auth/token.go", "status": "modified", "additions": 40, "deletions": 3, "changes": 43, "patch": "@@ -1,2 +1,3 @@"},
				{"filename": "auth/token_test.go", "status": "added", "additions": 52, "deletions": 0, "changes": 52, "patch": "@@ -0,0 +1,52 @@"}
			]`)
			return
		}
		fmt.Fprint(w, `[
			{"filename": "assets/logo.png", "status": "added", "additions": 0, "deletions": 0, "changes": 0}
		]`)
	})

	c := newTestClient(t, Options{}, handler)
	files, err := c.ListChangedFiles(context.Background(), "acme", "gadget", 7)
	if err != nil {
		t.Fatalf("ListChangedFiles failed: %v", err)
	}

	if len(queries) != 2 {
		t.Fatalf("expected 2 page requests, got %d: %v", len(queries), queries)
	}
	if queries[0] != "per_page=100" {
		t.Errorf("first page query = %q, want per_page=100", queries[0])
	}

	if len(files) != 3 {
		t.Fatalf("expected 3 files across pages, got %d", len(files))
	}
	first := files[0]
	if first.Filename != "auth/token.go" || first.Status != "modified" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Additions != 40 || first.Deletions != 3 || first.Changes != 43 {
		t.Errorf("unexpected counts: %+v", first)
	}
	if first.Patch != "@@ -1,2 +1,3 @@" {
		t.Errorf("unexpected patch %q", first.Patch)
	}
	if first.PatchTruncated {
		t.Error("forge listing must not mark patches truncated")
	}
	if files[2].Filename != "assets/logo.png" || files[2].Patch != "" {
		t.Errorf("unexpected binary entry: %+v", files[2])
	}
}

func TestListCommits(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"sha": "aaa111", "commit": {"message": "add expiry check", "author": {"name": "Octo Cat"}}, "author": {"login": "octocat"}},
			{"sha": "bbb222", "commit": {"message": "fix test", "author": {"name": "Drive-by Contributor"}}}
		]`)
	})

	c := newTestClient(t, Options{}, handler)
	commits, err := c.ListCommits(context.Background(), "acme", "gadget", 7)
	if err != nil {
		t.Fatalf("ListCommits failed: %v", err)
	}

	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].SHA != "aaa111" || commits[0].Message != "add expiry check" {
		t.Errorf("unexpected first commit: %+v", commits[0])
	}
	if commits[0].Author != "octocat" {
		t.Errorf("expected login to win over commit author, got %q", commits[0].Author)
	}
	if commits[1].Author != "Drive-by Contributor" {
		t.Errorf("expected fallback to commit author name, got %q", commits[1].Author)
	}
}

func TestListClosedPulls(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		q := r.URL.Query()
		if q.Get("state") != "closed" || q.Get("base") != "main" ||
			q.Get("sort") != "updated" || q.Get("direction") != "desc" {
			t.Errorf("unexpected list query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Link", `</repos/acme/gadget/pulls?page=2>; rel="next"`)
		fmt.Fprint(w, `[
			{"number": 6, "state": "closed", "merged_at": "2026-07-20T09:00:00Z"},
			{"number": 5, "state": "closed"},
			{"number": 4, "state": "closed", "merged_at": "2026-07-01T09:00:00Z"}
		]`)
	})

	c := newTestClient(t, Options{}, handler)
	pulls, err := c.ListClosedPulls(context.Background(), "acme", "gadget", "main", 2)
	if err != nil {
		t.Fatalf("ListClosedPulls failed: %v", err)
	}

	if len(pulls) != 2 {
		t.Fatalf("expected limit of 2 pulls, got %d", len(pulls))
	}
	if requests != 1 {
		t.Errorf("limit reached on page one, expected 1 request, got %d", requests)
	}
	if !pulls[0].Merged || pulls[1].Merged {
		t.Errorf("merged flags wrong: %v %v", pulls[0].Merged, pulls[1].Merged)
	}
}

func TestUpdatePullRequestBody(t *testing.T) {
	var gotMethod string
	var payload map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decoding edit payload: %v", err)
		}
		fmt.Fprint(w, `{"number": 7}`)
	})

	c := newTestClient(t, Options{}, handler)
	if err := c.UpdatePullRequestBody(context.Background(), "acme", "gadget", 7, "## Generated summary"); err != nil {
		t.Fatalf("UpdatePullRequestBody failed: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", gotMethod)
	}
	if payload["body"] != "## Generated summary" {
		t.Errorf("unexpected body payload: %v", payload["body"])
	}
}
