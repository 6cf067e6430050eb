package forge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// ReviewComment anchors one comment to a position in a file's diff.
// Position is the 1-based offset into the unified patch body, not a
// file line number.
type ReviewComment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

// ReviewRequest is a pull-request review to post.
type ReviewRequest struct {
	// CommitSHA pins the review to the head commit it was produced
	// against.
	CommitSHA string

	// Body is the rendered review markdown.
	Body string

	// Event is COMMENT, APPROVE, or REQUEST_CHANGES. Empty means
	// COMMENT.
	Event string

	Comments []ReviewComment
}

// CreateReview posts a review with optional inline comments.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, number int, req ReviewRequest) error {
	if c.dryRun {
		c.logger.Info("dry run: skipping review post",
			"repo", owner+"/"+repo, "pr", number, "inline_comments", len(req.Comments))
		return nil
	}

	event := req.Event
	if event == "" {
		event = "COMMENT"
	}

	var drafts []*github.DraftReviewComment
	for _, cm := range req.Comments {
		drafts = append(drafts, &github.DraftReviewComment{
			Path:     github.String(cm.Path),
			Position: github.Int(cm.Position),
			Body:     github.String(cm.Body),
		})
	}

	ghReq := &github.PullRequestReviewRequest{
		Body:     github.String(req.Body),
		Event:    github.String(event),
		Comments: drafts,
	}
	if req.CommitSHA != "" {
		ghReq.CommitID = github.String(req.CommitSHA)
	}

	err := c.call(ctx, "create_review", func() (*github.Response, error) {
		_, resp, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, ghReq)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("posting review on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

// CreateIssueComment posts a plain comment on the pull request's
// conversation thread.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if c.dryRun {
		c.logger.Info("dry run: skipping issue comment",
			"repo", owner+"/"+repo, "pr", number)
		return nil
	}

	err := c.call(ctx, "create_issue_comment", func() (*github.Response, error) {
		_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("commenting on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}
