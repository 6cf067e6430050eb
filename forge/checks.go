package forge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
)

// Check-run states and conclusions accepted by the forge.
const (
	CheckStatusQueued     = "queued"
	CheckStatusInProgress = "in_progress"
	CheckStatusCompleted  = "completed"

	CheckConclusionSuccess = "success"
	CheckConclusionNeutral = "neutral"
	CheckConclusionFailure = "failure"
)

// CheckRunParams describes a check run to create or update.
type CheckRunParams struct {
	Name    string
	HeadSHA string

	// Status is queued, in_progress, or completed. A non-empty
	// Conclusion forces completed.
	Status     string
	Conclusion string

	// Title and Summary populate the check-run output panel; Text is
	// the optional long-form markdown below it.
	Title   string
	Summary string
	Text    string
}

// CreateCheckRun creates a check run against the head commit and
// returns its id for later updates. Dry-run mode returns id zero.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo string, params CheckRunParams) (int64, error) {
	if c.dryRun {
		c.logger.Info("dry run: skipping check run creation",
			"repo", owner+"/"+repo, "name", params.Name, "head_sha", params.HeadSHA)
		return 0, nil
	}

	opts := github.CreateCheckRunOptions{
		Name:    params.Name,
		HeadSHA: params.HeadSHA,
		Output:  checkRunOutput(params),
	}
	status := params.Status
	if params.Conclusion != "" {
		status = CheckStatusCompleted
		opts.Conclusion = github.String(params.Conclusion)
		opts.CompletedAt = &github.Timestamp{Time: time.Now().UTC()}
	}
	if status != "" {
		opts.Status = github.String(status)
	}

	var id int64
	err := c.call(ctx, "create_check_run", func() (*github.Response, error) {
		run, resp, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, opts)
		if err != nil {
			return resp, err
		}
		id = run.GetID()
		return resp, nil
	})
	if err != nil {
		return 0, fmt.Errorf("creating check run %q on %s/%s: %w", params.Name, owner, repo, err)
	}
	return id, nil
}

// UpdateCheckRun updates an existing check run. An id of zero (from a
// dry-run creation) makes this a no-op.
func (c *Client) UpdateCheckRun(ctx context.Context, owner, repo string, id int64, params CheckRunParams) error {
	if c.dryRun || id == 0 {
		c.logger.Info("dry run: skipping check run update",
			"repo", owner+"/"+repo, "name", params.Name, "conclusion", params.Conclusion)
		return nil
	}

	opts := github.UpdateCheckRunOptions{
		Name:   params.Name,
		Output: checkRunOutput(params),
	}
	status := params.Status
	if params.Conclusion != "" {
		status = CheckStatusCompleted
		opts.Conclusion = github.String(params.Conclusion)
		opts.CompletedAt = &github.Timestamp{Time: time.Now().UTC()}
	}
	if status != "" {
		opts.Status = github.String(status)
	}

	err := c.call(ctx, "update_check_run", func() (*github.Response, error) {
		_, resp, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, id, opts)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("updating check run %d on %s/%s: %w", id, owner, repo, err)
	}
	return nil
}

func checkRunOutput(params CheckRunParams) *github.CheckRunOutput {
	if params.Title == "" && params.Summary == "" {
		return nil
	}
	out := &github.CheckRunOutput{
		Title:   github.String(params.Title),
		Summary: github.String(params.Summary),
	}
	if params.Text != "" {
		out.Text = github.String(params.Text)
	}
	return out
}
