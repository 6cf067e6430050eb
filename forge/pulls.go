package forge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/c360studio/semreview/review"
)

// PullRequest is the forge-neutral pull-request projection consumed by
// the pipeline.
type PullRequest struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	State   string   `json:"state"`
	Draft   bool     `json:"draft"`
	Merged  bool     `json:"merged"`
	HeadRef string   `json:"head_ref"`
	HeadSHA string   `json:"head_sha"`
	BaseRef string   `json:"base_ref"`
	Author  string   `json:"author"`
	Labels  []string `json:"labels,omitempty"`
	URL     string   `json:"url"`

	// MergedAt is zero for unmerged pulls.
	MergedAt time.Time `json:"merged_at"`
}

// Commit is one commit in a pull request or comparison.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// GetPullRequest fetches the pull-request object.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pr *github.PullRequest
	err := c.call(ctx, "get_pull_request", func() (*github.Response, error) {
		got, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			return resp, err
		}
		pr = got
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return convertPullRequest(pr), nil
}

// ListChangedFiles returns every changed file in the pull request,
// following pagination at 100 files per page.
func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]review.ChangedFileEntry, error) {
	var entries []review.ChangedFileEntry
	opts := &github.ListOptions{PerPage: 100}
	for {
		var files []*github.CommitFile
		var nextPage int
		err := c.call(ctx, "list_changed_files", func() (*github.Response, error) {
			page, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			if err != nil {
				return resp, err
			}
			files = page
			nextPage = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing files for %s/%s#%d: %w", owner, repo, number, err)
		}

		for _, f := range files {
			entries = append(entries, review.ChangedFileEntry{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.GetPatch(),
			})
		}

		if nextPage == 0 {
			return entries, nil
		}
		opts.Page = nextPage
	}
}

// ListCommits returns the commits in the pull request, following
// pagination.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error) {
	var commits []Commit
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.RepositoryCommit
		var nextPage int
		err := c.call(ctx, "list_commits", func() (*github.Response, error) {
			got, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
			if err != nil {
				return resp, err
			}
			page = got
			nextPage = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing commits for %s/%s#%d: %w", owner, repo, number, err)
		}

		for _, rc := range page {
			commits = append(commits, convertCommit(rc))
		}

		if nextPage == 0 {
			return commits, nil
		}
		opts.Page = nextPage
	}
}

// ListClosedPulls returns closed pull requests targeting base, most
// recently updated first. limit caps the result; zero means a single
// page of 100.
func (c *Client) ListClosedPulls(ctx context.Context, owner, repo, base string, limit int) ([]PullRequest, error) {
	var pulls []PullRequest
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Base:        base,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var page []*github.PullRequest
		var nextPage int
		err := c.call(ctx, "list_closed_pulls", func() (*github.Response, error) {
			got, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
			if err != nil {
				return resp, err
			}
			page = got
			nextPage = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing closed pulls for %s/%s: %w", owner, repo, err)
		}

		for _, pr := range page {
			pulls = append(pulls, *convertPullRequest(pr))
			if limit > 0 && len(pulls) >= limit {
				return pulls[:limit], nil
			}
		}

		if nextPage == 0 || limit == 0 {
			return pulls, nil
		}
		opts.Page = nextPage
	}
}

// UpdatePullRequestBody replaces the pull-request description.
func (c *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	if c.dryRun {
		c.logger.Info("dry run: skipping pull request body update",
			"repo", owner+"/"+repo, "pr", number)
		return nil
	}

	err := c.call(ctx, "update_pull_request_body", func() (*github.Response, error) {
		_, resp, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("updating body of %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

func convertPullRequest(pr *github.PullRequest) *PullRequest {
	out := &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		State:   pr.GetState(),
		Draft:   pr.GetDraft(),
		Merged:  pr.GetMerged(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		Author:  pr.GetUser().GetLogin(),
		URL:     pr.GetHTMLURL(),
	}
	// The list endpoint leaves the merged flag unset; merged_at is
	// authoritative there.
	if pr.MergedAt != nil {
		out.Merged = true
		out.MergedAt = pr.MergedAt.Time
	}
	for _, label := range pr.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	return out
}

func convertCommit(rc *github.RepositoryCommit) Commit {
	author := rc.GetAuthor().GetLogin()
	if author == "" {
		author = rc.GetCommit().GetAuthor().GetName()
	}
	return Commit{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
		Author:  author,
	}
}
