package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Ref is a git reference resolved to its commit.
type Ref struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// Tag pairs a tag name with the commit it points at.
type Tag struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// Comparison summarizes the commit range between two revisions.
type Comparison struct {
	Status   string   `json:"status"`
	AheadBy  int      `json:"ahead_by"`
	BehindBy int      `json:"behind_by"`
	Commits  []Commit `json:"commits"`
}

// GetRef resolves a reference such as heads/main or tags/v1.2.0. An
// unknown ref yields an error satisfying IsNotFound.
func (c *Client) GetRef(ctx context.Context, owner, repo, ref string) (Ref, error) {
	ref = strings.TrimPrefix(ref, "refs/")

	var got *github.Reference
	err := c.call(ctx, "get_ref", func() (*github.Response, error) {
		r, resp, err := c.gh.Git.GetRef(ctx, owner, repo, ref)
		if err != nil {
			return resp, err
		}
		got = r
		return resp, nil
	})
	if err != nil {
		return Ref{}, fmt.Errorf("resolving %s in %s/%s: %w", ref, owner, repo, err)
	}
	return Ref{Name: got.GetRef(), SHA: got.GetObject().GetSHA()}, nil
}

// CreateRef creates a branch or tag reference pointing at sha.
func (c *Client) CreateRef(ctx context.Context, owner, repo, ref, sha string) (Ref, error) {
	if !strings.HasPrefix(ref, "refs/") {
		ref = "refs/" + ref
	}
	if c.dryRun {
		c.logger.Info("dry run: skipping ref creation",
			"repo", owner+"/"+repo, "ref", ref, "sha", sha)
		return Ref{Name: ref, SHA: sha}, nil
	}

	var got *github.Reference
	err := c.call(ctx, "create_ref", func() (*github.Response, error) {
		r, resp, err := c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    github.String(ref),
			Object: &github.GitObject{SHA: github.String(sha)},
		})
		if err != nil {
			return resp, err
		}
		got = r
		return resp, nil
	})
	if err != nil {
		return Ref{}, fmt.Errorf("creating %s in %s/%s: %w", ref, owner, repo, err)
	}
	return Ref{Name: got.GetRef(), SHA: got.GetObject().GetSHA()}, nil
}

// ListTags returns the first page of up to 100 tags, newest first.
func (c *Client) ListTags(ctx context.Context, owner, repo string) ([]Tag, error) {
	var tags []Tag
	err := c.call(ctx, "list_tags", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.ListTags(ctx, owner, repo,
			&github.ListOptions{PerPage: 100})
		if err != nil {
			return resp, err
		}
		for _, t := range got {
			tags = append(tags, Tag{
				Name: t.GetName(),
				SHA:  t.GetCommit().GetSHA(),
			})
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tags for %s/%s: %w", owner, repo, err)
	}
	return tags, nil
}

// CompareCommits compares base...head and returns the range summary
// with the first page of commits.
func (c *Client) CompareCommits(ctx context.Context, owner, repo, base, head string) (*Comparison, error) {
	var cmp *github.CommitsComparison
	err := c.call(ctx, "compare_commits", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
		if err != nil {
			return resp, err
		}
		cmp = got
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("comparing %s...%s in %s/%s: %w", base, head, owner, repo, err)
	}

	out := &Comparison{
		Status:   cmp.GetStatus(),
		AheadBy:  cmp.GetAheadBy(),
		BehindBy: cmp.GetBehindBy(),
	}
	for _, rc := range cmp.Commits {
		out.Commits = append(out.Commits, convertCommit(rc))
	}
	return out, nil
}
