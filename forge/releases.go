package forge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// Release is a forge release object.
type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	URL        string `json:"url"`
}

// GetLatestRelease returns the newest published release. A repository
// without releases yields an error satisfying IsNotFound.
func (c *Client) GetLatestRelease(ctx context.Context, owner, repo string) (Release, error) {
	var rel *github.RepositoryRelease
	err := c.call(ctx, "get_latest_release", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.GetLatestRelease(ctx, owner, repo)
		if err != nil {
			return resp, err
		}
		rel = got
		return resp, nil
	})
	if err != nil {
		return Release{}, fmt.Errorf("fetching latest release of %s/%s: %w", owner, repo, err)
	}
	return convertRelease(rel), nil
}

// GetReleaseByTag returns the release published for tag.
func (c *Client) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (Release, error) {
	var rel *github.RepositoryRelease
	err := c.call(ctx, "get_release_by_tag", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
		if err != nil {
			return resp, err
		}
		rel = got
		return resp, nil
	})
	if err != nil {
		return Release{}, fmt.Errorf("fetching release %s of %s/%s: %w", tag, owner, repo, err)
	}
	return convertRelease(rel), nil
}

// CreateRelease publishes a release for rel.TagName.
func (c *Client) CreateRelease(ctx context.Context, owner, repo string, rel Release) (Release, error) {
	if c.dryRun {
		c.logger.Info("dry run: skipping release creation",
			"repo", owner+"/"+repo, "tag", rel.TagName)
		return rel, nil
	}

	var created *github.RepositoryRelease
	err := c.call(ctx, "create_release", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.CreateRelease(ctx, owner, repo, releasePayload(rel))
		if err != nil {
			return resp, err
		}
		created = got
		return resp, nil
	})
	if err != nil {
		return Release{}, fmt.Errorf("creating release %s in %s/%s: %w", rel.TagName, owner, repo, err)
	}
	return convertRelease(created), nil
}

// UpdateRelease edits an existing release by id.
func (c *Client) UpdateRelease(ctx context.Context, owner, repo string, id int64, rel Release) (Release, error) {
	if c.dryRun {
		c.logger.Info("dry run: skipping release update",
			"repo", owner+"/"+repo, "release_id", id)
		return rel, nil
	}

	var updated *github.RepositoryRelease
	err := c.call(ctx, "update_release", func() (*github.Response, error) {
		got, resp, err := c.gh.Repositories.EditRelease(ctx, owner, repo, id, releasePayload(rel))
		if err != nil {
			return resp, err
		}
		updated = got
		return resp, nil
	})
	if err != nil {
		return Release{}, fmt.Errorf("updating release %d in %s/%s: %w", id, owner, repo, err)
	}
	return convertRelease(updated), nil
}

func releasePayload(rel Release) *github.RepositoryRelease {
	return &github.RepositoryRelease{
		TagName:    github.String(rel.TagName),
		Name:       github.String(rel.Name),
		Body:       github.String(rel.Body),
		Draft:      github.Bool(rel.Draft),
		Prerelease: github.Bool(rel.Prerelease),
	}
}

func convertRelease(rel *github.RepositoryRelease) Release {
	return Release{
		ID:         rel.GetID(),
		TagName:    rel.GetTagName(),
		Name:       rel.GetName(),
		Body:       rel.GetBody(),
		Draft:      rel.GetDraft(),
		Prerelease: rel.GetPrerelease(),
		URL:        rel.GetHTMLURL(),
	}
}
