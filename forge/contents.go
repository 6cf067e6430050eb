package forge

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"

	"github.com/c360studio/semreview/retry"
)

// GetFileContents fetches a file at ref (empty means the default
// branch) and returns its decoded bytes. A missing path yields an
// error satisfying IsNotFound.
func (c *Client) GetFileContents(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	var data []byte
	err := c.call(ctx, "get_file_contents", func() (*github.Response, error) {
		file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return resp, err
		}
		if file == nil {
			return resp, retry.NonRetryable(fmt.Errorf("%s is a directory", path))
		}
		content, err := file.GetContent()
		if err != nil {
			return resp, retry.NonRetryable(fmt.Errorf("decoding %s: %w", path, err))
		}
		data = []byte(content)
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s/%s: %w", path, owner, repo, err)
	}
	return data, nil
}

// PutFileContents creates or updates a file on branch (empty means the
// default branch) with a single commit carrying message. An existing
// file is replaced in place.
func (c *Client) PutFileContents(ctx context.Context, owner, repo, path, branch, message string, content []byte) error {
	if c.dryRun {
		c.logger.Info("dry run: skipping file write",
			"repo", owner+"/"+repo, "path", path, "branch", branch)
		return nil
	}

	// The update endpoint requires the current blob SHA; a 404 here
	// means we create instead.
	var sha *string
	lookupErr := c.call(ctx, "put_file_contents", func() (*github.Response, error) {
		file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			return resp, err
		}
		if file != nil {
			sha = file.SHA
		}
		return resp, nil
	})
	if lookupErr != nil && !IsNotFound(lookupErr) {
		return fmt.Errorf("checking %s in %s/%s: %w", path, owner, repo, lookupErr)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		SHA:     sha,
	}
	if branch != "" {
		opts.Branch = github.String(branch)
	}

	err := c.call(ctx, "put_file_contents", func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		if sha != nil {
			_, resp, callErr = c.gh.Repositories.UpdateFile(ctx, owner, repo, path, opts)
		} else {
			_, resp, callErr = c.gh.Repositories.CreateFile(ctx, owner, repo, path, opts)
		}
		return resp, callErr
	})
	if err != nil {
		return fmt.Errorf("writing %s to %s/%s: %w", path, owner, repo, err)
	}
	return nil
}
