package marketplace

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// FetchGitSource clones a git-hosted plugin into destDir. A non-empty ref
// checks out that branch or tag; depth-1 keeps clones cheap. Used for
// plugin specs with source "git" that bypass the marketplace archive flow.
func FetchGitSource(ctx context.Context, repoURL, ref, destDir string) error {
	if repoURL == "" {
		return fmt.Errorf("git source requires a repository url")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	opts := &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	if _, err := git.PlainCloneContext(ctx, destDir, false, opts); err != nil {
		// Branch miss: retry as a tag before giving up.
		if ref != "" {
			opts.ReferenceName = plumbing.NewTagReferenceName(ref)
			if _, tagErr := git.PlainCloneContext(ctx, destDir, false, opts); tagErr == nil {
				return nil
			}
		}
		os.RemoveAll(destDir)
		return fmt.Errorf("cloning plugin source %s: %w", repoURL, err)
	}
	return nil
}
