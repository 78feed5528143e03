// Package repostate identifies the repository state findings were detected
// in.
package repostate

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DirtySuffix marks a state hash taken from a worktree with local changes.
const DirtySuffix = "-dirty"

// Hash returns the HEAD commit hash of the git repository containing root,
// suffixed with DirtySuffix when the worktree has uncommitted changes. It
// returns "" when root is not inside a repository or HEAD has no commits.
func Hash(root string) (string, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	hash := head.Hash().String()

	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return hash, nil
	}
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		hash += DirtySuffix
	}
	return hash, nil
}
