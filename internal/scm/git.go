package scm

import (
	"errors"
	"fmt"
	"log/slog"

	git "github.com/go-git/go-git/v5"
)

// Describe resolves the checked-out revision of the repository containing dir.
// It returns ErrNotRepository when dir is not part of a git work tree.
func Describe(dir string) (Source, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Source{}, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return Source{}, fmt.Errorf("failed to open git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return Source{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	src := Source{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		src.Branch = head.Name().Short()
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Source{}, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return Source{}, fmt.Errorf("failed to read worktree status: %w", err)
	}
	src.Dirty = !status.IsClean()

	slog.Debug("Resolved build context revision", "dir", dir, "commit", src.ShortCommit(), "dirty", src.Dirty)
	return src, nil
}
