package scm

import "errors"

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Source describes the revision of a build context.
type Source struct {
	Commit string
	Branch string
	Dirty  bool
}

// ShortCommit returns the first twelve characters of the commit hash.
func (s Source) ShortCommit() string {
	if len(s.Commit) > 12 {
		return s.Commit[:12]
	}
	return s.Commit
}

// Tag returns an image tag for the revision, marking uncommitted changes.
func (s Source) Tag() string {
	if s.Dirty {
		return s.ShortCommit() + "-dirty"
	}
	return s.ShortCommit()
}
