package scanner

import (
	"github.com/go-git/go-git/v5"
)

// DetectBranch best-effort resolves the current git branch for root, used
// to enrich Point payloads so search results can be filtered or annotated
// by branch. Any failure (not a repo, detached HEAD on an unborn branch,
// etc.) returns "" rather than an error: branch enrichment is cosmetic, not
// load-bearing.
func DetectBranch(root string) string {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}
