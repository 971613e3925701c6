// Package client provides read-only git queries used by the watcher
// pipeline. Implementations may use the git binary or a pure-Go library.
package client

import (
	"context"
	"time"
)

// DetachedHead is reported by Branch when HEAD does not point at a branch.
const DetachedHead = "detached HEAD"

// CommitInfo describes one commit.
type CommitInfo struct {
	Hash      string
	ShortHash string
	Author    string
	Email     string
	Message   string
	When      time.Time
}

// Identity is the locally configured committer identity.
type Identity struct {
	Name  string
	Email string
}

// Client provides the version-control queries the pipeline consumes.
type Client interface {
	// IsRepoPath reports whether path is inside a usable git work tree.
	IsRepoPath(ctx context.Context, path string) (bool, error)
	// LastCommit returns the most recent commit touching relPath, or nil
	// when no commit has touched it.
	LastCommit(ctx context.Context, root, relPath string) (*CommitInfo, error)
	// HeadContent returns the content of relPath at the last committed
	// revision. An error means the path is absent there.
	HeadContent(ctx context.Context, root, relPath string) (string, error)
	// Identity returns the local user.name/user.email configuration.
	Identity(ctx context.Context, root string) (Identity, error)
	// Branch returns the active branch name, or DetachedHead.
	Branch(ctx context.Context, root string) (string, error)
	// HeadCommit returns the commit HEAD points at.
	HeadCommit(ctx context.Context, root string) (*CommitInfo, error)
	// IsDirty reports whether the working tree has staged or unstaged
	// modifications to tracked files.
	IsDirty(ctx context.Context, root string) (bool, error)
	// UntrackedCount counts files not yet known to git.
	UntrackedCount(ctx context.Context, root string) (int, error)
	// CommitCount returns the total number of commits reachable from HEAD.
	CommitCount(ctx context.Context, root string) (int, error)
}

// New builds a Client by implementation name: "gogit" selects the pure-Go
// client, anything else the exec client with the given git binary.
func New(kind, gitBin string) Client {
	if kind == "gogit" {
		return NewGoGitClient()
	}
	return NewExecClient(gitBin)
}
