package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GoGitClient implements Client with the go-git library, avoiding any
// dependency on an installed git binary.
type GoGitClient struct{}

func NewGoGitClient() *GoGitClient { return &GoGitClient{} }

func (g *GoGitClient) open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

func (g *GoGitClient) IsRepoPath(ctx context.Context, path string) (bool, error) {
	if _, err := g.open(path); err != nil {
		return false, nil
	}
	return true, nil
}

func (g *GoGitClient) LastCommit(ctx context.Context, root, relPath string) (*CommitInfo, error) {
	repo, err := g.open(root)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{FileName: &relPath})
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", relPath, err)
	}
	defer iter.Close()
	commit, err := iter.Next()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", relPath, err)
	}
	return commitInfo(commit), nil
}

func (g *GoGitClient) HeadContent(ctx context.Context, root, relPath string) (string, error) {
	repo, err := g.open(root)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", fmt.Errorf("head commit: %w", err)
	}
	file, err := commit.File(relPath)
	if err != nil {
		return "", fmt.Errorf("%s at HEAD: %w", relPath, err)
	}
	return file.Contents()
}

func (g *GoGitClient) Identity(ctx context.Context, root string) (Identity, error) {
	repo, err := g.open(root)
	if err != nil {
		return Identity{}, err
	}
	cfg, err := repo.ConfigScoped(gitconfig.GlobalScope)
	if err != nil {
		return Identity{}, fmt.Errorf("read config: %w", err)
	}
	id := Identity{Name: cfg.User.Name, Email: cfg.User.Email}
	if id.Name == "" && id.Email == "" {
		return id, fmt.Errorf("no user identity configured in %s", root)
	}
	return id, nil
}

func (g *GoGitClient) Branch(ctx context.Context, root string) (string, error) {
	repo, err := g.open(root)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return DetachedHead, nil
}

func (g *GoGitClient) HeadCommit(ctx context.Context, root string) (*CommitInfo, error) {
	repo, err := g.open(root)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("head commit: %w", err)
	}
	return commitInfo(commit), nil
}

func (g *GoGitClient) IsDirty(ctx context.Context, root string) (bool, error) {
	status, err := g.status(root)
	if err != nil {
		return false, err
	}
	for _, st := range status {
		if st.Worktree == git.Untracked {
			continue
		}
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

func (g *GoGitClient) UntrackedCount(ctx context.Context, root string) (int, error) {
	status, err := g.status(root)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, st := range status {
		if st.Worktree == git.Untracked {
			count++
		}
	}
	return count, nil
}

func (g *GoGitClient) CommitCount(ctx context.Context, root string) (int, error) {
	repo, err := g.open(root)
	if err != nil {
		return 0, err
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()
	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return count, nil
}

func (g *GoGitClient) status(root string) (git.Status, error) {
	repo, err := g.open(root)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return status, nil
}

func commitInfo(c *object.Commit) *CommitInfo {
	hash := c.Hash.String()
	return &CommitInfo{
		Hash:      hash,
		ShortHash: shortHash(hash),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Message:   c.Message,
		When:      c.Author.When,
	}
}
