package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	return dir, repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test Author",
			Email: "author@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGoGitLastCommit(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "main.go", "package main\n", "initial")

	c := NewGoGitClient()
	info, err := c.LastCommit(context.Background(), dir, "main.go")
	if err != nil {
		t.Fatalf("LastCommit: %v", err)
	}
	if info == nil {
		t.Fatal("LastCommit returned nil for committed path")
	}
	if info.Author != "Test Author" || info.Email != "author@example.com" {
		t.Errorf("author = %q <%s>", info.Author, info.Email)
	}
	if len(info.ShortHash) != 8 {
		t.Errorf("short hash = %q, want 8 chars", info.ShortHash)
	}
}

func TestGoGitLastCommitUntouchedPath(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "main.go", "package main\n", "initial")

	c := NewGoGitClient()
	info, err := c.LastCommit(context.Background(), dir, "missing.go")
	if err != nil {
		t.Fatalf("LastCommit: %v", err)
	}
	if info != nil {
		t.Fatalf("want nil for untouched path, got %+v", info)
	}
}

func TestGoGitHeadContent(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "a.txt", "committed\n", "initial")

	// working tree moves on, HEAD content must not
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("dirty\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewGoGitClient()
	got, err := c.HeadContent(context.Background(), dir, "a.txt")
	if err != nil {
		t.Fatalf("HeadContent: %v", err)
	}
	if got != "committed\n" {
		t.Errorf("HeadContent = %q", got)
	}
	if _, err := c.HeadContent(context.Background(), dir, "absent.txt"); err == nil {
		t.Error("want error for path absent at HEAD")
	}
}

func TestGoGitBranchAndCommitCount(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "a.txt", "one\n", "first")
	commitFile(t, repo, dir, "b.txt", "two\n", "second")

	c := NewGoGitClient()
	branch, err := c.Branch(context.Background(), dir)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if branch == "" || branch == DetachedHead {
		t.Errorf("branch = %q", branch)
	}
	n, err := c.CommitCount(context.Background(), dir)
	if err != nil {
		t.Fatalf("CommitCount: %v", err)
	}
	if n != 2 {
		t.Errorf("CommitCount = %d, want 2", n)
	}
}

func TestGoGitStatusQueries(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "a.txt", "one\n", "first")

	c := NewGoGitClient()
	ctx := context.Background()

	dirty, err := c.IsDirty(ctx, dir)
	if err != nil {
		t.Fatalf("IsDirty: %v", err)
	}
	if dirty {
		t.Error("clean tree reported dirty")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("untracked\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirty, err = c.IsDirty(ctx, dir)
	if err != nil {
		t.Fatalf("IsDirty: %v", err)
	}
	if !dirty {
		t.Error("modified tree reported clean")
	}
	untracked, err := c.UntrackedCount(ctx, dir)
	if err != nil {
		t.Fatalf("UntrackedCount: %v", err)
	}
	if untracked != 1 {
		t.Errorf("UntrackedCount = %d, want 1", untracked)
	}
}

func TestGoGitIsRepoPath(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, repo, dir, "a.txt", "one\n", "first")

	c := NewGoGitClient()
	ok, _ := c.IsRepoPath(context.Background(), dir)
	if !ok {
		t.Error("repo path not recognized")
	}
	ok, _ = c.IsRepoPath(context.Background(), t.TempDir())
	if ok {
		t.Error("plain directory recognized as repo")
	}
}
