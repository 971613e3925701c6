package client

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Picca1e-12/GenTestAI/internal/git/runner"
)

// logFormat yields one unit-separated record per commit.
const logFormat = "%H%x1f%an%x1f%ae%x1f%at%x1f%s"

// ExecClient implements Client using the git binary.
type ExecClient struct{ r runner.Runner }

func NewExecClient(bin string) *ExecClient {
	return &ExecClient{r: runner.NewExecRunner(bin)}
}

func (c *ExecClient) IsRepoPath(ctx context.Context, path string) (bool, error) {
	out, err := c.r.Run(ctx, path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

func (c *ExecClient) LastCommit(ctx context.Context, root, relPath string) (*CommitInfo, error) {
	out, err := c.r.Run(ctx, root, "log", "-1", "--format="+logFormat, "--", relPath)
	if err != nil {
		return nil, err
	}
	return parseCommitLine(out)
}

func (c *ExecClient) HeadContent(ctx context.Context, root, relPath string) (string, error) {
	return c.r.Run(ctx, root, "show", "HEAD:"+relPath)
}

func (c *ExecClient) Identity(ctx context.Context, root string) (Identity, error) {
	var id Identity
	if out, err := c.r.Run(ctx, root, "config", "user.name"); err == nil {
		id.Name = strings.TrimSpace(out)
	}
	if out, err := c.r.Run(ctx, root, "config", "user.email"); err == nil {
		id.Email = strings.TrimSpace(out)
	}
	if id.Name == "" && id.Email == "" {
		return id, fmt.Errorf("no user identity configured in %s", root)
	}
	return id, nil
}

func (c *ExecClient) Branch(ctx context.Context, root string) (string, error) {
	out, err := c.r.Run(ctx, root, "symbolic-ref", "--short", "-q", "HEAD")
	if err == nil {
		if b := strings.TrimSpace(out); b != "" {
			return b, nil
		}
	}
	// HEAD exists but points at no branch
	if _, err := c.r.Run(ctx, root, "rev-parse", "HEAD"); err != nil {
		return "", err
	}
	return DetachedHead, nil
}

func (c *ExecClient) HeadCommit(ctx context.Context, root string) (*CommitInfo, error) {
	out, err := c.r.Run(ctx, root, "log", "-1", "--format="+logFormat)
	if err != nil {
		return nil, err
	}
	info, err := parseCommitLine(out)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("no commits in %s", root)
	}
	return info, nil
}

func (c *ExecClient) IsDirty(ctx context.Context, root string) (bool, error) {
	entries, err := c.statusEntries(ctx, root)
	if err != nil {
		return false, err
	}
	for _, code := range entries {
		if code != "??" {
			return true, nil
		}
	}
	return false, nil
}

func (c *ExecClient) UntrackedCount(ctx context.Context, root string) (int, error) {
	entries, err := c.statusEntries(ctx, root)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, code := range entries {
		if code == "??" {
			count++
		}
	}
	return count, nil
}

func (c *ExecClient) CommitCount(ctx context.Context, root string) (int, error) {
	out, err := c.r.Run(ctx, root, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count: %w", err)
	}
	return n, nil
}

// statusEntries maps each porcelain status line's path to its two-letter code.
func (c *ExecClient) statusEntries(ctx context.Context, root string) (map[string]string, error) {
	out, err := c.r.Run(ctx, root, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}
		if code != "??" {
			code = strings.TrimSpace(code)
		}
		entries[path] = code
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan git status: %w", err)
	}
	return entries, nil
}

// parseCommitLine decodes one logFormat record. Empty output means no
// matching commit and yields (nil, nil).
func parseCommitLine(out string) (*CommitInfo, error) {
	line := strings.TrimSpace(out)
	if line == "" {
		return nil, nil
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	parts := strings.Split(line, "\x1f")
	if len(parts) < 5 {
		return nil, fmt.Errorf("malformed git log record: %q", line)
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse commit timestamp: %w", err)
	}
	info := &CommitInfo{
		Hash:    parts[0],
		Author:  parts[1],
		Email:   parts[2],
		Message: parts[4],
		When:    time.Unix(ts, 0),
	}
	info.ShortHash = shortHash(info.Hash)
	return info, nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
