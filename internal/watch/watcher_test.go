package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Picca1e-12/GenTestAI/internal/diff"
	gitclient "github.com/Picca1e-12/GenTestAI/internal/git/client"
	"github.com/Picca1e-12/GenTestAI/internal/model"
)

// fakeGit satisfies the client interface with canned answers so watcher
// tests never shell out.
type fakeGit struct {
	isRepo      bool
	lastCommit  *gitclient.CommitInfo
	headContent map[string]string
	identity    gitclient.Identity
	identityErr error
	branch      string
}

func (f *fakeGit) IsRepoPath(context.Context, string) (bool, error) { return f.isRepo, nil }

func (f *fakeGit) LastCommit(context.Context, string, string) (*gitclient.CommitInfo, error) {
	return f.lastCommit, nil
}

func (f *fakeGit) HeadContent(_ context.Context, _ string, relPath string) (string, error) {
	if content, ok := f.headContent[relPath]; ok {
		return content, nil
	}
	return "", errors.New("path not in HEAD")
}

func (f *fakeGit) Identity(context.Context, string) (gitclient.Identity, error) {
	return f.identity, f.identityErr
}

func (f *fakeGit) Branch(context.Context, string) (string, error) {
	if f.branch == "" {
		return "main", nil
	}
	return f.branch, nil
}

func (f *fakeGit) HeadCommit(context.Context, string) (*gitclient.CommitInfo, error) {
	return f.lastCommit, nil
}

func (f *fakeGit) IsDirty(context.Context, string) (bool, error)        { return false, nil }
func (f *fakeGit) UntrackedCount(context.Context, string) (int, error)  { return 0, nil }
func (f *fakeGit) CommitCount(context.Context, string) (int, error)     { return 1, nil }

type recordSink struct {
	mu      sync.Mutex
	records []model.ChangeRecord
}

func (s *recordSink) observe(rec model.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordSink) all() []model.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChangeRecord, len(s.records))
	copy(out, s.records)
	return out
}

// wait polls until a record matching the predicate arrives.
func (s *recordSink) wait(t *testing.T, match func(model.ChangeRecord) bool) model.ChangeRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, rec := range s.all() {
			if match(rec) {
				return rec
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no matching record arrived; saw %d records", len(s.all()))
	return model.ChangeRecord{}
}

func newTestWatcher(t *testing.T, git *fakeGit) (*Watcher, string, *recordSink) {
	t.Helper()
	root := t.TempDir()
	w, err := NewWatcher("repo-1", root, git, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	sink := &recordSink{}
	w.AddObserver(sink.observe)
	return w, root, sink
}

func TestNewWatcherRejectsNonRepository(t *testing.T) {
	_, err := NewWatcher("repo-1", t.TempDir(), &fakeGit{isRepo: false}, nil)
	if !errors.Is(err, ErrNotARepository) {
		t.Fatalf("expected ErrNotARepository, got %v", err)
	}
	_, err = NewWatcher("repo-1", filepath.Join(t.TempDir(), "missing"), &fakeGit{isRepo: true}, nil)
	if !errors.Is(err, ErrNotARepository) {
		t.Fatalf("expected ErrNotARepository for missing dir, got %v", err)
	}
}

func TestHandleEventCreated(t *testing.T) {
	git := &fakeGit{isRepo: true, lastCommit: &gitclient.CommitInfo{
		Author: "Ada", Email: "ada@example.com", ShortHash: "abcd1234",
	}}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Kind != model.KindCreated || rec.RelativePath != "main.go" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LinesAdded != 1 || rec.LinesRemoved != 0 {
		t.Fatalf("expected 1 added / 0 removed, got %d/%d", rec.LinesAdded, rec.LinesRemoved)
	}
	if rec.Author != "Ada" || rec.CommitHash != "abcd1234" {
		t.Fatalf("authorship not applied: %+v", rec)
	}
	if rec.Extension != ".go" {
		t.Fatalf("extension = %q", rec.Extension)
	}
	if rec.CurrentContent != "hello" || rec.PreviousContent != "" {
		t.Fatalf("content fields: prev=%q cur=%q", rec.PreviousContent, rec.CurrentContent)
	}
	if w.snapshotCount() != 1 {
		t.Fatalf("snapshot not stored")
	}
}

func TestHandleEventModifiedUsesSnapshot(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("one\ntwo"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	if err := os.WriteFile(path, []byte("one\nthree"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindModified)

	records := sink.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	rec := records[1]
	if rec.LinesAdded != 1 || rec.LinesRemoved != 1 {
		t.Fatalf("expected 1/1, got %d/%d", rec.LinesAdded, rec.LinesRemoved)
	}
	if rec.PreviousContent != "one\ntwo" {
		t.Fatalf("previous content = %q", rec.PreviousContent)
	}
	if !strings.Contains(rec.Diff, "-two") || !strings.Contains(rec.Diff, "+three") {
		t.Fatalf("diff missing change lines:\n%s", rec.Diff)
	}
}

func TestHandleEventModifiedWithoutSnapshotFallsBackToHead(t *testing.T) {
	git := &fakeGit{isRepo: true, headContent: map[string]string{
		"tracked.txt": "committed",
	}}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "tracked.txt")
	if err := os.WriteFile(path, []byte("working"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindModified)

	rec := sink.all()[0]
	if rec.PreviousContent != "committed" {
		t.Fatalf("expected HEAD fallback, got prev=%q", rec.PreviousContent)
	}
	if rec.LinesAdded != 1 || rec.LinesRemoved != 1 {
		t.Fatalf("expected 1/1, got %d/%d", rec.LinesAdded, rec.LinesRemoved)
	}
}

func TestHandleEventNoActualChanges(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "same.txt")
	if err := os.WriteFile(path, []byte("stable"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)
	w.handleEvent(path, model.KindModified)

	records := sink.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	rec := records[1]
	if rec.Diff != diff.SentinelNoChanges {
		t.Fatalf("expected no-changes sentinel, got %q", rec.Diff)
	}
	if rec.LinesAdded != 0 || rec.LinesRemoved != 0 {
		t.Fatalf("sentinel record must count 0/0")
	}
}

func TestHandleEventDeleted(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("a\nb"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindDeleted)

	records := sink.all()
	rec := records[1]
	if rec.Kind != model.KindDeleted {
		t.Fatalf("kind = %s", rec.Kind)
	}
	if rec.LinesRemoved != 2 || rec.LinesAdded != 0 {
		t.Fatalf("expected 0/2, got %d/%d", rec.LinesAdded, rec.LinesRemoved)
	}
	if rec.PreviousContent != "a\nb" || rec.CurrentContent != "" {
		t.Fatalf("content fields: prev=%q cur=%q", rec.PreviousContent, rec.CurrentContent)
	}
	if w.snapshotCount() != 0 {
		t.Fatalf("snapshot should be discarded after deletion")
	}

	// a second delete for the same path has no snapshot left
	w.handleEvent(path, model.KindDeleted)
	rec = sink.all()[2]
	if rec.Diff != diff.SentinelNoPriorSnapshot {
		t.Fatalf("expected no-prior-snapshot sentinel, got %q", rec.Diff)
	}
}

func TestHandleEventIgnoredPath(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	w.handleEvent(filepath.Join(root, ".git", "index"), model.KindModified)
	w.handleEvent(filepath.Join(root, "app.pyc"), model.KindCreated)

	if len(sink.all()) != 0 {
		t.Fatalf("ignored paths must not produce records")
	}
}

func TestResolveAuthorFallsBackToIdentity(t *testing.T) {
	git := &fakeGit{isRepo: true, identity: gitclient.Identity{Name: "Local", Email: ""}}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	rec := sink.all()[0]
	if rec.Author != "Local" || rec.AuthorEmail != "unknown" || rec.CommitHash != "" {
		t.Fatalf("identity fallback: %+v", rec)
	}
}

func TestResolveAuthorUnknown(t *testing.T) {
	git := &fakeGit{isRepo: true, identityErr: errors.New("no config")}
	w, root, sink := newTestWatcher(t, git)

	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	rec := sink.all()[0]
	if rec.Author != "unknown" || rec.AuthorEmail != "unknown" {
		t.Fatalf("expected unknown authorship, got %+v", rec)
	}
}

func TestObserverFailureIsolated(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, _ := newTestWatcher(t, git)

	var order []string
	var mu sync.Mutex
	w.AddObserver(func(model.ChangeRecord) error {
		mu.Lock()
		order = append(order, "failing")
		mu.Unlock()
		return errors.New("boom")
	})
	w.AddObserver(func(model.ChangeRecord) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})

	path := filepath.Join(root, "obs.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(path, model.KindCreated)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[1] != "second" {
		t.Fatalf("later observers must still run: %v", order)
	}
}

func TestStartSeedsSnapshotsAndStopClears(t *testing.T) {
	git := &fakeGit{isRepo: true}
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "__pycache__", "a.cpython.pyc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher("repo-1", root, git, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if !w.IsRunning() {
		t.Fatal("watcher should be running")
	}
	if got := w.snapshotCount(); got != 1 {
		t.Fatalf("expected 1 seeded snapshot, got %d", got)
	}

	// second Start is a no-op
	if err := w.Start(); err != nil {
		t.Fatalf("repeated Start: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.IsRunning() || w.snapshotCount() != 0 {
		t.Fatal("Stop must clear state")
	}
	// Stop is idempotent
	if err := w.Stop(); err != nil {
		t.Fatalf("repeated Stop: %v", err)
	}
}

func TestWatcherEmitsRecordsFromFilesystemEvents(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(root, "live.txt")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, func(r model.ChangeRecord) bool {
		return r.RelativePath == "live.txt" && r.Kind == model.KindCreated
	})

	if err := os.WriteFile(path, []byte("first\nsecond"), 0o644); err != nil {
		t.Fatal(err)
	}
	// truncate-then-write can surface as two events; wait for the one that
	// observed the final content
	sink.wait(t, func(r model.ChangeRecord) bool {
		return r.RelativePath == "live.txt" && r.Kind == model.KindModified &&
			r.CurrentContent == "first\nsecond"
	})

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, func(r model.ChangeRecord) bool {
		return r.RelativePath == "live.txt" && r.Kind == model.KindDeleted
	})
}

func TestWatcherSubscribesNewDirectories(t *testing.T) {
	git := &fakeGit{isRepo: true}
	w, root, sink := newTestWatcher(t, git)

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	sub := filepath.Join(root, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// give the loop a moment to attach the new directory
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "new.go"), []byte("package pkg"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink.wait(t, func(r model.ChangeRecord) bool {
		return r.RelativePath == filepath.Join("pkg", "new.go") && r.Kind == model.KindCreated
	})
}

func TestStatusPartial(t *testing.T) {
	git := &fakeGit{isRepo: true, branch: "develop", lastCommit: &gitclient.CommitInfo{
		ShortHash: "deadbeef", Author: "Ada",
	}}
	w, _, _ := newTestWatcher(t, git)

	st := w.Status()
	if st.IsWatching {
		t.Fatal("stopped watcher must not report watching")
	}
	if st.Branch != "develop" || st.TotalCommits != 1 {
		t.Fatalf("status: %+v", st)
	}
	if st.LatestCommit == nil || st.LatestCommit.ShortHash != "deadbeef" {
		t.Fatalf("latest commit: %+v", st.LatestCommit)
	}
	if st.Err != "" {
		t.Fatalf("unexpected status error: %s", st.Err)
	}
}
