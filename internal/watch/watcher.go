// Package watch owns the per-repository snapshot store and filesystem
// subscription, turning raw events into enriched change records.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Picca1e-12/GenTestAI/internal/diff"
	gitclient "github.com/Picca1e-12/GenTestAI/internal/git/client"
	"github.com/Picca1e-12/GenTestAI/internal/ignore"
	"github.com/Picca1e-12/GenTestAI/internal/logging"
	"github.com/Picca1e-12/GenTestAI/internal/model"
)

// ErrNotARepository reports that a watch root is not a usable git work tree.
var ErrNotARepository = errors.New("not a git repository")

// Observer is invoked synchronously from the watcher's event-processing
// context for every new record. A returned error is isolated and logged;
// it never aborts the remaining observers.
type Observer func(model.ChangeRecord) error

type State int

const (
	Stopped State = iota
	Initializing
	Running
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

const (
	stopTimeout = 5 * time.Second
	gitTimeout  = 10 * time.Second
)

// Watcher monitors one repository root. The snapshot map has exactly one
// writer: the event loop goroutine (seeding happens before the loop starts).
type Watcher struct {
	repoID string
	root   string
	git    gitclient.Client
	log    logging.Logger

	mu        sync.Mutex
	state     State
	snapshots map[string]string
	observers []Observer
	fsw       *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher validates root as a git work tree and builds a stopped
// watcher. Invalid roots yield ErrNotARepository and no watcher.
func NewWatcher(repoID, root string, git gitclient.Client, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Nop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, abs)
	}
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	ok, err := git.IsRepoPath(ctx, abs)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, abs)
	}
	return &Watcher{
		repoID:    repoID,
		root:      abs,
		git:       git,
		log:       log,
		snapshots: make(map[string]string),
	}, nil
}

func (w *Watcher) RepositoryID() string { return w.repoID }
func (w *Watcher) Root() string         { return w.root }

// AddObserver registers fn for all future records.
func (w *Watcher) AddObserver(fn Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

// Start seeds the snapshot store from a full tree walk, attaches the
// filesystem subscription, and launches the event loop. Calling Start on a
// watcher that is not stopped is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.state != Stopped {
		w.mu.Unlock()
		return nil
	}
	w.state = Initializing
	w.mu.Unlock()

	seeded := w.seedSnapshots()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.setState(Stopped)
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := addRecursive(fsw, w.root); err != nil {
		w.log.Warn("watch tree setup incomplete", "repository", w.repoID, "error", err)
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.fsw = fsw
	w.done = done
	w.state = Running
	w.mu.Unlock()

	go w.loop(fsw, done)

	w.log.Info("watcher started", "repository", w.repoID, "path", w.root, "snapshots", seeded)
	return nil
}

// Stop detaches the subscription and joins the event loop with a bounded
// wait, then clears the snapshot store. Teardown proceeds even when the
// join times out. Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state == Stopped {
		w.mu.Unlock()
		return nil
	}
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.done = nil
	w.mu.Unlock()

	if fsw != nil {
		if err := fsw.Close(); err != nil {
			w.log.Warn("close filesystem watcher", "repository", w.repoID, "error", err)
		}
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopTimeout):
			w.log.Warn("watcher loop did not exit before timeout", "repository", w.repoID)
		}
	}

	w.mu.Lock()
	w.snapshots = make(map[string]string)
	w.state = Stopped
	w.mu.Unlock()

	w.log.Info("watcher stopped", "repository", w.repoID, "path", w.root)
	return nil
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// IsRunning reports whether the event loop is attached.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == Running
}

// seedSnapshots walks the tree and captures every non-ignored file's
// content as the diff baseline. Unreadable files are skipped.
func (w *Watcher) seedSnapshots() int {
	count := 0
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.root && ignore.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.ShouldIgnore(path) {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		content, err := readFileLossy(path)
		if err != nil {
			w.log.Warn("snapshot seed skipped unreadable file", "path", rel, "error", err)
			return nil
		}
		w.mu.Lock()
		w.snapshots[rel] = content
		w.mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		w.log.Warn("snapshot seed walk failed", "repository", w.repoID, "error", err)
	}
	return count
}

// loop drains the subscription. Events for one tree are processed strictly
// one at a time; each callback does only local reads.
func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.dispatch(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "repository", w.repoID, "error", err)
		}
	}
}

func (w *Watcher) dispatch(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	var kind model.ChangeKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// new directories join the subscription, they are not changes
			if !ignore.ShouldIgnore(ev.Name) {
				_ = addRecursive(fsw, ev.Name)
			}
			return
		}
		kind = model.KindCreated
	case ev.Op&fsnotify.Write != 0:
		kind = model.KindModified
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = model.KindDeleted
	default:
		return
	}
	w.handleEvent(ev.Name, kind)
}

// handleEvent normalizes one raw (path, kind) event into a change record
// and hands it to the observers.
func (w *Watcher) handleEvent(absPath string, kind model.ChangeKind) {
	if ignore.ShouldIgnore(absPath) {
		return
	}
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if kind != model.KindDeleted {
		info, err := os.Stat(absPath)
		if err == nil && info.IsDir() {
			return
		}
	}

	rec := w.buildRecord(absPath, rel, kind)
	w.notify(rec)
}

// buildRecord computes the diff against the snapshot, updates the snapshot,
// and enriches the record with authorship. Enrichment errors degrade to
// sentinel values; record construction itself never fails.
func (w *Watcher) buildRecord(absPath, rel string, kind model.ChangeKind) model.ChangeRecord {
	var prev, cur string
	var result diff.Result

	switch kind {
	case model.KindDeleted:
		w.mu.Lock()
		snapshot, ok := w.snapshots[rel]
		if ok {
			delete(w.snapshots, rel)
		}
		w.mu.Unlock()
		if ok {
			prev = snapshot
			result = diff.Compute(rel, prev, "")
		} else {
			result = diff.NoPriorSnapshot()
		}

	default:
		if content, err := readFileLossy(absPath); err == nil {
			cur = content
		}
		w.mu.Lock()
		snapshot, ok := w.snapshots[rel]
		w.mu.Unlock()
		if ok {
			prev = snapshot
		} else if kind != model.KindCreated {
			// first observation of an already-tracked file: fall back to
			// the last committed revision
			ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
			if content, err := w.git.HeadContent(ctx, w.root, filepath.ToSlash(rel)); err == nil {
				prev = content
			}
			cancel()
		}
		result = diff.Compute(rel, prev, cur)
		w.mu.Lock()
		w.snapshots[rel] = cur
		w.mu.Unlock()
	}

	author, email, commitHash := w.resolveAuthor(rel)

	return model.ChangeRecord{
		ID:              uuid.New().String(),
		RepositoryID:    w.repoID,
		FilePath:        absPath,
		RelativePath:    rel,
		Kind:            kind,
		Timestamp:       time.Now().UTC(),
		Extension:       filepath.Ext(absPath),
		Diff:            result.Raw,
		FormattedDiff:   result.Formatted,
		LinesAdded:      result.Added,
		LinesRemoved:    result.Removed,
		Author:          author,
		AuthorEmail:     email,
		CommitHash:      commitHash,
		DeliveryState:   model.DeliveryPending,
		PreviousContent: prev,
		CurrentContent:  cur,
	}
}

// resolveAuthor finds the most recent commit touching rel, falling back to
// the local identity configuration and finally to the unknown triple. It
// never fails the record build.
func (w *Watcher) resolveAuthor(rel string) (name, email, commitHash string) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	if info, err := w.git.LastCommit(ctx, w.root, filepath.ToSlash(rel)); err == nil && info != nil {
		return info.Author, info.Email, info.ShortHash
	}

	if id, err := w.git.Identity(ctx, w.root); err == nil {
		name, email = id.Name, id.Email
		if name == "" {
			name = "unknown"
		}
		if email == "" {
			email = "unknown"
		}
		return name, email, ""
	}

	return "unknown", "unknown", ""
}

func (w *Watcher) notify(rec model.ChangeRecord) {
	w.mu.Lock()
	observers := make([]Observer, len(w.observers))
	copy(observers, w.observers)
	w.mu.Unlock()

	for i, fn := range observers {
		if err := fn(rec); err != nil {
			w.log.Error("change observer failed",
				"repository", w.repoID, "observer", i, "path", rec.RelativePath, "error", err)
		}
	}
}

// Status is a point-in-time view of the watcher and its repository. Readers
// must tolerate staleness.
type Status struct {
	RepositoryID   string
	Path           string
	IsWatching     bool
	Branch         string
	TotalCommits   int
	LatestCommit   *gitclient.CommitInfo
	IsDirty        bool
	UntrackedCount int
	SnapshotCount  int
	Err            string
}

// Status gathers repository state. Internal failures produce a partial
// status carrying an error field instead of propagating.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	st := Status{
		RepositoryID:  w.repoID,
		Path:          w.root,
		IsWatching:    w.state == Running,
		SnapshotCount: len(w.snapshots),
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	var errs []string
	record := func(what string, err error) {
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", what, err))
		}
	}

	branch, err := w.git.Branch(ctx, w.root)
	record("branch", err)
	st.Branch = branch

	commits, err := w.git.CommitCount(ctx, w.root)
	record("commit count", err)
	st.TotalCommits = commits

	latest, err := w.git.HeadCommit(ctx, w.root)
	record("head commit", err)
	st.LatestCommit = latest

	dirty, err := w.git.IsDirty(ctx, w.root)
	record("dirty", err)
	st.IsDirty = dirty

	untracked, err := w.git.UntrackedCount(ctx, w.root)
	record("untracked", err)
	st.UntrackedCount = untracked

	st.Err = strings.Join(errs, "; ")
	return st
}

// snapshotCount is exposed for tests.
func (w *Watcher) snapshotCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snapshots)
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignore.ShouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			// the loop reports watch errors with context
			return nil
		}
		return nil
	})
}

// readFileLossy reads a file as text, dropping byte sequences that are not
// valid UTF-8.
func readFileLossy(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), ""), nil
}
