package watch

import (
	"fmt"
	"sort"
	"sync"

	gitclient "github.com/Picca1e-12/GenTestAI/internal/git/client"
	"github.com/Picca1e-12/GenTestAI/internal/logging"
)

// Manager keeps the registry of watchers, one per repository id, and wires
// the shared observer set into every watcher it creates.
type Manager struct {
	git gitclient.Client
	log logging.Logger

	mu        sync.Mutex
	watchers  map[string]*Watcher
	observers []Observer
}

func NewManager(git gitclient.Client, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		git:      git,
		log:      log,
		watchers: make(map[string]*Watcher),
	}
}

// Add registers a watcher for the repository. Construction validates the
// path; on failure nothing is stored. Adding an id that already exists is a
// no-op.
func (m *Manager) Add(repoID, path string) error {
	m.mu.Lock()
	if _, ok := m.watchers[repoID]; ok {
		m.mu.Unlock()
		m.log.Warn("watcher already registered", "repository", repoID)
		return nil
	}
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	w, err := NewWatcher(repoID, path, m.git, m.log)
	if err != nil {
		return fmt.Errorf("add watcher for %s: %w", repoID, err)
	}
	for _, fn := range observers {
		w.AddObserver(fn)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[repoID]; ok {
		return nil
	}
	m.watchers[repoID] = w
	return nil
}

// Remove stops the watcher and discards it. A stop failure is logged but
// never blocks removal. Removing an unknown id is a no-op.
func (m *Manager) Remove(repoID string) {
	m.mu.Lock()
	w, ok := m.watchers[repoID]
	delete(m.watchers, repoID)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := w.Stop(); err != nil {
		m.log.Warn("stop watcher during removal", "repository", repoID, "error", err)
	}
}

func (m *Manager) get(repoID string) (*Watcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[repoID]
	if !ok {
		return nil, fmt.Errorf("no watcher registered for %s", repoID)
	}
	return w, nil
}

// Start starts the registered watcher for repoID.
func (m *Manager) Start(repoID string) error {
	w, err := m.get(repoID)
	if err != nil {
		return err
	}
	return w.Start()
}

// Stop stops the registered watcher for repoID.
func (m *Manager) Stop(repoID string) error {
	w, err := m.get(repoID)
	if err != nil {
		return err
	}
	return w.Stop()
}

// StartAll starts every registered watcher, isolating per-repository
// failures. The result maps repository id to success.
func (m *Manager) StartAll() map[string]bool {
	results := make(map[string]bool)
	for id, w := range m.snapshot() {
		if err := w.Start(); err != nil {
			m.log.Error("start watcher", "repository", id, "error", err)
			results[id] = false
			continue
		}
		results[id] = true
	}
	return results
}

// StopAll stops every registered watcher, isolating per-repository failures.
func (m *Manager) StopAll() map[string]bool {
	results := make(map[string]bool)
	for id, w := range m.snapshot() {
		if err := w.Stop(); err != nil {
			m.log.Error("stop watcher", "repository", id, "error", err)
			results[id] = false
			continue
		}
		results[id] = true
	}
	return results
}

// AddObserver registers fn on every current watcher and on all watchers
// added later.
func (m *Manager) AddObserver(fn Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	current := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		current = append(current, w)
	}
	m.mu.Unlock()

	for _, w := range current {
		w.AddObserver(fn)
	}
}

// Status returns the status of one watcher.
func (m *Manager) Status(repoID string) (Status, error) {
	w, err := m.get(repoID)
	if err != nil {
		return Status{}, err
	}
	return w.Status(), nil
}

// AllStatus returns the status of every registered watcher.
func (m *Manager) AllStatus() map[string]Status {
	statuses := make(map[string]Status)
	for id, w := range m.snapshot() {
		statuses[id] = w.Status()
	}
	return statuses
}

// WatchingCount reports the number of registered watchers and how many of
// them are running.
func (m *Manager) WatchingCount() (total, watching int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.watchers {
		total++
		if w.IsRunning() {
			watching++
		}
	}
	return total, watching
}

// IDs lists the registered repository ids in stable order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) snapshot() map[string]*Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Watcher, len(m.watchers))
	for id, w := range m.watchers {
		out[id] = w
	}
	return out
}
