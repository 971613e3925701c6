// Package ignore decides which paths a watcher tracks. The predicate is
// consulted before every snapshot read or write and before a change record
// is emitted.
package ignore

import (
	"path/filepath"
	"strings"
	"sync"
)

// blockedSegments are directory or file names that mark a path as
// untracked when they appear as any segment of it.
var blockedSegments = map[string]bool{
	".git": true, "__pycache__": true, "node_modules": true,
	".vscode": true, ".idea": true, "venv": true, "env": true,
	".pytest_cache": true, "dist": true, "build": true,
	".DS_Store": true, "Thumbs.db": true, ".cache": true,
}

// blockedExtensions are transient or binary artifact extensions.
var blockedExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".log": true, ".tmp": true,
	".temp": true, ".cache": true, ".swp": true, ".swo": true,
	".bak": true, ".orig": true,
}

// hiddenAllowed are source extensions that keep a dot-prefixed file
// tracked despite being hidden.
var hiddenAllowed = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true,
}

var extendMu sync.RWMutex

// Extend adds configured directory segments and extensions to the blocked
// sets. Intended to be called once at startup, before any watcher runs.
func Extend(segments, extensions []string) {
	extendMu.Lock()
	defer extendMu.Unlock()
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			blockedSegments[s] = true
		}
	}
	for _, e := range extensions {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		blockedExtensions[e] = true
	}
}

// ShouldIgnore reports whether path is outside the tracked set.
func ShouldIgnore(path string) bool {
	if path == "" {
		return true
	}
	extendMu.RLock()
	defer extendMu.RUnlock()
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if blockedSegments[part] {
			return true
		}
	}
	ext := filepath.Ext(path)
	if blockedExtensions[ext] {
		return true
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") && !hiddenAllowed[ext] {
		return true
	}
	return false
}
