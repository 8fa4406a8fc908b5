// Package watch feeds shader source changes into a shade pipeline
// manager.
//
// A Watcher observes a shader directory tree through fsnotify and
// collects the module identifiers whose content actually changed.
// Identifiers are normalized with shade.NormalizeModuleID so they match
// cache keys exactly, duplicates within one drain collapse, and writes
// that leave the content byte-identical (editor double-fires, touch
// without change) are suppressed by xxhash fingerprints.
//
// Watcher implements shade.ChangeSource; hand it to
// shade.NewPipelineManager via shade.WithChangeSource. Deployed builds
// with embedded sources simply never construct one.
package watch

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/shade"
)

// Option configures a Watcher during creation.
type Option func(*options)

// options holds optional configuration for Watcher creation.
type options struct {
	exts []string
}

func defaultOptions() options {
	return options{exts: []string{shade.SourceExt}}
}

// WithExtensions replaces the file extensions treated as shader source.
// The default is shade.SourceExt only.
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.exts = exts
	}
}

// Watcher watches a directory tree and exposes the changed module
// identifiers as a drainable, deduplicated set.
type Watcher struct {
	root string
	exts []string

	fsw *fsnotify.Watcher

	// mu protects pending and hashes.
	mu sync.Mutex

	// pending holds module ids awaiting the next drain.
	pending map[string]struct{}

	// hashes holds the last seen content fingerprint per file path.
	hashes map[string]uint64

	closeOnce sync.Once
	done      chan struct{}
}

var _ shade.ChangeSource = (*Watcher)(nil)

// New creates a watcher over root and every nested directory. Existing
// shader files are fingerprinted up front, so the first event for an
// unchanged file is already suppressed.
func New(root string, opts ...Option) (*Watcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: root %q is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{
		root:    root,
		exts:    o.exts,
		fsw:     fsw,
		pending: make(map[string]struct{}),
		hashes:  make(map[string]uint64),
		done:    make(chan struct{}),
	}
	if err := w.addTree(root, false); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addTree registers every directory under dir with fsnotify. Shader
// files already present are fingerprinted; with notify set they are
// also queued as changes, which covers whole directories appearing
// under the root after the watch started. Unreadable subdirectories
// are skipped; only a failure on dir itself aborts.
func (w *Watcher) addTree(dir string, notify bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watch: walk %s: %w", dir, err)
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch: add %s: %w", path, err)
			}
			return nil
		}
		if !w.isShaderFile(path) {
			return nil
		}
		if notify {
			w.fileWritten(path)
			return nil
		}
		if sum, err := hashFile(path); err == nil {
			w.mu.Lock()
			w.hashes[path] = sum
			w.mu.Unlock()
		}
		return nil
	})
}

// run pumps fsnotify events into the pending set until Close.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			shade.Logger().Warn("shader watcher error", "err", err)
		}
	}
}

// handleEvent maps one fsnotify event onto the pending set.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// fsnotify does not recurse; directories created under the root
	// must be added as they appear.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name, true); err != nil {
				shade.Logger().Warn("shader watcher add directory", "dir", event.Name, "err", err)
			}
			return
		}
	}
	if !w.isShaderFile(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create):
		w.fileWritten(event.Name)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.fileGone(event.Name)
	}
}

// fileWritten fingerprints the file and queues its module id when the
// content actually changed.
func (w *Watcher) fileWritten(path string) {
	sum, err := hashFile(path)
	if err != nil {
		// Mid-write or already gone again; a later event settles it.
		return
	}
	id, ok := w.moduleID(path)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, seen := w.hashes[path]; seen && prev == sum {
		return
	}
	w.hashes[path] = sum
	w.pending[id] = struct{}{}
	shade.Logger().Debug("shader source changed", "module", id)
}

// fileGone drops the fingerprint and still queues the module. The next
// sweep invalidates it, dependent pipelines go broken, and they recover
// when the file returns.
func (w *Watcher) fileGone(path string) {
	id, ok := w.moduleID(path)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.hashes, path)
	w.pending[id] = struct{}{}
	shade.Logger().Debug("shader source removed", "module", id)
}

// moduleID maps an event path to the normalized module identifier
// relative to the watch root.
func (w *Watcher) moduleID(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	for _, ext := range w.exts {
		if strings.HasSuffix(rel, ext) {
			rel = strings.TrimSuffix(rel, ext)
			break
		}
	}
	id := shade.NormalizeModuleID(rel)
	if id == "" || strings.HasPrefix(id, "..") {
		return "", false
	}
	return id, true
}

// isShaderFile reports whether path carries one of the watched
// extensions.
func (w *Watcher) isShaderFile(path string) bool {
	for _, ext := range w.exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Changed drains the pending set, returning each changed module
// identifier once, sorted. It never blocks; events arriving mid-drain
// land in the next one.
func (w *Watcher) Changed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]struct{})
	slices.Sort(ids)
	return ids
}

// Close stops the watcher and releases its resources. Safe to call more
// than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// hashFile returns the xxhash fingerprint of the file's content.
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
