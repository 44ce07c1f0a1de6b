package prp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/ast"
)

// PolicyFileExtension is the filename suffix of policy documents in a
// monitored directory.
const PolicyFileExtension = ".aspen"

// DirectorySource loads every policy document from a filesystem directory
// and watches it for changes. A change reparses the whole directory and
// atomically swaps in the new immutable document set: in-flight evaluations
// keep the snapshot they started with and open decision streams are
// notified to re-evaluate.
//
// Malformed documents and duplicate names are logged and excluded; they
// never take the engine down.
type DirectorySource struct {
	path    string
	log     *zap.Logger
	docs    atomic.Pointer[[]ast.Document]
	subs    *subscribers
	watcher *fsnotify.Watcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDirectorySource loads path and starts watching it.
func NewDirectorySource(path string, log *zap.Logger) (*DirectorySource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &DirectorySource{
		path:   path,
		log:    log,
		subs:   newSubscribers(),
		closed: make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prp: cannot watch %s: %w", path, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("prp: cannot watch %s: %w", path, err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Documents returns the current immutable document snapshot.
func (s *DirectorySource) Documents() []ast.Document { return *s.docs.Load() }

// Subscribe returns a channel signalled after every reload.
func (s *DirectorySource) Subscribe() <-chan struct{} { return s.subs.subscribe() }

// Unsubscribe releases a subscription channel.
func (s *DirectorySource) Unsubscribe(ch <-chan struct{}) { s.subs.unsubscribe(ch) }

// Close stops watching the directory.
func (s *DirectorySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// Reload re-reads the directory immediately. The watcher calls this on
// filesystem events; it is exported for tests and manual refresh.
func (s *DirectorySource) Reload() error {
	if err := s.reload(); err != nil {
		return err
	}
	s.subs.notify()
	return nil
}

func (s *DirectorySource) reload() error {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return fmt.Errorf("prp: read policy directory %s: %w", s.path, err)
	}
	sources := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PolicyFileExtension) {
			continue
		}
		full := filepath.Join(s.path, entry.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			s.log.Warn("skipping unreadable policy file",
				zap.String("file", full),
				zap.Error(err),
			)
			continue
		}
		sources[entry.Name()] = string(data)
	}

	docs := parseAll(sources, func(source string, err error) {
		s.log.Warn("excluding malformed policy document",
			zap.String("file", filepath.Join(s.path, source)),
			zap.Error(err),
		)
	})
	s.docs.Store(&docs)
	s.log.Info("policy documents loaded",
		zap.String("path", s.path),
		zap.Int("documents", len(docs)),
	)
	return nil
}

func (s *DirectorySource) watch() {
	for {
		select {
		case <-s.closed:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, PolicyFileExtension) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.log.Debug("policy directory changed", zap.String("event", event.String()))
			if err := s.Reload(); err != nil {
				// Keep serving the previous snapshot.
				s.log.Error("policy reload failed", zap.Error(err))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("policy directory watcher error", zap.Error(err))
		}
	}
}
