package documents

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/koscakluka/ema-persona/core/conversations"
)

const DefaultDebounce = 500 * time.Millisecond

var watchedExtensions = map[string]bool{".md": true, ".txt": true}

// Uploader is the part of Service the watcher needs.
type Uploader interface {
	Add(ctx context.Context, scope conversations.Scope, title string, content string, uploadedBy string) (conversations.Document, error)
}

// Watcher uploads text documents created or modified in a directory. The
// document title is the file name without its extension. Unchanged content is
// not uploaded twice.
type Watcher struct {
	uploader   Uploader
	scope      conversations.Scope
	dir        string
	uploadedBy string
	debounce   time.Duration
	onUpload   func(conversations.Document)

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]time.Time
	uploaded map[string][sha256.Size]byte
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithUploadedBy(uploadedBy string) WatcherOption {
	return func(w *Watcher) { w.uploadedBy = uploadedBy }
}

// WithUploadCallback is called after every successful upload.
func WithUploadCallback(fn func(conversations.Document)) WatcherOption {
	return func(w *Watcher) { w.onUpload = fn }
}

func NewWatcher(uploader Uploader, scope conversations.Scope, dir string, opts ...WatcherOption) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		uploader:   uploader,
		scope:      scope,
		dir:        dir,
		uploadedBy: "watcher",
		debounce:   DefaultDebounce,
		watcher:    fsWatcher,
		pending:    map[string]time.Time{},
		uploaded:   map[string][sha256.Size]byte{},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start uploads the documents already in the directory and then follows
// changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !watchedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		w.upload(ctx, filepath.Join(w.dir, entry.Name()))
	}

	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logger.Error("failed to close file watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", "dir", w.dir, "error", err)
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) processPending(ctx context.Context) {
	w.mu.Lock()
	ready := []string{}
	for path, seen := range w.pending {
		if time.Since(seen) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.upload(ctx, path)
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read document", "path", path, "error", err)
		return
	}
	if strings.TrimSpace(string(content)) == "" {
		return
	}

	sum := sha256.Sum256(content)
	w.mu.Lock()
	if previous, ok := w.uploaded[path]; ok && previous == sum {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc, err := w.uploader.Add(ctx, w.scope, title, string(content), w.uploadedBy)
	if err != nil {
		logger.Warn("failed to upload document", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	w.uploaded[path] = sum
	w.mu.Unlock()

	logger.Info("uploaded document", "path", path, "scope", w.scope.String(), "document_id", doc.ID)
	if w.onUpload != nil {
		w.onUpload(doc)
	}
}
