package channel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
)

// FileOrigin is the origin of changes detected on disk.
const FileOrigin = "filesystem"

const defaultSettle = 100 * time.Millisecond

// FileWatch publishes in process like Memory and additionally watches a
// directory of <key>.json documents written by other processes. A file
// whose content equals the last value seen for its key is not reported, so
// a process never hears back about its own writes.
type FileWatch struct {
	*Memory

	dir     string
	settle  time.Duration
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu      sync.Mutex
	known   map[string]string
	pending map[string]*time.Timer
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type FileWatchOption func(*FileWatch)

// WithSettle sets how long a key must be quiet before it is read.
func WithSettle(d time.Duration) FileWatchOption {
	return func(w *FileWatch) {
		w.settle = d
	}
}

func NewFileWatch(dir string, opts ...FileWatchOption) (*FileWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &FileWatch{
		Memory:  NewMemory(),
		dir:     dir,
		settle:  defaultSettle,
		watcher: watcher,
		logger:  log.WithComponent("channel.filewatch"),
		known:   make(map[string]string),
		pending: make(map[string]*time.Timer),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Publish records the value as known and notifies in-process subscribers.
func (w *FileWatch) Publish(ctx context.Context, change Change) error {
	w.mu.Lock()
	w.known[change.Key] = change.NewValue
	w.mu.Unlock()
	return w.Memory.Publish(ctx, change)
}

// Close stops watching. Subscriptions stay open until closed by their owners.
func (w *FileWatch) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for key, t := range w.pending {
		t.Stop()
		delete(w.pending, key)
	}
	w.mu.Unlock()

	close(w.stop)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *FileWatch) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			key, ok := w.keyOf(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.schedule(key)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		}
	}
}

func (w *FileWatch) keyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

func (w *FileWatch) schedule(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[key]; ok {
		t.Stop()
	}
	w.pending[key] = time.AfterFunc(w.settle, func() {
		w.emit(key)
	})
}

func (w *FileWatch) emit(key string) {
	data, err := os.ReadFile(filepath.Join(w.dir, key+".json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn().Err(err).Str("key", key).Msg("read changed document")
		return
	}
	value := string(data)

	w.mu.Lock()
	delete(w.pending, key)
	if w.closed {
		w.mu.Unlock()
		return
	}
	old, seen := w.known[key]
	if seen && old == value || !seen && value == "" {
		w.mu.Unlock()
		return
	}
	w.known[key] = value
	w.mu.Unlock()

	metrics.IncNotification("received")
	w.logger.Debug().Str("key", key).Msg("document changed on disk")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.Memory.Publish(ctx, Change{
		Key:      key,
		NewValue: value,
		OldValue: old,
		Origin:   FileOrigin,
	})
}

var _ Channel = (*FileWatch)(nil)
