// Package dropzone watches a directory and hands every new ad file to a
// callback, one at a time.
package dropzone

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"greencheck-workspace/internal/shared/telemetry"
)

// DefaultExtensions are the file types the pipeline can take.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".pdf", ".txt"}

const (
	defaultDebounce     = 300 * time.Millisecond
	defaultMaxPerMinute = 6
)

// Item is one file ready for analysis. Text files are pasted rather than
// uploaded.
type Item struct {
	Path string
	Name string
	Text bool
}

// Handler processes one admitted item.
type Handler func(ctx context.Context, item Item)

// Options tunes the watcher. Zero values take defaults.
type Options struct {
	Extensions   []string
	Debounce     time.Duration
	MaxPerMinute int
}

// Watcher debounces fsnotify events per path and admits at most
// MaxPerMinute items per minute.
type Watcher struct {
	watcher  *fsnotify.Watcher
	exts     map[string]struct{}
	debounce time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan Item
}

// New creates a Watcher.
func New(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = defaultMaxPerMinute
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	return &Watcher{
		watcher:  fw,
		exts:     exts,
		debounce: opts.Debounce,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.MaxPerMinute)), opts.MaxPerMinute),
		pending:  make(map[string]*time.Timer),
		ready:    make(chan Item, 100),
	}, nil
}

// Accept reports whether path has a watched extension.
func (w *Watcher) Accept(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(base))]
	return ok
}

// Run watches dir until ctx is done, calling handle for each admitted file.
// Items are handled sequentially.
func (w *Watcher) Run(ctx context.Context, dir string, handle Handler) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	defer w.watcher.Close()
	defer w.stopPending()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.drain(ctx, handle)
	}()

	telemetry.Info("dropzone.watching", map[string]any{"dir": dir})
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			telemetry.Warn("dropzone.watch.error", map[string]any{"error": err})
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !w.Accept(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(ctx, event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[event.Name]; ok {
			t.Stop()
			delete(w.pending, event.Name)
		}
		w.mu.Unlock()
	}
}

// schedule restarts the quiet period for path. Writers usually emit several
// events per file; only the last one fires.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		base := filepath.Base(path)
		item := Item{Path: path, Name: base, Text: strings.EqualFold(filepath.Ext(base), ".txt")}
		select {
		case w.ready <- item:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) drain(ctx context.Context, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.ready:
			if err := w.limiter.Wait(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					telemetry.Warn("dropzone.admission.failed", map[string]any{"path": item.Path, "error": err})
				}
				return
			}
			telemetry.Info("dropzone.item.admitted", map[string]any{"name": item.Name, "text": item.Text})
			handle(ctx, item)
		}
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
