// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce is how long the watcher waits after the last change
// before rebuilding the dictionary.
const DefaultReloadDebounce = 500 * time.Millisecond

// =============================================================================
// DICTIONARY WATCHER
// =============================================================================

// Reloader consumes a freshly loaded dictionary. *Router implements it.
type Reloader interface {
	Reload(d *Dictionary)
}

// DictionaryWatcher reloads the router (and any extra targets) when
// dictionary files change. A dictionary that fails to parse leaves the
// previous tables in place.
type DictionaryWatcher struct {
	dir      string
	targets  []Reloader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDictionaryWatcher creates a watcher for dir. Call Start to begin.
func NewDictionaryWatcher(dir string, r Reloader, debounce time.Duration, logger zerolog.Logger, extra ...Reloader) (*DictionaryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DictionaryWatcher{
		dir:      dir,
		targets:  append([]Reloader{r}, extra...),
		watcher:  w,
		debounce: debounce,
		logger:   logger.With().Str("component", "dict-watcher").Str("dir", dir).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start adds the directory to the watch list and begins processing events.
func (dw *DictionaryWatcher) Start() error {
	if err := dw.watcher.Add(dw.dir); err != nil {
		return fmt.Errorf("watch %s: %w", dw.dir, err)
	}
	go dw.processEvents()
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (dw *DictionaryWatcher) Close() error {
	dw.cancel()
	err := dw.watcher.Close()
	<-dw.done
	dw.mu.Lock()
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.mu.Unlock()
	return err
}

func (dw *DictionaryWatcher) processEvents() {
	defer close(dw.done)
	defer func() {
		if r := recover(); r != nil {
			dw.logger.Error().Interface("panic", r).Msg("watcher stopped")
		}
	}()

	for {
		select {
		case <-dw.ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				dw.schedule()
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// schedule (re)arms the debounce timer.
func (dw *DictionaryWatcher) schedule() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.timer != nil {
		dw.timer.Stop()
	}
	dw.timer = time.AfterFunc(dw.debounce, dw.reload)
}

func (dw *DictionaryWatcher) reload() {
	if dw.ctx.Err() != nil {
		return
	}
	d, err := LoadDictionaryDir(dw.dir)
	if err != nil {
		dw.logger.Error().Err(err).Msg("dictionary reload failed, keeping previous tables")
		return
	}
	for _, t := range dw.targets {
		t.Reload(d)
	}
}
