// Copyright 2025 Meridianstack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider loads config from a local file and watches it for changes.
//
// A reload signal only fires when the file's content actually changed: a
// watcher that fires on every fsnotify event (including no-op rewrites from
// editors that touch-then-write identical bytes) would otherwise trigger a
// config decode/validate cycle for nothing.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	closed   bool
	lastHash [sha256.Size]byte
	hashSet  bool
}

// NewFileProvider creates a provider that reads from a local file. logger
// defaults to slog.Default() when nil.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileProvider{
		path:   absPath,
		logger: logger,
	}, nil
}

// Type returns TypeFile.
func (p *FileProvider) Type() Type {
	return TypeFile
}

// Load reads the config file and records its content hash so Watch can
// later tell a genuine edit from a spurious filesystem event.
func (p *FileProvider) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.lastHash = sha256.Sum256(data)
	p.hashSet = true
	p.mu.Unlock()

	return data, nil
}

// Watch starts watching the config file for changes.
// Returns a channel that receives a value when the file's content changes.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	p.watcher = watcher

	// Watch the containing directory rather than the file itself: editors
	// that save via rename-into-place replace the inode, which some
	// platforms stop tracking once the original file handle is gone.
	configDir := filepath.Dir(p.path)
	configFile := filepath.Base(p.path)

	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory %s: %w", configDir, err)
	}

	ch := make(chan struct{}, 1)

	go p.watchLoop(ctx, watcher, configFile, ch)

	p.logger.Info("config: watching file for changes", "path", p.path)
	return ch, nil
}

func (p *FileProvider) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, configFile string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != configFile {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					p.signalIfChanged(ch)
				})
			} else if event.Op&fsnotify.Remove == fsnotify.Remove {
				p.logger.Warn("config: file was deleted", "path", p.path)
				go p.tryRewatch(ctx, watcher, configFile, ch)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config: file watcher error", "error", err)
		}
	}
}

// signalIfChanged re-reads the file, compares its hash against the last
// load, and only pushes to ch when the bytes genuinely differ.
func (p *FileProvider) signalIfChanged(ch chan<- struct{}) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.logger.Error("config: re-read after change event failed", "path", p.path, "error", err)
		return
	}
	sum := sha256.Sum256(data)

	p.mu.Lock()
	unchanged := p.hashSet && bytes.Equal(p.lastHash[:], sum[:])
	p.mu.Unlock()
	if unchanged {
		return
	}

	select {
	case ch <- struct{}{}:
		p.logger.Debug("config: file content changed", "path", p.path)
	default:
		// Channel full, change already pending.
	}
}

func (p *FileProvider) tryRewatch(ctx context.Context, watcher *fsnotify.Watcher, configFile string, ch chan<- struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 10; i++ { // try for 5 seconds
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(p.path); err == nil {
				configDir := filepath.Dir(p.path)
				if err := watcher.Add(configDir); err == nil {
					p.logger.Info("config: re-established watch on file", "path", p.path)
					p.signalIfChanged(ch)
					return
				}
			}
		}
	}
	p.logger.Warn("config: failed to re-establish watch on file", "path", p.path)
}

// Close stops watching and releases resources.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}

var _ Provider = (*FileProvider)(nil)
