package auth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/RAPD/rapd-relay/logging"
)

var _ SecretSource = (*SecretFile)(nil)

// SecretFile is a SecretSource read from disk and reloaded when the file changes.
//
// The parent directory is watched rather than the file itself so that
// replace-by-rename (editors, mounted secrets) is picked up.
type SecretFile struct {
	logger  logging.Logger
	path    string
	secret  atomic.Pointer[[]byte]
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// NewSecretFile loads path and starts watching its directory. Call Watch to
// process change events.
func NewSecretFile(logger logging.Logger, path string) (*SecretFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secret file path: %w", err)
	}

	f := &SecretFile{
		logger: logging.ForComponent(logger, logging.ComponentSecretFile),
		path:   abs,
	}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch secret directory: %w", err)
	}
	f.watcher = watcher

	return f, nil
}

// Secret implements SecretSource.
func (f *SecretFile) Secret() []byte {
	p := f.secret.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Watch reloads the secret on change events until ctx is done or Close is called.
func (f *SecretFile) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the previous secret.
				f.logger.Warn().Err(err).Msg("failed to reload signing secret")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (f *SecretFile) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		secretReloadsTotal.WithLabelValues(logging.ResultFailure).Inc()
		return fmt.Errorf("failed to read secret file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		secretReloadsTotal.WithLabelValues(logging.ResultFailure).Inc()
		return fmt.Errorf("secret file %s is empty", f.path)
	}

	if cur := f.secret.Load(); cur != nil && bytes.Equal(*cur, data) {
		return nil
	}
	f.secret.Store(&data)
	secretReloadsTotal.WithLabelValues(logging.ResultSuccess).Inc()
	f.logger.Info().Int(logging.FieldSize, len(data)).Msg("signing secret loaded")
	return nil
}

// Close stops watching.
func (f *SecretFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.watcher.Close()
}
