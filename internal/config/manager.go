package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the freshly loaded config after a reload.
// Handlers apply the reloadable sections (engine limits, log level, policy
// path); static sections keep their boot-time values until restart.
type ChangeHandler func(old, new *Config)

// Manager holds the live configuration and reloads it when the file on
// disk changes. Editors replace files rather than write in place, so the
// watcher covers the directory and filters for the config path.
type Manager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager loads the initial config from path and returns a manager
// holding it. Watching starts separately via Watch.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath
	}
	return &Manager{
		path:    path,
		logger:  logger,
		current: cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after every successful reload.
// Register before Watch; handlers run on the watcher goroutine.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Watch starts the file watcher. Reload errors keep the previous config.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	m.watcher = watcher

	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer close(m.doneCh)

	// Debounce: editors fire several events per save.
	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Error("config reload failed, keeping previous config",
			zap.String("path", m.path),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	old := m.current
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("configuration reloaded", zap.String("path", m.path))
	for _, h := range handlers {
		h(old, cfg)
	}
}

// Close stops the watcher and waits for the loop to exit.
func (m *Manager) Close() error {
	close(m.stopCh)
	if m.watcher != nil {
		err := m.watcher.Close()
		<-m.doneCh
		return err
	}
	return nil
}
