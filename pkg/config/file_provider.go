package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 100 * time.Millisecond

// FileProvider watches a configuration file and publishes every successfully
// re-validated Config to its subscribers.
type FileProvider struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	onReload func(err error)
}

// ProviderOption customises a FileProvider.
type ProviderOption func(*FileProvider)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *FileProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithReloadHook registers fn to be called with the outcome of every reload attempt.
func WithReloadHook(fn func(err error)) ProviderOption {
	return func(p *FileProvider) {
		p.onReload = fn
	}
}

// NewFileProvider loads path and starts watching it. The initial load must
// succeed.
func NewFileProvider(path string, logger zerolog.Logger, opts ...ProviderOption) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:     absPath,
		debounce: DefaultDebounce,
		logger:   logger.With().Str("component", "config").Str("path", absPath).Logger(),
		current:  cfg,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the most recently loaded configuration.
func (p *FileProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives configuration updates. Slow
// consumers miss intermediate updates but always see the latest one.
func (p *FileProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher and closes subscriber channels.
func (p *FileProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()
	<-p.done

	p.mu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	return err
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()
	var reload <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer == nil {
					debounceTimer = time.NewTimer(p.debounce)
				} else {
					debounceTimer.Reset(p.debounce)
				}
				reload = debounceTimer.C
			}
		case <-reload:
			reload = nil
			err := p.reload()
			if err != nil {
				p.logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
			} else {
				p.logger.Info().Msg("configuration reloaded")
			}
			if p.onReload != nil {
				p.onReload(err)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (p *FileProvider) reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = cfg
	subscribers := make([]chan *Config, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cfg:
		default:
			// Replace the stale pending update with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}

	return nil
}
