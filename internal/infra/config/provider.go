package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

const reloadDebounce = 200 * time.Millisecond

// Provider loads the gateway config and watches the file for changes,
// swapping the snapshot atomically so registry reads always see the
// current server set without a restart.
type Provider struct {
	logger     *zap.Logger
	loader     *Loader
	configPath string

	state atomic.Value // domain.GatewayConfig

	reloadMu  sync.Mutex
	watchOnce sync.Once

	changedMu sync.Mutex
	changed   []func()
}

// NewProvider loads configPath and returns a provider holding the snapshot.
func NewProvider(ctx context.Context, configPath string, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := NewLoader(logger)
	cfg, err := loader.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		logger:     logger.Named("config_provider"),
		loader:     loader,
		configPath: configPath,
	}
	p.state.Store(cfg)
	return p, nil
}

// Snapshot returns the current config. Cheap; callers should not retain it
// across requests.
func (p *Provider) Snapshot() domain.GatewayConfig {
	return p.state.Load().(domain.GatewayConfig)
}

// OnChange registers a callback invoked after every successful reload.
func (p *Provider) OnChange(fn func()) {
	p.changedMu.Lock()
	p.changed = append(p.changed, fn)
	p.changedMu.Unlock()
}

// Watch starts the file watcher. Safe to call once; the watcher stops when
// ctx is canceled.
func (p *Provider) Watch(ctx context.Context) {
	p.watchOnce.Do(func() {
		go p.runWatcher(ctx)
	})
}

// Reload forces a config reload.
func (p *Provider) Reload(ctx context.Context) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	cfg, err := p.loader.Load(ctx, p.configPath)
	if err != nil {
		return err
	}
	p.state.Store(cfg)
	p.notify()
	return nil
}

func (p *Provider) notify() {
	p.changedMu.Lock()
	callbacks := append([]func(){}, p.changed...)
	p.changedMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (p *Provider) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.configPath)); err != nil {
		p.logger.Warn("config watcher add failed", zap.String("path", p.configPath), zap.Error(err))
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				p.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(p.configPath) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := p.Reload(ctx); err != nil {
				p.logger.Warn("config reload failed", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
