package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Store holds the active configuration snapshot. Readers take one snapshot
// per invocation and never see a partially applied reload.
type Store struct {
	current atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

func (s *Store) Load() *Config {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

func (s *Store) Swap(cfg *Config) *Config {
	return s.current.Swap(cfg)
}

type WatchOptions struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnReload runs after a valid file replaced the snapshot.
	OnReload func(*Config)
}

// Watch reloads path into store whenever it changes until ctx is done. A
// file that fails to load or validate is logged and the previous snapshot
// stays active.
func Watch(ctx context.Context, path string, store *Store, opts WatchOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				opts.Logger.Warn().Err(err).Str("path", path).Msg("config watcher error")
			case <-fire:
				fire = nil
				cfg, err := Load(path)
				if err != nil {
					opts.Logger.Warn().Err(err).Str("path", path).Msg("config reload rejected")
					continue
				}
				store.Swap(cfg)
				opts.Logger.Info().Str("path", path).Int("mirrors", len(cfg.MirrorList())).Msg("config reloaded")
				if opts.OnReload != nil {
					opts.OnReload(cfg)
				}
			}
		}
	}()
	return nil
}
