// Package app wires the watcher together: config, logging, storage,
// the Telegram adapter, and the watch package's engine/scheduler/dispatcher.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"watchlb/internal/config"
	"watchlb/internal/notify"
	"watchlb/internal/storage"
	kit "watchlb/internal/transport"
	"watchlb/internal/transport/telegram"
	"watchlb/internal/watch"
	logx "watchlb/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  kit.Adapter
	notif    *notify.Service
	settings *watch.SettingsStore
	engine   *watch.Engine
	sched    *watch.Scheduler
	disp     *watch.Dispatcher

	updates chan kit.Update

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the app from a config file path. An empty path means
// environment-only configuration.
func New(cfgPath string) (*App, error) {
	var (
		cfgm *config.Manager
		cfg  *config.Config
		err  error
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewManager(cfgPath)
		cfg, err = cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.FromEnv()
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, fmt.Errorf("telegram.token is required (config file or API_TOKEN)")
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, fmt.Errorf("telegram.chat_id is required (config file or CHAT_ID)")
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return nil, err
	}
	storeCfg := storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
	if strings.TrimSpace(storeCfg.Path) == "" && !strings.EqualFold(storeCfg.Driver, "mem") {
		storeCfg.Path = "./watchlb.db"
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notif := notify.New(notify.Config{ChatID: cfg.Telegram.ChatID}, ad, log.With(logx.String("comp", "notify")))

	settings := watch.NewSettingsStore(store, cfg.Watch.CheckRateMinutes, log.With(logx.String("comp", "settings")))

	fetchTimeout, err := config.ParseDurationOrDefault("watch.fetch_timeout", cfg.Watch.FetchTimeout, 30*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine := watch.NewEngine(cfg.Watch.URL, watch.NewHTTPFetcher(fetchTimeout), settings, notif, log.With(logx.String("comp", "engine")))
	sched := watch.NewScheduler(engine, notif, log.With(logx.String("comp", "scheduler")))
	disp := watch.NewDispatcher(settings, engine, sched, notif, cfg.Watch.VersionFile, log.With(logx.String("comp", "commands")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		notif:    notif,
		settings: settings,
		engine:   engine,
		sched:    sched,
		disp:     disp,
		updates:  make(chan kit.Update, 64),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.settings.Load(runCtx); err != nil {
		cancel()
		return err
	}
	snap := a.settings.Snapshot()

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.disp.DispatchLoop(runCtx, a.updates)
	}()

	a.sched.Start(runCtx, snap.DefaultRate)

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(1)
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			_ = a.cfgm.Watch(runCtx)
		}()
		go func() {
			defer a.wg.Done()
			a.reloadLoop(runCtx, sub)
		}()
	}

	a.log.Info("started",
		logx.Int("interval_minutes", snap.DefaultRate),
		logx.Int("terms", len(snap.Matching)))
	return nil
}

// reloadLoop applies hot-reloadable sections of the config. Only logging
// takes effect live; everything else needs a restart and is just noted.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			a.cfgm.Unsubscribe(sub)
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)
			for _, section := range changed {
				if section == "logging" {
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				} else {
					a.log.Warn("config section needs restart to apply", logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

// Stop shuts everything down in dependency order: timer first so no new
// checks start, then inbound dispatch, then the adapter and storage.
func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.sched.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.log.Warn("shutdown wait timed out")
	case <-ctx.Done():
	}

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	a.log.Info("stopped")
	return nil
}
