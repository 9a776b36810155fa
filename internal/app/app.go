// Package app wires configuration, devices, the dispatcher and the daemon
// services into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"emsctl/internal/config"
	"emsctl/internal/ems"
	"emsctl/internal/eventbus"
	"emsctl/internal/notify"
	"emsctl/internal/observability/pprof"
	"emsctl/internal/runtime/supervisor"
	"emsctl/internal/storage"
	"emsctl/internal/transport"
	"emsctl/internal/trigger"
	logx "emsctl/pkg/logx"
	"emsctl/pkg/systemd"
)

type Options struct {
	ConfigPath string
	// DryRun replaces every device driver with the logging dryrun driver.
	DryRun bool
	// LogLevel overrides logging.level when set.
	LogLevel string
}

type App struct {
	opts Options
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	notif   notify.Notifier
	disp    *ems.Dispatcher
	history *History

	sup *supervisor.Supervisor
}

// New loads the config and builds every component. Devices are opened but
// not connected.
func New(opts Options) (a *App, err error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, root := logx.New(logConfig(cfg, opts))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	var closers []func() error
	defer func() {
		if err != nil {
			for _, c := range slices.Backward(closers) {
				_ = c()
			}
		}
	}()
	closers = append(closers, logs.Close)

	bus := eventbus.New()

	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		closers = append(closers, store.Close)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	notif, err := newNotifier(cfg.Notify, root.With(logx.String("comp", "notify")))
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	closers = append(closers, notif.Close)

	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	eng := ems.NewEngine(ec, root.With(logx.String("comp", "engine")), bus)
	disp := ems.NewDispatcher(eng, root.With(logx.String("comp", "dispatcher")), bus)

	specs, err := cfg.DeviceSpecs(opts.DryRun)
	if err != nil {
		return nil, err
	}
	tlog := root.With(logx.String("comp", "transport"))
	for _, spec := range specs {
		ch, err := transport.Open(spec, tlog)
		if err != nil {
			return nil, err
		}
		disp.RegisterChannel(spec.Index, ch)
	}

	tls, err := config.BuildTimelines(cfg)
	if err != nil {
		return nil, err
	}
	disp.SetTimelines(tls)

	log.Info("app ready",
		logx.Int("devices", len(specs)),
		logx.Int("timelines", len(tls)),
		logx.String("wait", ec.Wait.String()),
		logx.Bool("dry_run", opts.DryRun),
	)

	return &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		notif:   notif,
		disp:    disp,
		history: NewHistory(bus, store, notif, root.With(logx.String("comp", "history"))),
	}, nil
}

func logConfig(cfg *config.Config, opts Options) logx.Config {
	lc := cfg.LogConfig()
	if opts.LogLevel != "" {
		lc.Level = opts.LogLevel
	}
	return lc
}

func newNotifier(nc *config.NotifyConfig, log logx.Logger) (notify.Notifier, error) {
	if nc == nil || !nc.Enabled {
		return notify.Nop{}, nil
	}
	timeout, err := config.ParseDurationField("notify.timeout", nc.Timeout)
	if err != nil {
		return nil, err
	}
	return notify.NewTelegram(notify.TelegramConfig{
		Token:      nc.Token,
		ChatID:     nc.ChatID,
		ThreadID:   nc.ThreadID,
		OnSuccess:  nc.OnSuccess,
		RatePerSec: nc.RatePerSec,
		Timeout:    timeout,
	}, log)
}

func (a *App) Dispatcher() *ems.Dispatcher { return a.disp }
func (a *App) Logger() logx.Logger         { return a.log }
func (a *App) Store() storage.Store        { return a.store }

// startBackground starts the supervisor and the history sink once.
func (a *App) startBackground(ctx context.Context) {
	if a.sup != nil {
		return
	}
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.sup.Go0("history", a.history.Run)
}

// Run connects every device and plays all timelines repeat times.
func (a *App) Run(ctx context.Context, repeat int) error {
	if err := a.disp.ConnectAll(ctx); err != nil {
		return err
	}
	a.startBackground(ctx)
	passes := max(repeat, 1)
	for i := 0; i < passes; i++ {
		if err := a.disp.RunAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stimulate sends a single clamped stimulate command to one device.
func (a *App) Stimulate(ctx context.Context, index int, s ems.Stimulus) error {
	ch, ok := a.disp.Channel(index)
	if !ok {
		return &ems.ChannelError{Index: index, Op: "stimulate", Err: ems.ErrNoChannel}
	}
	if ems.StateOf(ch) != ems.Connected {
		if err := ch.Connect(ctx); err != nil {
			return &ems.ChannelError{Index: index, Op: "connect", Err: err}
		}
	}
	payload := ems.FormatStimulate(s.Clamp())
	if err := a.disp.Send(ctx, index, payload); err != nil {
		return err
	}
	a.log.Info("stimulate sent", logx.Int("index", index), logx.String("payload", payload))
	return nil
}

// Serve runs the daemon until ctx is done: devices connected, trigger
// running, config hot-reloaded between runs.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfgm.Get()
	trig, err := trigger.New(trigger.Config{
		Schedule: cfg.Trigger.Schedule,
		Timezone: cfg.Trigger.Timezone,
		Repeat:   cfg.Trigger.Repeat,
	}, a.disp.RunAll, a.log.With(logx.String("comp", "trigger")))
	if err != nil {
		return err
	}
	pcfg, err := mapPprofConfig(cfg)
	if err != nil {
		return err
	}

	if err := a.disp.ConnectAll(ctx); err != nil {
		// Devices with auto_reconnect recover on their next send.
		a.log.Warn("some devices failed to connect", logx.Err(err))
	}
	a.startBackground(ctx)

	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := config.BuildTimelines(c)
		return err
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	if cfg.Pprof.Enabled {
		p := pprof.New(pcfg, a.log.With(logx.String("comp", "pprof")))
		a.sup.GoRestart("pprof", p.Run,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, a.log) })
	a.sup.Go("trigger", func(c context.Context) error {
		if err := trig.Run(c); err != nil {
			return err
		}
		<-c.Done()
		return nil
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d devices, %d timelines", len(a.disp.Indexes()), len(a.disp.Timelines())))
	a.log.Info("daemon started")

	<-a.sup.Context().Done()
	_, _ = systemd.Stopping()
	a.log.Info("daemon stopping")
	return a.sup.Err()
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts; only the newest config matters.
		for drained := false; !drained; {
			select {
			case c := <-sub:
				if c != nil {
					newCfg = c
				}
			default:
				drained = true
			}
		}
		a.applyConfig(last, newCfg)
		last = newCfg
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	a.log.Info("config change applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if err := a.logs.Apply(logConfig(newCfg, a.opts)); err != nil {
		a.log.Warn("logging reload incomplete", logx.Err(err))
	}

	if slices.Contains(sections, "timelines") {
		tls, err := config.BuildTimelines(newCfg)
		if err != nil {
			a.log.Warn("timelines rejected", logx.Err(err))
		} else {
			// Blocks until an in-progress run finishes.
			a.disp.SetTimelines(tls)
			a.log.Info("timelines updated", logx.Int("timelines", len(tls)))
		}
	}
	if config.NeedsRestart(sections) {
		a.log.Warn("restart required for some changes to take effect", logx.String("sections", strings.Join(sections, ",")))
	}
}

// Close disconnects devices, drains history and releases resources.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.disp.DisconnectAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if dropped := a.bus.Dropped(); dropped > 0 {
		a.log.Warn("events dropped by slow subscribers", logx.Uint64("dropped", dropped))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.notif.Close())
	a.log.Info("app closed")
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}
