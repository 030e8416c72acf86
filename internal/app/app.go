// Package app wires configuration, logging, the Telegram adapter, the message
// journal and the monitor into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chanwatch/internal/config"
	"chanwatch/internal/eventbus"
	"chanwatch/internal/history"
	"chanwatch/internal/monitor"
	"chanwatch/internal/observability/debughttp"
	rtsup "chanwatch/internal/runtime/supervisor"
	"chanwatch/internal/storage"
	"chanwatch/internal/transport"
	"chanwatch/internal/transport/telegram"
	logx "chanwatch/pkg/logx"
)

// StopReason is recorded in the shutdown log line.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   sdNotifier

	journal   *storage.Journal
	retention time.Duration

	adapter *telegram.Adapter
	history *history.Source
	mon     *monitor.Monitor
	debug   *debughttp.Server

	sup     *rtsup.Supervisor
	updates chan transport.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Telegram logging is enabled only after the target is set so Apply
	// does not warn about a missing chat.
	logCfg := logConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID := groupLogChat(cfg); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)

	jcfg, retention, err := journalConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	journal, err := storage.Open(jcfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	opts, err := monitorOptions(cfg)
	if err != nil {
		_ = journal.Close()
		_ = logSvc.Close()
		return nil, err
	}
	debugCfg := debughttp.Config{Addr: cfg.Debug.Addr, Token: cfg.Debug.Token}
	if err := debughttp.CheckConfig(debugCfg); err != nil {
		_ = journal.Close()
		_ = logSvc.Close()
		return nil, err
	}
	bus := eventbus.New()
	src := history.New(ad, journal, log)
	mon, err := monitor.New(opts, src, ad, monitor.SystemClock{}, bus, log)
	if err != nil {
		_ = journal.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		sd:        sdNotifier{log: log.With(logx.String("comp", "systemd"))},
		journal:   journal,
		retention: retention,
		adapter:   ad,
		history:   src,
		mon:       mon,
		updates:   make(chan transport.Update, 256),
	}
	if strings.TrimSpace(debugCfg.Addr) != "" {
		a.debug = debughttp.New(debugCfg, a.status, log)
	}
	return a, nil
}

func (a *App) status() any {
	return buildStatus(a.mon, a.journal.Appended(), a.history.Resolved())
}

// Monitor exposes the assembled monitor.
func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	journalLog := a.log.With(logx.String("comp", "journal"))
	a.sup.Go0("journal.ingest", func(c context.Context) {
		ingest(c, a.journal, a.updates, journalLog)
	})

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("monitor.events", func(c context.Context) {
		defer unsub()
		watchRounds(c, events, a.journal, a.retention, a.sd.Status, journalLog)
	})

	a.sup.Go("monitor", a.mon.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("systemd.watchdog", a.sd.watchdog)
	if a.debug != nil {
		a.sup.GoRestart("debug.http", a.debug.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	a.sd.Ready()
	a.log.Info("chanwatch started", logx.String("bot", a.adapter.Username()), logx.String("config", a.cfgm.Path()))
	return nil
}

// reloadLoop applies logging changes live and reports sections that need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(last, cfg)
			last = cfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

			a.logs.SetTelegramTarget(groupLogChat(cfg), cfg.Logging.Telegram.ThreadID)
			a.logs.Apply(logConfig(cfg))

			if pending := config.RestartRequired(sections); len(pending) > 0 {
				a.log.Warn("config changes take effect after restart", logx.Strings("sections", pending))
			}
		}
	}
}

// Stop shuts everything down within ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.sd.Stopping()
	a.log.Info("chanwatch stopping", logx.String("reason", string(reason)))

	var errs []error
	if a.sup != nil {
		a.sup.Cancel()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.sup != nil {
		if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("chanwatch stopped", logx.Int("chats_resolved", len(a.history.Resolved())))
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
