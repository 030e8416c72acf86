package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chanwatch/internal/config"
	"chanwatch/internal/monitor"
	"chanwatch/internal/observability/debughttp"
	"chanwatch/internal/storage"
	logx "chanwatch/pkg/logx"
)

const (
	defaultChannelDelay = 3200 * time.Millisecond
	defaultRetention    = 7 * 24 * time.Hour
	defaultPollTimeout  = 10 * time.Second
)

// monitorOptions maps the monitor section onto monitor.Options.
func monitorOptions(cfg *config.Config) (monitor.Options, error) {
	mc := cfg.Monitor
	var errs []error

	scope, err := monitor.ParseExcludeScope(mc.ExcludeScope)
	if err != nil {
		errs = append(errs, err)
	}
	delay, err := config.ParseDurationOrDefault("monitor.channel_delay", mc.ChannelDelay, defaultChannelDelay)
	if err != nil {
		errs = append(errs, err)
	}
	window, err := config.ParseDurationField("monitor.dedup_window", mc.DedupWindow)
	if err != nil {
		errs = append(errs, err)
	}
	var loc *time.Location
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("monitor.timezone: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return monitor.Options{}, err
	}

	return monitor.Options{
		KeyWords:          mc.KeyWords,
		UnkeyWords:        mc.UnkeyWords,
		ExcludeScope:      scope,
		Channels:          mc.Chats,
		Targets:           mc.NotifyChats,
		Template:          mc.NotifyMessage,
		AuthorPlaceholder: mc.AuthorPlaceholder,
		ParseMode:         mc.ParseMode,
		Location:          loc,
		Schedule:          mc.Schedule,
		ChannelDelay:      delay,
		SendRatePerSec:    mc.SendRatePerSec,
		CachePath:         mc.CachePath,
		Dedup:             mc.Dedup,
		DedupWindow:       window,
	}, nil
}

// journalConfig maps the journal section. The retention is returned separately
// because pruning is driven by the app, not the journal.
func journalConfig(cfg *config.Config) (storage.Config, time.Duration, error) {
	jc := cfg.Journal
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, storage.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, 0, err
	}
	retention, err := config.ParseDurationOrDefault("journal.retention", jc.Retention, defaultRetention)
	if err != nil {
		return storage.Config{}, 0, err
	}
	return storage.Config{Path: jc.Path, BusyTimeout: busy, PageSize: jc.PageSize}, retention, nil
}

func logConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// groupLogChat returns the log chat id, 0 when unset or invalid.
func groupLogChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// validate runs the checks config.Validate cannot do on its own: keyword
// compilation and schedule parsing. It backs hot-reload validation.
func validate(_ context.Context, cfg *config.Config) error {
	opts, err := monitorOptions(cfg)
	if err != nil {
		return err
	}
	if _, err := monitor.Compile(opts.KeyWords, opts.UnkeyWords, opts.ExcludeScope); err != nil {
		return err
	}
	if _, err := monitor.ParseSchedule(opts.Schedule); err != nil {
		return err
	}
	if _, _, err := journalConfig(cfg); err != nil {
		return err
	}
	return debughttp.CheckConfig(debughttp.Config{Addr: cfg.Debug.Addr, Token: cfg.Debug.Token})
}
