package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks field-level constraints that do not need other packages.
// Keyword compilation and schedule parsing are validated by the app on top of this.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	durations := map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"journal.busy_timeout":  cfg.Journal.BusyTimeout,
		"journal.retention":     cfg.Journal.Retention,
		"monitor.channel_delay": cfg.Monitor.ChannelDelay,
		"monitor.dedup_window":  cfg.Monitor.DedupWindow,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Journal.PageSize < 0 {
		errs = append(errs, errors.New("journal.page_size must be >= 0"))
	}

	mc := cfg.Monitor
	if len(nonBlank(mc.Chats)) == 0 {
		errs = append(errs, errors.New("monitor.chats must list at least one chat"))
	}
	if len(mc.NotifyChats) == 0 {
		errs = append(errs, errors.New("monitor.notify_chats must list at least one chat id"))
	}
	if strings.TrimSpace(mc.NotifyMessage) == "" {
		errs = append(errs, errors.New("monitor.notify_message is required"))
	}
	if mc.SendRatePerSec < 0 {
		errs = append(errs, errors.New("monitor.send_rate_per_sec must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(mc.ExcludeScope)) {
	case "", "after", "anywhere":
	default:
		errs = append(errs, fmt.Errorf("monitor.exclude_scope: unknown value %q (use after|anywhere)", mc.ExcludeScope))
	}
	switch strings.ToLower(strings.TrimSpace(mc.Dedup)) {
	case "", "author", "message":
	default:
		errs = append(errs, fmt.Errorf("monitor.dedup: unknown value %q (use author|message)", mc.Dedup))
	}
	switch strings.ToUpper(strings.TrimSpace(mc.ParseMode)) {
	case "", "HTML", "NONE":
	default:
		errs = append(errs, fmt.Errorf("monitor.parse_mode: unknown value %q (use HTML|none)", mc.ParseMode))
	}
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err))
		}
	}
	return errors.Join(errs...)
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
