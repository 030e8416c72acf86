package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Journal  JournalConfig  `json:"journal"`
	Monitor  MonitorConfig  `json:"monitor"`
	Debug    DebugConfig    `json:"debug"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via CHANWATCH_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// GroupLog is the chat id that receives forwarded log lines (optional).
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// JournalConfig controls the SQLite message journal that backs channel history.
//
// Defaults (when fields are omitted/zero):
//   - path: "./files/journal.db"
//   - busy_timeout: "5s"
//   - retention: "168h"
//   - page_size: 100
type JournalConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retention   string `json:"retention,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

// MonitorConfig holds the keyword policy, the watched chats and the notification settings.
type MonitorConfig struct {
	KeyWords   []string `json:"key_words"`
	UnkeyWords []string `json:"unkey_words,omitempty"`
	// ExcludeScope is "after" (exclusion words only count after the keyword) or "anywhere".
	ExcludeScope string `json:"exclude_scope,omitempty"`

	// Chats are the watched chats: "@name", "name", "https://t.me/name" or a numeric id.
	Chats       []string `json:"chats"`
	NotifyChats []int64  `json:"notify_chats"`
	// NotifyMessage supports {text}, {message_url}, {author_url} and {date}.
	NotifyMessage     string `json:"notify_message"`
	AuthorPlaceholder string `json:"author_placeholder,omitempty"`
	ParseMode         string `json:"parse_mode,omitempty"`
	Timezone          string `json:"timezone,omitempty"`

	// Schedule is an interval ("30m", "00:30") or a cron expression ("*/30 * * * *").
	Schedule       string `json:"schedule,omitempty"`
	ChannelDelay   string `json:"channel_delay,omitempty"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty"`

	CachePath string `json:"cache_path,omitempty"`
	// Dedup is "author" (first message per author, forever) or "message".
	Dedup       string `json:"dedup,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// DebugConfig enables a local HTTP endpoint with /status, /healthz and pprof.
// A non-loopback addr requires a token.
type DebugConfig struct {
	Addr  string `json:"addr,omitempty"`
	Token string `json:"token,omitempty"`
}
