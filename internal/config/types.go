package config

// Config is the on-disk daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "7s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Project  ProjectConfig  `json:"project"`
	Monitor  MonitorConfig  `json:"monitor"`
	Logging  LoggingConfig  `json:"logging"`
	Systemd  SystemdConfig  `json:"systemd,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API base URL (default https://api.telegram.org).
	APIURL string `json:"api_url,omitempty"`
	// Handle is the operator's Telegram username, with or without a leading "@".
	Handle string `json:"handle"`
	// RequestTimeout bounds every gateway call. Must be shorter than monitor.interval.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type ProjectConfig struct {
	// Path is the Unreal project root (the directory holding the .uproject file).
	Path string `json:"path"`
}

// MonitorConfig controls the poll loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "7s"
//   - flags: every defined flag
//   - cache_ttl: "24h" (Telegram keeps pending updates for about a day; "0" disables the cached-chat fallback)
//   - send_rate_per_sec: 1
type MonitorConfig struct {
	Interval       string   `json:"interval,omitempty"`
	Flags          []string `json:"flags,omitempty"`
	CacheTTL       string   `json:"cache_ttl,omitempty"`
	SendRatePerSec int      `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SystemdConfig toggles sd_notify integration. It is a no-op when the
// process was not started by systemd (NOTIFY_SOCKET unset).
type SystemdConfig struct {
	Notify bool `json:"notify"`
}
