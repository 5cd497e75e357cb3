package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Watch    WatchConfig    `json:"watch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WatchConfig controls the page watcher.
type WatchConfig struct {
	// URL of the page to poll. Defaults to the Last Bottle front page.
	URL string `json:"url,omitempty"`
	// CheckRateMinutes seeds the poll interval when the persisted settings
	// carry no rate of their own.
	CheckRateMinutes int `json:"check_rate_minutes,omitempty"`
	// FetchTimeout is a Go duration string bounding a single page fetch.
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	// VersionFile points at a file whose first line is reported by /status.
	VersionFile string `json:"version_file,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./watchlb.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
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
