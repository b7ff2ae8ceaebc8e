package config

import "time"

// Config is the root configuration for the daemon.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Listen  string        `json:"listen,omitempty"`
	DataDir string        `json:"data_dir,omitempty"`
	Logging LoggingConfig `json:"logging"`

	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	API       APIConfig       `json:"api,omitempty"`
	Jobs      JobsConfig      `json:"jobs,omitempty"`

	Gemini GeminiConfig `json:"gemini,omitempty"`
	Google GoogleConfig `json:"google,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path,omitempty"`
	// BusyTimeout is the sqlite busy_timeout. Default "5s".
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// DedupCapacity bounds the processed-item ledger. Default 500.
	DedupCapacity int `json:"dedup_capacity,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA TZ name, e.g. "Asia/Seoul". Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

type APIConfig struct {
	// RatePerMinute caps API requests across all clients. 0 disables limiting.
	RatePerMinute  int      `json:"rate_per_minute,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// JobsConfig carries defaults consumed by the built-in task handlers.
type JobsConfig struct {
	BackupDir   string   `json:"backup_dir,omitempty"`
	ScratchDirs []string `json:"scratch_dirs,omitempty"`

	// ArchiveFolder is the remote folder receiving raw email transcripts.
	ArchiveFolder string `json:"archive_folder,omitempty"`
	// AttachmentFolder is the fallback remote folder for unclassified attachments.
	AttachmentFolder string `json:"attachment_folder,omitempty"`

	MailboxMax int `json:"mailbox_max,omitempty"`

	CommandTimeout string `json:"command_timeout,omitempty"`
	MaxOutputBytes int    `json:"max_output_bytes,omitempty"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type GoogleConfig struct {
	// TokenPath points at a file holding a bearer token for Drive/Gmail.
	// Token acquisition/refresh is handled outside this process.
	TokenPath string `json:"token_path,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// ---- resolved defaults ----

func (c *Config) ListenAddr() string {
	if c.Listen == "" {
		return ":3000"
	}
	return c.Listen
}

func (c *Config) DataDirectory() string {
	if c.DataDir == "" {
		return "./data"
	}
	return c.DataDir
}

func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

func (j JobsConfig) ResolvedArchiveFolder() string {
	if j.ArchiveFolder == "" {
		return "email-archive"
	}
	return j.ArchiveFolder
}

func (j JobsConfig) ResolvedAttachmentFolder() string {
	if j.AttachmentFolder == "" {
		return "email-attachments"
	}
	return j.AttachmentFolder
}

func (j JobsConfig) ResolvedMailboxMax() int {
	if j.MailboxMax <= 0 {
		return 10
	}
	return j.MailboxMax
}

func (g GeminiConfig) ResolvedModel() string {
	if g.Model == "" {
		return "gemini-2.0-flash"
	}
	return g.Model
}

func (g GeminiConfig) ResolvedTimeout() time.Duration {
	d, err := ParseDurationField("gemini.timeout", g.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
