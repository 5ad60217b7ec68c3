package global

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"
	defaultJournalFile = "journal.db"
)

type KernelConfig struct {
	URL            string `json:"url" toml:"url"`
	InstantiateURL string `json:"instantiate_url,omitempty" toml:"instantiate_url,omitempty"`
	AppID          string `json:"app_id,omitempty" toml:"app_id,omitempty"`
	// AutoRun asks the kernel to run cells on instantiation.
	AutoRun        bool   `json:"auto_run" toml:"auto_run"`
}

type BridgeConfig struct {
	Host string `json:"host" toml:"host"`
	Port int    `json:"port" toml:"port"`
}

type FunctionsConfig struct {
	TimeoutMS int `json:"timeout_ms" toml:"timeout_ms"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Path    string `json:"path,omitempty" toml:"path,omitempty"`

	// RetentionDays prunes finished sessions older than this at startup.
	// Zero keeps everything.
	RetentionDays int `json:"retention_days" toml:"retention_days"`
}

type GlobalConfig struct {
	LogLevel  string          `json:"log_level" toml:"log_level"`
	Kernel    KernelConfig    `json:"kernel" toml:"kernel"`
	Bridge    BridgeConfig    `json:"bridge" toml:"bridge"`
	Functions FunctionsConfig `json:"functions" toml:"functions"`
	Journal   JournalConfig   `json:"journal" toml:"journal"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string { return s.dir }

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return s.normalize(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := s.normalize(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), s.normalize(cfg))
}

func (s *ConfigStore) normalize(cfg GlobalConfig) GlobalConfig {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = "info"
	}
	cfg.Kernel.URL = strings.TrimSpace(cfg.Kernel.URL)
	if cfg.Kernel.URL == "" {
		cfg.Kernel.URL = "ws://127.0.0.1:2718/ws"
	}
	cfg.Kernel.InstantiateURL = strings.TrimSpace(cfg.Kernel.InstantiateURL)
	cfg.Kernel.AppID = strings.TrimSpace(cfg.Kernel.AppID)
	cfg.Bridge.Host = strings.TrimSpace(cfg.Bridge.Host)
	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = "127.0.0.1"
	}
	if cfg.Bridge.Port <= 0 || cfg.Bridge.Port > 65535 {
		cfg.Bridge.Port = 2719
	}
	if cfg.Functions.TimeoutMS < 0 {
		cfg.Functions.TimeoutMS = 0
	}
	cfg.Journal.Path = strings.TrimSpace(cfg.Journal.Path)
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = JournalPath(s.dir)
	}
	if cfg.Journal.RetentionDays < 0 {
		cfg.Journal.RetentionDays = 0
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONAtomically(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
