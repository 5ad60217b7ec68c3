package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	KernelURL       string
	InstantiateURL  string
	AppID           string
	LogLevel        string
	TraceProtocol   bool
	ListenHost      string
	ListenPort      int
	FunctionTimeout time.Duration
	JournalEnabled  bool
	DBDSN           string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool

	defaultKernelURL  = "ws://127.0.0.1:2718/ws"
	defaultListenPort = 2719
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

// EnvSet reports whether the named variable is present in the environment.
// File config only fills fields whose variable is unset.
func EnvSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func loadFromEnv() Config {
	kernelURL := strings.TrimSpace(os.Getenv("NBISLAND_KERNEL_URL"))
	if kernelURL == "" {
		kernelURL = defaultKernelURL
	}
	level := strings.TrimSpace(os.Getenv("NBISLAND_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	trace := os.Getenv("NBISLAND_TRACE_PROTOCOL") == "1"
	if trace {
		level = "debug"
	}
	host := strings.TrimSpace(os.Getenv("NBISLAND_LISTEN_HOST"))
	if host == "" {
		host = "127.0.0.1"
	}
	port := defaultListenPort
	if n := atoiOrDefault(os.Getenv("NBISLAND_LISTEN_PORT"), defaultListenPort); n > 0 && n < 65536 {
		port = n
	}
	timeoutMS := atoiOrDefault(os.Getenv("NBISLAND_FUNCTION_TIMEOUT_MS"), 0)

	return Config{
		KernelURL:       kernelURL,
		InstantiateURL:  strings.TrimSpace(os.Getenv("NBISLAND_INSTANTIATE_URL")),
		AppID:           strings.TrimSpace(os.Getenv("NBISLAND_APP_ID")),
		LogLevel:        level,
		TraceProtocol:   trace,
		ListenHost:      host,
		ListenPort:      port,
		FunctionTimeout: time.Duration(timeoutMS) * time.Millisecond,
		JournalEnabled:  os.Getenv("NBISLAND_JOURNAL") == "1",
		DBDSN:           strings.TrimSpace(os.Getenv("NBISLAND_DB_DSN")),
	}
}

func atoiOrDefault(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
