package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Timeout     string
	Retries     int
	MaxStale    string
	NoStale     bool
	NoCache     bool
	Chain       string
	RPCURL      string
	SlippageBps int
	NoProtect   bool
}

type Settings struct {
	OutputMode    string
	SelectFields  []string
	ResultsOnly   bool
	Timeout       time.Duration
	Retries       int
	MaxStale      time.Duration
	NoStale       bool
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string

	// Chain is the starting chain for the session. Resolution may switch
	// away from it when a token is recognized on another chain.
	Chain string
	// RPCOverrides maps chain keys to endpoint URLs that replace the
	// built-in public defaults.
	RPCOverrides map[string]string

	SlippageBps     int
	ProtectiveMode  bool
	DeadlineHorizon time.Duration

	DexScreenerURL string
	CoinGeckoURL   string
	BinanceURL     string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Chain   string `yaml:"chain"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Trade struct {
		SlippageBps *int   `yaml:"slippage_bps"`
		Protective  *bool  `yaml:"protective"`
		Deadline    string `yaml:"deadline"`
	} `yaml:"trade"`
	RPC   map[string]string `yaml:"rpc"`
	Feeds struct {
		DexScreenerURL string `yaml:"dexscreener_url"`
		CoinGeckoURL   string `yaml:"coingecko_url"`
		BinanceURL     string `yaml:"binance_url"`
	} `yaml:"feeds"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.SlippageBps < 0 || settings.SlippageBps > 10000 {
		return Settings{}, fmt.Errorf("slippage must be between 0 and 10000 basis points")
	}
	if settings.DeadlineHorizon <= 0 {
		settings.DeadlineHorizon = 20 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         15 * time.Second,
		Retries:         2,
		MaxStale:        5 * time.Minute,
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		Chain:           "eth",
		RPCOverrides:    map[string]string{},
		SlippageBps:     500,
		ProtectiveMode:  true,
		DeadlineHorizon: 20 * time.Minute,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dexroute", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "dexroute")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Chain != "" {
		settings.Chain = strings.ToLower(cfg.Chain)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Trade.SlippageBps != nil {
		settings.SlippageBps = *cfg.Trade.SlippageBps
	}
	if cfg.Trade.Protective != nil {
		settings.ProtectiveMode = *cfg.Trade.Protective
	}
	if cfg.Trade.Deadline != "" {
		d, err := time.ParseDuration(cfg.Trade.Deadline)
		if err != nil {
			return fmt.Errorf("config trade.deadline: %w", err)
		}
		settings.DeadlineHorizon = d
	}
	for chain, url := range cfg.RPC {
		if url != "" {
			settings.RPCOverrides[strings.ToLower(chain)] = url
		}
	}
	if cfg.Feeds.DexScreenerURL != "" {
		settings.DexScreenerURL = cfg.Feeds.DexScreenerURL
	}
	if cfg.Feeds.CoinGeckoURL != "" {
		settings.CoinGeckoURL = cfg.Feeds.CoinGeckoURL
	}
	if cfg.Feeds.BinanceURL != "" {
		settings.BinanceURL = cfg.Feeds.BinanceURL
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DEXROUTE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DEXROUTE_CHAIN"); v != "" {
		settings.Chain = strings.ToLower(v)
	}
	if v := os.Getenv("DEXROUTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DEXROUTE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DEXROUTE_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("DEXROUTE_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("DEXROUTE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("DEXROUTE_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("DEXROUTE_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("DEXROUTE_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("DEXROUTE_PROTECTIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.ProtectiveMode = b
		}
	}
	for _, chain := range []string{"eth", "base", "bsc"} {
		if v := os.Getenv("DEXROUTE_RPC_" + strings.ToUpper(chain)); v != "" {
			settings.RPCOverrides[chain] = v
		}
	}
	if v := os.Getenv("DEXROUTE_DEXSCREENER_URL"); v != "" {
		settings.DexScreenerURL = v
	}
	if v := os.Getenv("DEXROUTE_COINGECKO_URL"); v != "" {
		settings.CoinGeckoURL = v
	}
	if v := os.Getenv("DEXROUTE_BINANCE_URL"); v != "" {
		settings.BinanceURL = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.Chain) != "" {
		settings.Chain = strings.ToLower(strings.TrimSpace(flags.Chain))
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCOverrides[settings.Chain] = strings.TrimSpace(flags.RPCURL)
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.NoProtect {
		settings.ProtectiveMode = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
