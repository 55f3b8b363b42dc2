package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Discord DiscordConfig `toml:"discord"`
	Market  MarketConfig  `toml:"market"`
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`
	Dev     bool          `toml:"dev"`
}

type DiscordConfig struct {
	Token     string `toml:"token"`
	ChannelID string `toml:"channel_id"`
}

// MarketConfig amounts are whole dollars.
type MarketConfig struct {
	InitialBalance    int64   `toml:"initial_balance"`
	ItemBaseValue     int64   `toml:"item_base_value"`
	DefaultInvest     int64   `toml:"default_invest"`
	SkimPercent       float64 `toml:"skim_percent"`
	DownvoteDecay     float64 `toml:"downvote_decay"`
	BankruptcyDivisor int64   `toml:"bankruptcy_divisor"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig.ReportEvery is how often a market summary is logged; zero
// disables it.
type LogConfig struct {
	Level       string        `toml:"level"`
	ReportEvery time.Duration `toml:"report_every"`
}

func Defaults() Config {
	return Config{
		Market: MarketConfig{
			InitialBalance:    200,
			ItemBaseValue:     1000,
			DefaultInvest:     10,
			SkimPercent:       0.02,
			DownvoteDecay:     0.9,
			BankruptcyDivisor: 4,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", ReportEvery: 10 * time.Minute},
	}
}

// Load layers defaults, the TOML file at path (skipped when path is empty),
// a .env file if present, and MEMEBOT_* environment variables. The result
// is not validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Discord.Token, "MEMEBOT_DISCORD_TOKEN")
	setStr(&cfg.Discord.ChannelID, "MEMEBOT_DISCORD_CHANNEL_ID")

	setInt(&cfg.Market.InitialBalance, "MEMEBOT_INITIAL_BALANCE")
	setInt(&cfg.Market.ItemBaseValue, "MEMEBOT_ITEM_BASE_VALUE")
	setInt(&cfg.Market.DefaultInvest, "MEMEBOT_DEFAULT_INVEST")
	setFloat(&cfg.Market.SkimPercent, "MEMEBOT_SKIM_PERCENT")
	setFloat(&cfg.Market.DownvoteDecay, "MEMEBOT_DOWNVOTE_DECAY")
	setInt(&cfg.Market.BankruptcyDivisor, "MEMEBOT_BANKRUPTCY_DIVISOR")

	if v, ok := os.LookupEnv("MEMEBOT_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = strings.TrimSpace(v)
	} else if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.HTTP.Addr = port
	}

	setStr(&cfg.Log.Level, "MEMEBOT_LOG_LEVEL")
	setDuration(&cfg.Log.ReportEvery, "MEMEBOT_REPORT_EVERY")
	setBool(&cfg.Dev, "MEMEBOT_DEV")
}

// Validate checks everything `memebot run` needs.
func (c Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord token is required"))
	}
	if c.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord channel id is required"))
	}
	m := c.Market
	if m.InitialBalance <= 0 {
		errs = append(errs, errors.New("initial balance must be > 0"))
	}
	if m.ItemBaseValue <= 0 {
		errs = append(errs, errors.New("item base value must be > 0"))
	}
	if m.DefaultInvest <= 0 {
		errs = append(errs, errors.New("default invest must be > 0"))
	}
	if m.SkimPercent < 0 || m.SkimPercent >= 1 {
		errs = append(errs, errors.New("skim percent must be in [0, 1)"))
	}
	if m.DownvoteDecay <= 0 || m.DownvoteDecay >= 1 {
		errs = append(errs, errors.New("downvote decay must be in (0, 1)"))
	}
	if m.BankruptcyDivisor <= 0 {
		errs = append(errs, errors.New("bankruptcy divisor must be > 0"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.ReportEvery < 0 {
		errs = append(errs, errors.New("report interval must be >= 0"))
	}
	return errors.Join(errs...)
}

// BankruptcyResetCents is both the eligibility threshold and the balance
// granted on bankruptcy.
func (m MarketConfig) BankruptcyResetCents() int64 {
	return m.InitialBalance * 100 / m.BankruptcyDivisor
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
