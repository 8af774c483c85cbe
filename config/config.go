// Package config loads the bot's settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"loki/lottery"
	"loki/memes"
	"loki/models"
	"loki/notify"
	"loki/workflow"
)

// Environment variables overriding the file.
const (
	EnvToken    = "BOT_TOKEN"
	EnvDatabase = "DATABASE_DSN"
	EnvLogLevel = "LOKI_LOG_LEVEL"
)

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Workflows toggles the background workflows.
type Workflows struct {
	Memes           bool `yaml:"memes"`
	NicknameLottery bool `yaml:"nickname_lottery"`
	// StreamIndicator marks live members' nicknames.
	StreamIndicator bool `yaml:"stream_indicator"`
}

type Memes struct {
	ReactionEmoji  string        `yaml:"reaction_emoji"`
	ReactionChance float64       `yaml:"reaction_chance"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ErrorDelay     time.Duration `yaml:"error_delay"`
	DisabledPoll   time.Duration `yaml:"disabled_poll"`
	CatchUpRate    float64       `yaml:"catch_up_rate"`
}

type Lottery struct {
	// Min and Max bound the seconds between draws.
	Min          int64         `yaml:"min"`
	Max          int64         `yaml:"max"`
	OverrideDate string        `yaml:"override_date"`
	ErrorDelay   time.Duration `yaml:"error_delay"`
	Once         bool          `yaml:"once"`
}

// Config is the bot's complete configuration.
type Config struct {
	Token    string `yaml:"token"`
	Guild    string `yaml:"guild"`
	Database string `yaml:"database"`
	// Timezone is the IANA zone the bot's calendar runs in.
	Timezone    string              `yaml:"timezone"`
	Log         Log                 `yaml:"log"`
	Subscribers map[string][]string `yaml:"subscribers"`
	Workflows   Workflows           `yaml:"workflows"`
	Memes       Memes               `yaml:"memes"`
	Lottery     Lottery             `yaml:"lottery"`
}

// Default returns the configuration used for anything left unset.
func Default() Config {
	m := memes.DefaultConfig()
	l := lottery.DefaultConfig()
	return Config{
		Database: "loki.db",
		Timezone: "UTC",
		Log:      Log{Level: "info"},
		Workflows: Workflows{
			Memes:           true,
			NicknameLottery: true,
			StreamIndicator: true,
		},
		Memes: Memes{
			ReactionEmoji:  m.ReactionEmoji,
			ReactionChance: m.ReactionChance,
			RetryDelay:     m.RetryDelay,
			ErrorDelay:     m.ErrorDelay,
			DisabledPoll:   m.DisabledPoll,
			CatchUpRate:    m.CatchUpRate,
		},
		Lottery: Lottery{
			Min:          l.Interval.Min,
			Max:          l.Interval.Max,
			OverrideDate: l.OverrideDate.String(),
			ErrorDelay:   l.ErrorDelay,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. A missing file or .env file is not an error. envFiles
// defaults to ".env".
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv(EnvToken); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	return cfg, nil
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("a bot token must be provided"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("a database must be provided"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SubscriberEvents(); err != nil {
		errs = append(errs, err)
	}
	if c.Memes.ReactionChance < 0 || c.Memes.ReactionChance > 1 {
		errs = append(errs, fmt.Errorf("memes.reaction_chance must be between 0 and 1, got %v", c.Memes.ReactionChance))
	}
	if c.Memes.ReactionEmoji == "" {
		errs = append(errs, errors.New("memes.reaction_emoji must be set"))
	}
	if !(models.Interval{Min: c.Lottery.Min, Max: c.Lottery.Max}).Valid() {
		errs = append(errs, fmt.Errorf("lottery interval %d..%d is invalid", c.Lottery.Min, c.Lottery.Max))
	}
	if _, err := lottery.ParseDate(c.Lottery.OverrideDate); err != nil {
		errs = append(errs, fmt.Errorf("lottery.override_date: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// SubscriberEvents returns who is subscribed to which event.
func (c Config) SubscriberEvents() (map[notify.Event][]string, error) {
	out := make(map[notify.Event][]string, len(c.Subscribers))
	for name, users := range c.Subscribers {
		event, err := notify.ParseEvent(name)
		if err != nil {
			return nil, fmt.Errorf("subscribers: %w", err)
		}
		out[event] = users
	}
	return out, nil
}

// Enabled returns which workflows should run.
func (c Config) Enabled() map[workflow.Kind]bool {
	return map[workflow.Kind]bool{
		workflow.KindMemes:           c.Workflows.Memes,
		workflow.KindNicknameLottery: c.Workflows.NicknameLottery,
	}
}

// MemesConfig returns the contest settings.
func (c Config) MemesConfig() memes.Config {
	return memes.Config{
		ReactionEmoji:  c.Memes.ReactionEmoji,
		ReactionChance: c.Memes.ReactionChance,
		RetryDelay:     c.Memes.RetryDelay,
		ErrorDelay:     c.Memes.ErrorDelay,
		DisabledPoll:   c.Memes.DisabledPoll,
		CatchUpRate:    c.Memes.CatchUpRate,
	}
}

// LotteryConfig returns the lottery settings.
func (c Config) LotteryConfig() (lottery.Config, error) {
	date, err := lottery.ParseDate(c.Lottery.OverrideDate)
	if err != nil {
		return lottery.Config{}, err
	}
	return lottery.Config{
		Interval:     models.Interval{Min: c.Lottery.Min, Max: c.Lottery.Max},
		OverrideDate: date,
		ErrorDelay:   c.Lottery.ErrorDelay,
		Once:         c.Lottery.Once,
	}, nil
}
