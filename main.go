package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"loki/bot"
	"loki/clock"
	"loki/config"
	"loki/dal"
	"loki/discordutils"
	"loki/logging"
	"loki/lottery"
	"loki/memes"
	"loki/notify"
	"loki/rng"
	"loki/state"
	"loki/stream"
	"loki/workflow"
)

var (
	configPath = flag.String(
		"config",
		"loki.yaml",
		"YAML configuration file. Missing files are ignored.",
	)
	botToken = flag.String(
		"token",
		"",
		"Bot access token. Overrides "+config.EnvToken+".",
	)
	guildID = flag.String(
		"guild",
		"",
		"Test guild ID. If not set, slash commands will be registered globally.",
	)
	dbPath = flag.String(
		"db",
		"",
		"SQLite database file path or postgres:// DSN. Overrides "+config.EnvDatabase+".",
	)
	pretty = flag.Bool(
		"pretty",
		false,
		"Log human-readable output instead of JSON.",
	)
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if *botToken != "" {
		cfg.Token = *botToken
	}
	if *guildID != "" {
		cfg.Guild = *guildID
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *pretty {
		cfg.Log.Pretty = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := dal.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	store, err := state.Load(ctx, dal.Repository{DB: db}, log.With().Str("component", "state").Logger())
	if err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	gateway := discordutils.NewSession(session)

	// Validate has already checked these.
	loc, _ := cfg.Location()
	events, _ := cfg.SubscriberEvents()
	lotteryCfg, err := cfg.LotteryConfig()
	if err != nil {
		return err
	}

	sink := notify.NewSubscribers(gateway, events, log)
	defer sink.Wait()

	clk := clock.Real(loc)
	src := rng.Seeded()
	voting := memes.New(store, gateway, sink, clk, src, cfg.MemesConfig(), log)
	nicknames := lottery.New(store, gateway, sink, clk, src, lotteryCfg, log)

	var indicator *stream.Indicator
	if cfg.Workflows.StreamIndicator {
		indicator = stream.New(gateway, sink, log)
	}

	supervisor, err := workflow.NewSupervisor(store, workflow.Runners{
		workflow.KindMemes:           voting.Run,
		workflow.KindNicknameLottery: nicknames.Run,
	}, cfg.Enabled(), log)
	if err != nil {
		return err
	}
	log.Info().Str("instance", supervisor.Instance()).Msg("Starting.")

	b, err := bot.New(ctx, session, cfg.Guild, bot.Services{
		Supervisor: supervisor,
		Memes:      voting,
		Lottery:    nicknames,
		Stream:     indicator,
		Sink:       sink,
		Clock:      clk,
	}, log)
	if err != nil {
		return err
	}

	<-ctx.Done()
	b.Shutdown()
	supervisor.Wait()
	return nil
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr)
		flag.Usage()
		os.Exit(1)
	}

	log, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Bot stopped.")
	}
}
