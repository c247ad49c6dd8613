package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/sglre6355/notion-notify/internal/infrastructure"
	"github.com/sglre6355/notion-notify/internal/infrastructure/database"
	"github.com/sglre6355/notion-notify/internal/presentation"
	"github.com/sglre6355/notion-notify/internal/usecase"
)

var version = "dev"

type cli struct {
	EnvFile string           `help:"Dotenv file loaded before reading the environment." default:".env" type:"path"`
	Check   bool             `help:"Probe the webhook and fetch the database once, then exit."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

func run(args []string) int {
	var flags cli
	parser, err := kong.New(
		&flags,
		kong.Name("notion-notify"),
		kong.Description("Announce new Notion database records to a chat webhook and email."),
		kong.Vars{"version": version},
	)
	if err != nil {
		slog.Error("failed to build command line parser", slog.Any("error", err))
		return 1
	}
	if _, err := parser.Parse(args); err != nil {
		slog.Error("failed to parse command line", slog.Any("error", err))
		return 1
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		slog.Error("failed to load env file", slog.String("path", flags.EnvFile), slog.Any("error", err))
		return 1
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		slog.Error("failed to parse environment variables", slog.Any("error", err))
		return 1
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := infrastructure.NewNotionSource(
		infrastructure.NotionConfig{
			Secret:     cfg.NotionSecret,
			DatabaseID: cfg.NotionDatabaseID,
			Version:    cfg.NotionVersion,
			BaseURL:    cfg.NotionBaseURL,
		},
		infrastructure.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		infrastructure.WithSourceLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create notion source", slog.Any("error", err))
		return 1
	}

	session, err := discordgo.New("")
	if err != nil {
		logger.Error("failed to create Discord session", slog.Any("error", err))
		return 1
	}
	session.Client.Timeout = cfg.RequestTimeout

	webhook, err := presentation.NewWebhookNotifier(session, cfg.webhookSettings())
	if err != nil {
		logger.Error("failed to create webhook notifier", slog.Any("error", err))
		return 1
	}

	if cfg.WebhookProbe || flags.Check {
		info, err := webhook.Probe(ctx)
		if err != nil {
			logger.Error("failed to probe webhook", slog.Any("error", err))
			return 1
		}
		logger.Info(
			"webhook reachable",
			slog.String("name", info.Name),
			slog.String("channel", info.ChannelID),
			slog.String("guild", info.GuildID),
		)
	}

	channels := []usecase.Channel{{Name: "webhook", Notifier: webhook}}

	if cfg.mailEnabled() {
		sender, err := presentation.NewSMTPSender(cfg.mailSettings())
		if err != nil {
			logger.Error("failed to create smtp client", slog.Any("error", err))
			return 1
		}
		mailer, err := presentation.NewMailNotifier(cfg.mailSettings(), sender)
		if err != nil {
			logger.Error("failed to create mail notifier", slog.Any("error", err))
			return 1
		}
		channels = append(channels, usecase.Channel{Name: "email", Notifier: mailer})
	}

	if cfg.JournalDatabaseURL != "" {
		db, err := database.Open(cfg.JournalDatabaseURL)
		if err != nil {
			logger.Error("failed to connect to journal database", slog.Any("error", err))
			return 1
		}
		defer closeDB(logger, db)

		journal := database.NewJournalStore(db)
		if err := journal.AutoMigrate(ctx); err != nil {
			logger.Error("failed to run journal migrations", slog.Any("error", err))
			return 1
		}
		channels = append(channels, usecase.Channel{Name: "journal", Notifier: journal})
	}

	dispatcher := usecase.NewDispatcher(
		channels,
		usecase.WithRateLimit(cfg.NotifyRatePerSec),
		usecase.WithChannelTimeout(cfg.RequestTimeout),
		usecase.WithDispatcherLogger(logger),
	)

	poller := usecase.NewPoller(
		source,
		dispatcher,
		usecase.WithPollInterval(cfg.pollInterval()),
		usecase.WithFailureBudget(cfg.FailureBudget),
		usecase.WithPollerLogger(logger),
		usecase.WithCycleErrorHandler(func(stage usecase.CycleErrorStage, err error) {
			logger.Error("poll cycle failed", slog.Any("stage", stage), slog.Any("error", err))
		}),
	)

	if flags.Check {
		if _, err := poller.Bootstrap(ctx); err != nil {
			logger.Error("check failed", slog.Any("error", err))
			return 1
		}
		logger.Info("check passed", slog.Any("channels", dispatcher.Channels()))
		return 0
	}

	logger.Info(
		"polling started",
		slog.Duration("interval", cfg.pollInterval()),
		slog.Any("channels", dispatcher.Channels()),
	)

	if err := poller.Run(ctx); err != nil {
		logger.Error("polling stopped", slog.Any("error", err))
		return 1
	}

	logger.Info("Termination signal received, shut down cleanly")
	return 0
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func newLogger(cfg config, w io.Writer) *slog.Logger {
	level, _ := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func closeDB(logger *slog.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("failed to access journal database handle", slog.Any("error", err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("failed to close journal database connection", slog.Any("error", err))
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}
