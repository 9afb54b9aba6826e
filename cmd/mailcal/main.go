package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/samfawaz/mailcal/internal/api"
	"github.com/samfawaz/mailcal/internal/auth"
	"github.com/samfawaz/mailcal/internal/bus"
	"github.com/samfawaz/mailcal/internal/candidate"
	"github.com/samfawaz/mailcal/internal/config"
	"github.com/samfawaz/mailcal/internal/extractor"
	"github.com/samfawaz/mailcal/internal/gcal"
	"github.com/samfawaz/mailcal/internal/gemini"
	"github.com/samfawaz/mailcal/internal/gmail"
	"github.com/samfawaz/mailcal/internal/metrics"
	"github.com/samfawaz/mailcal/internal/processor"
	"github.com/samfawaz/mailcal/internal/reconcile"
	"github.com/samfawaz/mailcal/internal/resolve"
	"github.com/samfawaz/mailcal/internal/store"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "mailcal",
		Usage: "Read a mailbox, extract events with an LLM and sync them to Google Calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "Path to the YAML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			runCommand(),
			onceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Run the interactive Google OAuth flow and store the token.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			oauthConfig, err := auth.ConfigFromCredentials(cfg.CredentialsFile)
			if err != nil {
				return err
			}
			if _, err := auth.Client(c.Context, oauthConfig, auth.NewFileTokenStore(cfg.TokenFile)); err != nil {
				return err
			}
			slog.Info("token stored", "file", cfg.TokenFile)
			return nil
		},
	}
}

func onceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Poll the mailbox once, process everything found and exit.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ctx := c.Context
			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.close()

			return p.poll(ctx)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Poll the mailbox on a schedule and serve the HTTP API.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			slog.Info("mailcal starting", "port", cfg.Port, "poll_cron", cfg.PollCron)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			p, err := buildPipeline(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.close()

			srv := api.NewServer(cfg.Port, p.metrics, cfg.GeminiModel)
			go func() {
				if err := srv.Start(); err != nil {
					slog.Error("HTTP server error", "error", err)
				}
			}()

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(cfg.PollCron, func() {
				if err := p.poll(ctx); err != nil {
					slog.Error("poll failed", "error", err)
				}
			}); err != nil {
				return fmt.Errorf("invalid poll schedule %q: %w", cfg.PollCron, err)
			}
			scheduler.Start()

			// First pass right away rather than waiting for the schedule.
			if err := p.poll(ctx); err != nil {
				slog.Error("initial poll failed", "error", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			slog.Info("shutting down")

			cancel()
			<-scheduler.Stop().Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("HTTP shutdown error", "error", err)
			}

			slog.Info("mailcal stopped")
			return nil
		},
	}
}

// pipeline holds the wired processing stack for one running instance.
type pipeline struct {
	cfg       config.Config
	source    *gmail.Source
	processor *processor.Processor
	metrics   *metrics.Registry
	bus       *bus.Client

	pollMu   sync.Mutex
	cleanups []func()
}

func (p *pipeline) close() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
}

// poll fetches pending messages and runs each through the processor.
// Overlapping cron fires collapse into sequential passes.
func (p *pipeline) poll(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	msgs, err := p.source.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll mailbox: %w", err)
	}
	slog.Info("poll complete", "messages", len(msgs))

	for _, msg := range msgs {
		if _, err := p.processor.ProcessMessage(ctx, msg); err != nil {
			slog.Error("message processing failed", "message_id", msg.ID, "error", err)
			continue
		}
		// Already-processed redeliveries get marked read too: the only
		// way a committed message is still unread is a crash between
		// commit and this call.
		if p.cfg.MarkAsRead {
			if err := p.source.MarkRead(ctx, msg.ID); err != nil {
				slog.Warn("failed to mark message read", "message_id", msg.ID, "error", err)
			}
		}
	}
	return nil
}

func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	p := &pipeline{cfg: cfg, metrics: metrics.NewRegistry()}

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		p.cleanups = append(p.cleanups, pg.Close)
		st = pg
		slog.Info("database connected")
	} else {
		st = store.NewMemory()
		slog.Warn("DATABASE_URL not set — sync state will not survive restarts")
	}

	llm := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	ext, err := extractor.New(llm, cfg.Timezone, slog.Default())
	if err != nil {
		p.close()
		return nil, fmt.Errorf("create extractor: %w", err)
	}
	slog.Info("gemini client ready", "model", cfg.GeminiModel)

	oauthConfig, err := auth.ConfigFromCredentials(cfg.CredentialsFile)
	if err != nil {
		p.close()
		return nil, err
	}
	httpClient, err := auth.Client(ctx, oauthConfig, auth.NewFileTokenStore(cfg.TokenFile))
	if err != nil {
		p.close()
		return nil, fmt.Errorf("authenticate with Google: %w", err)
	}

	p.source, err = gmail.NewSource(ctx, httpClient, cfg.GmailQuery, cfg.MaxMessages, slog.Default())
	if err != nil {
		p.close()
		return nil, err
	}
	calClient, err := gcal.NewClient(ctx, httpClient, cfg.CalendarID, cfg.Timezone)
	if err != nil {
		p.close()
		return nil, err
	}

	// Bus is optional: without NATS the pipeline runs, just without
	// lifecycle signals.
	var pub processor.Publisher
	if cfg.NatsURL != "" {
		busClient, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			p.close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		p.cleanups = append(p.cleanups, busClient.Close)
		p.bus = busClient
		pub = busClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without bus signals")
	}

	builder := candidate.NewBuilder(cfg.MinConfidence, cfg.DefaultDurationMinutes, cfg.AgentAddress, cfg.Location())
	resolver := resolve.NewResolver(st, slog.Default())
	reconciler := reconcile.New(st, calClient, cfg.MaxSyncAttempts, cfg.RetryBaseBackoff.Std(), slog.Default())

	p.processor = processor.New(
		st,
		ext,
		builder,
		resolver,
		reconciler,
		p.metrics,
		pub,
		cfg.MessageTimeout.Std(),
		slog.Default(),
	)

	// Announce registration
	if p.bus != nil {
		if err := p.bus.Publish(bus.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"model":     cfg.GeminiModel,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}
	return p, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
