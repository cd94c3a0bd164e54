package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/calscribe/calscribe/internal/auth"
	"github.com/calscribe/calscribe/internal/cache"
	"github.com/calscribe/calscribe/internal/config"
	"github.com/calscribe/calscribe/internal/event"
	"github.com/calscribe/calscribe/internal/gateway"
	"github.com/calscribe/calscribe/internal/ingest"
	"github.com/calscribe/calscribe/internal/reconcile"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calscribe",
		Usage: "Write parsed events to Google Calendar exactly once, with batch undo.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a JSON config file."},
			&cli.StringFlag{Name: "credentials", Usage: "Path to the Google OAuth credentials JSON file."},
			&cli.StringFlag{Name: "token", Usage: "Path to the OAuth token file."},
			&cli.StringFlag{Name: "state-dir", Usage: "Directory for dedupe and batch state files."},
			&cli.StringFlag{Name: "identity", Usage: "Account identity that scopes the local state."},
		},
		Commands: []*cli.Command{
			authCommand(),
			applyCommand(),
			undoCommand(),
			calendarsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account and store the token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			logger.Info("Starting Google authentication flow.", "token_path", cfg.TokenPath)

			oauthConfig, err := oauthConfigFor(cfg)
			if err != nil {
				return err
			}

			store := auth.NewFileTokenStore(cfg.TokenPath)
			if _, err := auth.GetAuthenticatedClient(c.Context, oauthConfig, store, logger); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}

			logger.Info("Token stored.", "file", cfg.TokenPath)
			return nil
		},
	}
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "Write a batch of events to a calendar, skipping ones already written.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "Events file (.json or .ics). Reads stdin when omitted."},
			&cli.StringFlag{Name: "calendar", Usage: "Target calendar name or id."},
			&cli.StringFlag{Name: "policy", Usage: "Conflict policy: skip, update or error."},
			&cli.StringFlag{Name: "timezone", Usage: "Default timezone for naive times (IANA name)."},
			&cli.BoolFlag{Name: "preserve-description", Usage: "Keep remote descriptions when the update policy rewrites an event."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := loadConfig(c,
				withString(c, "calendar", func(o *config.Overrides, v string) { o.CalendarName = v }),
				withString(c, "policy", func(o *config.Overrides, v string) { o.ConflictPolicy = v }),
				withString(c, "timezone", func(o *config.Overrides, v string) { o.DefaultTimeZone = v }),
				func(o *config.Overrides) { o.PreserveDescription = c.Bool("preserve-description") },
			)
			if err != nil {
				return err
			}

			events, err := readEvents(c.String("file"))
			if err != nil {
				return err
			}
			policy, err := reconcile.ParsePolicy(cfg.ConflictPolicy)
			if err != nil {
				return err
			}

			orch, err := buildOrchestrator(c.Context, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info("Applying batch.", "events", len(events), "calendar", cfg.CalendarName, "policy", string(policy))
			result, err := orch.WriteBatch(c.Context, events, cfg.CalendarName, policy)
			if result != nil {
				printBatchResult(result)
			}
			return err
		},
	}
}

func undoCommand() *cli.Command {
	return &cli.Command{
		Name:  "undo",
		Usage: "Delete the events a previous apply created.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "batch", Usage: "Undo token printed by apply.", Required: true},
			&cli.StringFlag{Name: "calendar", Usage: "Calendar the batch was applied to."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := loadConfig(c,
				withString(c, "calendar", func(o *config.Overrides, v string) { o.CalendarName = v }),
			)
			if err != nil {
				return err
			}

			orch, err := buildOrchestrator(c.Context, cfg, logger)
			if err != nil {
				return err
			}

			result, err := orch.Undo(c.Context, c.String("batch"), cfg.CalendarName)
			if result != nil {
				fmt.Printf("Deleted %d event(s)\n", result.Deleted)
				for _, f := range result.Failed {
					fmt.Printf("  failed %s: %s\n", f.EventID, f.Reason)
				}
			}
			return err
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars visible to the authenticated account.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			gw, err := buildGateway(c.Context, cfg, logger)
			if err != nil {
				return err
			}

			entries, err := gw.ListCalendars(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list calendars: %w", err)
			}
			for _, entry := range entries {
				marker := " "
				if entry.Primary {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\n", marker, entry.Id, entry.Summary)
			}
			return nil
		},
	}
}

// loadConfig resolves configuration from the global flags plus any
// command-specific overrides.
func loadConfig(c *cli.Context, extra ...func(*config.Overrides)) (*config.Config, error) {
	overrides := config.Overrides{
		GoogleCredentialsPath: c.String("credentials"),
		TokenPath:             c.String("token"),
		StateDir:              c.String("state-dir"),
		Identity:              c.String("identity"),
	}
	for _, apply := range extra {
		apply(&overrides)
	}
	return config.LoadConfig(c.String("config"), overrides)
}

func withString(c *cli.Context, flag string, set func(*config.Overrides, string)) func(*config.Overrides) {
	return func(o *config.Overrides) {
		if v := c.String(flag); v != "" {
			set(o, v)
		}
	}
}

func oauthConfigFor(cfg *config.Config) (*oauth2.Config, error) {
	clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return auth.NewConfig(clientID, clientSecret), nil
}

func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway.GoogleGateway, error) {
	oauthConfig, err := oauthConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	store := auth.NewFileTokenStore(cfg.TokenPath)
	httpClient, err := auth.GetAuthenticatedClient(ctx, oauthConfig, store, logger)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	gw, err := gateway.NewGoogleGateway(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	logger.Debug("Calendar gateway ready.")
	return gw, nil
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*reconcile.Orchestrator, error) {
	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := cache.OpenFileStore(cfg.StateDir, cfg.Identity, logger)
	if err != nil {
		return nil, err
	}
	batches, err := cache.OpenFileBatchStore(cfg.StateDir, cfg.Identity, logger)
	if err != nil {
		return nil, err
	}

	opts := reconcile.Options{
		MaxAttempts:         cfg.RetryAttempts,
		RetryDelay:          time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		CallTimeout:         time.Duration(cfg.RequestTimeoutSec) * time.Second,
		PreserveDescription: cfg.PreserveDescription,
	}
	if cfg.DefaultTimeZone != "" {
		loc, err := time.LoadLocation(cfg.DefaultTimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid default timezone %q: %w", cfg.DefaultTimeZone, err)
		}
		opts.DefaultTimeZone = loc
	}

	return reconcile.New(gw, store, batches, logger, opts), nil
}

func readEvents(path string) ([]event.Candidate, error) {
	if path == "" {
		return ingest.FromJSON(os.Stdin)
	}
	return ingest.FromFile(path)
}

func printBatchResult(result *reconcile.BatchResult) {
	fmt.Printf("Created %d, updated %d, skipped %d, failed %d\n",
		len(result.Created), len(result.Updated), len(result.Skipped), len(result.Failed))
	for _, f := range result.Failed {
		fmt.Printf("  event %d failed: %s\n", f.Index+1, f.Reason)
	}
	if result.UndoToken != "" {
		fmt.Printf("Undo with: calscribe undo --batch %s\n", result.UndoToken)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
