package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/BTreeMap/CoachPipe/internal/api"
	"github.com/BTreeMap/CoachPipe/internal/lockfile"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/recovery"
	"github.com/BTreeMap/CoachPipe/internal/scheduler"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachpipe.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.Debug)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CoachPipe with configured modules")
	slog.Debug("Final configuration", "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "cron_secret_set", *flags.cronSecret != "")
	if err := run(flags); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	APIAddr       string
	CronSecret    string
	RecoveryCron  string
	DispatchCron  string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	Debug         bool
	SeedSequences bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	cronSecret   *string
	recoveryCron *string
	dispatchCron *string
	seed         *bool
	cfg          Config
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("COACHPIPE_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		CronSecret:    os.Getenv("CRON_SECRET"),
		RecoveryCron:  os.Getenv("RECOVERY_CRON"),
		DispatchCron:  os.Getenv("DISPATCH_CRON"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		Debug:         util.ParseBoolEnv("COACHPIPE_DEBUG", false),
		SeedSequences: util.ParseBoolEnv("SEED_SEQUENCES", true),
	}

	// Default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}

	// No database URL means SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		cronSecret:   flag.String("cron-secret", config.CronSecret, "shared secret for the recovery run endpoint (overrides $CRON_SECRET)"),
		recoveryCron: flag.String("recovery-cron", config.RecoveryCron, "in-process cron schedule for recovery runs (overrides $RECOVERY_CRON)"),
		dispatchCron: flag.String("dispatch-cron", config.DispatchCron, "in-process cron schedule for dispatch ticks (overrides $DISPATCH_CRON)"),
		seed:         flag.Bool("seed-sequences", config.SeedSequences, "seed the default recovery sequences at startup (overrides $SEED_SEQUENCES)"),
		cfg:          config,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"cronSecret_set", *flags.cronSecret != "",
		"recoveryCron", *flags.recoveryCron,
		"dispatchCron", *flags.dispatchCron,
		"seed", *flags.seed)

	// Follow a moved state directory when the DSN was derived from it
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSenders constructs the per-channel message senders. SMS goes through
// Twilio when credentials are configured, otherwise everything logs to the
// console sender.
func buildSenders(flags Flags) map[models.SequenceChannel]messaging.Sender {
	senders := make(map[models.SequenceChannel]messaging.Sender)
	if flags.cfg.TwilioSID != "" && flags.cfg.TwilioToken != "" && flags.cfg.TwilioFrom != "" {
		tw, err := messaging.NewTwilioSender(
			messaging.WithAccountSID(flags.cfg.TwilioSID),
			messaging.WithAuthToken(flags.cfg.TwilioToken),
			messaging.WithFromNumber(flags.cfg.TwilioFrom),
		)
		if err != nil {
			slog.Warn("Twilio sender unavailable, SMS falls back to console", "error", err)
		} else {
			slog.Info("Twilio SMS sender configured")
			senders[models.ChannelSMS] = tw
		}
	}
	return senders
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.cronSecret != "" {
		apiOpts = append(apiOpts, api.WithCronSecret(*flags.cronSecret))
	}
	return apiOpts
}

// run opens the store, seeds the sequence catalog, wires the server and the
// optional in-process cron jobs, and serves until interrupted.
func run(flags Flags) error {
	// Two instances sharing one SQLite file would race the recovery batch,
	// so file-based storage takes an exclusive lock on the state directory.
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	if *flags.seed {
		if err := recovery.EnsureDefaultSequences(st); err != nil {
			return err
		}
	}

	srv := api.NewServer(st, buildSenders(flags), buildAPIOptions(flags)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flags.recoveryCron != "" || *flags.dispatchCron != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if *flags.recoveryCron != "" {
			err := sched.AddJob("recovery-run", *flags.recoveryCron, func() {
				if _, err := srv.RunRecovery(ctx); err != nil {
					slog.Error("Scheduled recovery run failed", "error", err)
				}
			})
			if err != nil {
				return err
			}
		}
		if *flags.dispatchCron != "" {
			err := sched.AddJob("dispatch-tick", *flags.dispatchCron, func() {
				if _, err := srv.RunDispatch(ctx); err != nil {
					slog.Error("Scheduled dispatch tick failed", "error", err)
				}
			})
			if err != nil {
				return err
			}
		}
	}

	return srv.Run(ctx)
}
