package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/api"
	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/genai"
	"github.com/BTreeMap/PortfolioChat/internal/lockfile"
	"github.com/BTreeMap/PortfolioChat/internal/messaging"
	"github.com/BTreeMap/PortfolioChat/internal/scheduler"
	"github.com/BTreeMap/PortfolioChat/internal/script"
	"github.com/BTreeMap/PortfolioChat/internal/store"
	"github.com/BTreeMap/PortfolioChat/internal/twiliowhatsapp"
	"github.com/BTreeMap/PortfolioChat/internal/util"
	"github.com/BTreeMap/PortfolioChat/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PortfolioChat state data
	DefaultStateDir = "/var/lib/portfoliochat"
	// DefaultDBFileName is the default SQLite transcript database filename
	DefaultDBFileName = "portfoliochat.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultIdleTimeout closes conversations nobody has touched for this long
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultOutboxPollInterval is how often queued notifications are delivered
	DefaultOutboxPollInterval = 5 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("PortfolioChat failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PortfolioChat exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	DBDriver       string
	APIAddr        string
	AllowedOrigins string
	OpenAIKey      string
	GenAIDebug     bool
	ScriptPath     string
	TypingDelay    time.Duration
	ReplyDelay     time.Duration
	IdleTimeout    time.Duration
	ReaperCron     string
	NotifyTo       string
	NotifyChannel  string
	WhatsAppDBDSN  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	dbDriver       *string
	apiAddr        *string
	allowedOrigins *string
	openaiKey      *string
	genaiDebug     *bool
	scriptPath     *string
	typingDelay    *time.Duration
	replyDelay     *time.Duration
	idleTimeout    *time.Duration
	reaperCron     *string
	notifyTo       *string
	notifyChannel  *string
	whatsAppDBDSN  *string
	qrOutput       *string
	numeric        *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       util.GetEnvOrDefault("PORTFOLIOCHAT_STATE_DIR", DefaultStateDir),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DBDriver:       os.Getenv("DB_DRIVER"),
		APIAddr:        util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GenAIDebug:     util.ParseBoolEnv("GENAI_DEBUG", false),
		ScriptPath:     os.Getenv("SCRIPT_PATH"),
		TypingDelay:    util.ParseDurationEnv("TYPING_DELAY", 0),
		ReplyDelay:     util.ParseDurationEnv("REPLY_DELAY", 0),
		IdleTimeout:    util.ParseDurationEnv("IDLE_TIMEOUT", DefaultIdleTimeout),
		ReaperCron:     util.GetEnvOrDefault("REAPER_CRON", scheduler.DefaultReaperSchedule),
		NotifyTo:       os.Getenv("NOTIFY_TO"),
		NotifyChannel:  util.GetEnvOrDefault("NOTIFY_CHANNEL", messaging.ChannelLog),
		WhatsAppDBDSN:  os.Getenv("WHATSAPP_DB_DSN"),
	}

	// Transcripts default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"PORTFOLIOCHAT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DB_DRIVER", config.DBDriver,
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"SCRIPT_PATH", config.ScriptPath,
		"IDLE_TIMEOUT", config.IdleTimeout,
		"REAPER_CRON", config.ReaperCron,
		"NOTIFY_CHANNEL", config.NotifyChannel,
		"NOTIFY_TO_SET", config.NotifyTo != "")

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for PortfolioChat data (overrides $PORTFOLIOCHAT_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "transcript database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		dbDriver:       flag.String("db-driver", config.DBDriver, "SQLite driver, sqlite3 or sqlite (overrides $DB_DRIVER)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		allowedOrigins: flag.String("allowed-origins", config.AllowedOrigins, "comma-separated websocket origins (overrides $ALLOWED_ORIGINS)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		genaiDebug:     flag.Bool("genai-debug", config.GenAIDebug, "log every model request to the state directory (overrides $GENAI_DEBUG)"),
		scriptPath:     flag.String("script", config.ScriptPath, "persona script YAML file (overrides $SCRIPT_PATH)"),
		typingDelay:    flag.Duration("typing-delay", config.TypingDelay, "pause before the typing placeholder, 0 keeps the script value (overrides $TYPING_DELAY)"),
		replyDelay:     flag.Duration("reply-delay", config.ReplyDelay, "placeholder duration before the reply, 0 keeps the script value (overrides $REPLY_DELAY)"),
		idleTimeout:    flag.Duration("idle-timeout", config.IdleTimeout, "close idle conversations after this long, 0 disables (overrides $IDLE_TIMEOUT)"),
		reaperCron:     flag.String("reaper-cron", config.ReaperCron, "schedule of the idle reaper (overrides $REAPER_CRON)"),
		notifyTo:       flag.String("notify-to", config.NotifyTo, "phone number receiving transcripts (overrides $NOTIFY_TO)"),
		notifyChannel:  flag.String("notify-channel", config.NotifyChannel, "transcript channel: log, twilio or whatsapp (overrides $NOTIFY_CHANNEL)"),
		whatsAppDBDSN:  flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:       flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"dbDriver", *flags.dbDriver,
		"apiAddr", *flags.apiAddr,
		"scriptPath", *flags.scriptPath,
		"idleTimeout", *flags.idleTimeout,
		"notifyChannel", *flags.notifyChannel)

	// Follow a state directory override for the default database paths
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.whatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsAppDBDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates the state directory and the directory of a
// file-based database.
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) != store.DriverPostgres {
		if path := store.SQLiteFilePath(*flags.dbDSN); path != "" {
			dirs = append(dirs, filepath.Dir(path))
		}
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// run wires every component and serves until SIGINT or SIGTERM.
func run(flags Flags) error {
	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir, *flags.apiAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := loadScript(*flags.scriptPath)
	if err != nil {
		return err
	}
	applyChatOverrides(sc, flags)

	st, err := store.Open(*flags.dbDSN, buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gen, err := buildGenerator(flags)
	if err != nil {
		return err
	}
	engine, err := conversation.NewEngine(
		conversation.WithConfig(sc.Chat.Config),
		conversation.WithResolver(sc.Resolver(gen)),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation engine: %w", err)
	}

	svc, err := buildMessagingService(ctx, flags)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	managerOpts := []conversation.ManagerOption{conversation.WithArchiver(st)}
	if *flags.notifyTo != "" {
		to, err := svc.ValidateAndCanonicalizeRecipient(*flags.notifyTo)
		if err != nil {
			return fmt.Errorf("invalid notification recipient: %w", err)
		}
		managerOpts = append(managerOpts, conversation.WithNotifier(messaging.NewTranscriptRelay(st, to)))
	}
	manager := conversation.NewManager(engine, managerOpts...)
	defer manager.Shutdown(context.Background())

	sender := store.NewOutboxSender(st, messaging.SendFunc(svc), DefaultOutboxPollInterval)
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("Failed to recover stale outbox messages", "error", err)
	}
	go sender.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop(context.Background())
	if err := scheduler.ScheduleReaper(sched, *flags.reaperCron, manager, *flags.idleTimeout); err != nil {
		return err
	}

	slog.Info("Bootstrapping PortfolioChat", "script", sc.Name, "mode", sc.Chat.Mode, "notify_channel", *flags.notifyChannel)
	server := api.NewServer(manager, sc, buildAPIOptions(flags, st, sched)...)
	return server.Run(ctx)
}

// loadScript reads the persona script, or returns the built-in one when no
// path is configured.
func loadScript(path string) (*script.Script, error) {
	if path == "" {
		slog.Debug("No script configured, using built-in persona")
		return script.Default(), nil
	}
	sc, err := script.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", path, err)
	}
	return sc, nil
}

// applyChatOverrides replaces the script's delays with non-zero flag values.
func applyChatOverrides(sc *script.Script, flags Flags) {
	if *flags.typingDelay > 0 {
		sc.Chat.TypingDelay = *flags.typingDelay
	}
	if *flags.replyDelay > 0 {
		sc.Chat.ReplyDelay = *flags.replyDelay
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDriver != "" {
		storeOpts = append(storeOpts, store.WithDriver(*flags.dbDriver))
	}
	return storeOpts
}

// buildGenerator creates the model client when an API key is configured.
func buildGenerator(flags Flags) (conversation.Generator, error) {
	if *flags.openaiKey == "" {
		return nil, nil
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey), genai.WithDebugMode(*flags.genaiDebug, *flags.stateDir))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsAppDBDSN))
	}
	return waOpts
}

// buildMessagingService creates the transcript notification channel.
func buildMessagingService(ctx context.Context, flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.notifyChannel) {
	case "", messaging.ChannelLog:
		return messaging.NewLogService(), nil
	case messaging.ChannelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case messaging.ChannelWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, errors.New("unknown notification channel " + *flags.notifyChannel)
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, transcripts store.TranscriptRepo, jobs api.JobLister) []api.Option {
	apiOpts := []api.Option{api.WithTranscripts(transcripts), api.WithJobs(jobs)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if origins := splitList(*flags.allowedOrigins); len(origins) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedOrigins(origins...))
	}
	return apiOpts
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
