package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/luminacare/checkincall/internal/api"
	"github.com/luminacare/checkincall/internal/catalog"
	"github.com/luminacare/checkincall/internal/flow"
	"github.com/luminacare/checkincall/internal/genai"
	"github.com/luminacare/checkincall/internal/memory"
	"github.com/luminacare/checkincall/internal/scheduler"
	"github.com/luminacare/checkincall/internal/store"
	"github.com/luminacare/checkincall/internal/telephony"
	"github.com/luminacare/checkincall/internal/topic"
	"github.com/luminacare/checkincall/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for service state data
	DefaultStateDir = "/var/lib/checkincall"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "checkincall.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	genaiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}

	caller, err := telephony.NewClient()
	if err != nil {
		slog.Error("Failed to initialize telephony client", "error", err)
		os.Exit(1)
	}

	sessions := flow.NewStoreBackedSessionManager(st)
	retriever := memory.NewRetriever(st, genaiClient)
	healthCheck := flow.NewHealthCheckFlow(sessions, catalog.NewBuilder(st), genaiClient, st)
	conversation := flow.NewConversationFlow(sessions, genaiClient, retriever, topic.NewTracker(topic.Config{}), healthCheck, config.SystemPrompt)
	supervisor := flow.NewSupervisor(st, conversation, healthCheck)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.baseURL != "" {
		apiOpts = append(apiOpts, api.WithBaseURL(*flags.baseURL))
	}
	server := api.NewServer(supervisor, caller, retriever, apiOpts...)

	if *flags.defaultCron != "" && len(flags.checkInPhones()) > 0 {
		calls := scheduler.NewCallScheduler(caller, server.AnswerURL())
		defer calls.Stop()
		for _, phone := range flags.checkInPhones() {
			if err := calls.ScheduleCheckIn(*flags.defaultCron, phone); err != nil {
				slog.Error("Failed to schedule check-in call", "error", err, "phone", phone)
				os.Exit(1)
			}
		}
	}

	slog.Info("Bootstrapping check-in call service")
	slog.Debug("Final configuration",
		"dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr,
		"base_url", *flags.baseURL, "default_cron", *flags.defaultCron,
		"scheduled_phones", len(flags.checkInPhones()))
	if err := server.Run(); err != nil {
		slog.Error("Check-in call service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Check-in call service exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	BaseURL      string
	DefaultCron  string
	Phones       string
	SystemPrompt string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	apiAddr     *string
	baseURL     *string
	defaultCron *string
	phones      *string
}

// checkInPhones returns the comma-separated scheduled phone numbers.
func (f Flags) checkInPhones() []string {
	var out []string
	for _, p := range strings.Split(*f.phones, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// initializeLogger sets up structured logging; CHECKINCALL_DEBUG=true
// enables debug output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CHECKINCALL_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("CHECKINCALL_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		BaseURL:      os.Getenv("PUBLIC_BASE_URL"),
		DefaultCron:  os.Getenv("DEFAULT_SCHEDULE"),
		Phones:       os.Getenv("CHECKIN_PHONES"),
		SystemPrompt: os.Getenv("SYSTEM_PROMPT"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CHECKINCALL_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CHECKINCALL_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"PUBLIC_BASE_URL", config.BaseURL,
		"DEFAULT_SCHEDULE", config.DefaultCron,
		"CHECKIN_PHONES_SET", config.Phones != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for service data (overrides $CHECKINCALL_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		baseURL:     flag.String("base-url", config.BaseURL, "externally reachable base URL for telephony webhooks (overrides $PUBLIC_BASE_URL)"),
		defaultCron: flag.String("default-cron", config.DefaultCron, "default cron schedule for check-in calls (overrides $DEFAULT_SCHEDULE)"),
		phones:      flag.String("checkin-phones", config.Phones, "comma-separated phone numbers for scheduled check-ins (overrides $CHECKIN_PHONES)"),
	}

	flag.Parse()

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// openStore opens the storage backend matching the DSN type.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}
