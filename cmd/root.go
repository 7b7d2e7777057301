package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/truthlens/internal/store"
)

// Options holds shared configuration for serve, replay and analyze.
type Options struct {
	// capture
	InputPath string
	Format    string
	ImagePath string
	FPS       int
	Loop      bool

	// detection
	Detector      string
	SocketPath    string
	Script        string
	Python        string
	DetectTimeout time.Duration
	Debug         bool
	Poll          time.Duration

	// output
	Addr        string
	Quality     int
	CORSOrigins []string
	OutputPath  string
	Save        bool
	Lockstep    bool
	Record      bool
}

const (
	detectorPython = "python"
	detectorSocket = "socket"
	outputDir      = "data/output"
)

var (
	// DB is the global database connection shared by subcommands. It stays nil unless
	// a command needs persistence.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	envFile  string
	logLevel string
	noColor  bool

	logger = slog.Default()
)

// Version is the application version.
const Version = "0.1.0"

// needsDB marks commands that cannot run without PostgreSQL.
var needsDB = map[string]string{"db": "required"}

var rootCmd = &cobra.Command{
	Use:     "truthlens",
	Short:   "Real-time facial emotion analysis and deception scoring",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnv(cmd.Flags().Changed("env-file")); err != nil {
			return err
		}

		l, err := newLogger(logLevel, noColor)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(logger)

		if cmd.Annotations["db"] == "required" {
			// Use the command's context (which will be cancellable) for the connection
			return connectDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* or postgres://localhost:5432/truthlens)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading POSTGRES_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}

// loadEnv reads envFile into the process environment without overriding variables that are
// already set. A missing file is only an error when the user asked for it explicitly.
func loadEnv(explicit bool) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

func newLogger(level string, noColor bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	})), nil
}

// resolveDBURL returns --db, or builds a connection string from the environment.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/truthlens"
}

// connectDB initializes the global DB once.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, resolveDBURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}
