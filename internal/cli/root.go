package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/store"
)

var (
	cfgFile  string
	verbose  bool
	dbDSN    string
	dbDriver string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "normativ",
	Short: "Normativ - Regulatory rule pipeline core",
	Long: `Normativ turns typed facts extracted from official regulatory sources
into versioned, reviewable compliance rules with full provenance.

Every rule must cite verbatim source material, survive validation and
conflict detection, and pass a risk-tiered review gate before it can
appear in an immutable release. Critical rules always wait for a human.

Normativ records why it refused something as carefully as what it
approved.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for Normativ.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("normativ v0.1.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.normativ/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "store DSN (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "store driver: sqlite or postgres (overrides config)")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("driver"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(home + "/.normativ")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match NORMATIV_*
	viper.SetEnvPrefix("NORMATIV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig assembles the effective configuration: defaults overlaid
// by the config file and environment, then the global flags.
func loadConfig() model.Config {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ignoring malformed configuration: %v\n", err)
		cfg = model.DefaultConfig()
	}

	if dbDSN != "" {
		cfg.Store.DSN = dbDSN
	}
	if dbDriver != "" {
		cfg.Store.Driver = dbDriver
	}
	cfg.Output.Verbose = verbose

	// API keys come from the environment, never from config files.
	if cfg.Reason.APIKey == "" {
		switch cfg.Reason.Provider {
		case "openai":
			cfg.Reason.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.Reason.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Reason.Provider == "ollama" && cfg.Reason.BaseURL == "" {
		cfg.Reason.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	return cfg
}

// newLogger builds the process logger honoring --verbose
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured database and applies the schema
func openStore(ctx context.Context, cfg model.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return st, nil
}

// splitIDs parses a comma-separated id list flag
func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
