package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	api "github.com/ensigniasec/scanwatch/internal/api"
	"github.com/ensigniasec/scanwatch/internal/config"
	"github.com/ensigniasec/scanwatch/internal/storage"
	"github.com/ensigniasec/scanwatch/internal/validate"
)

//nolint:gochecknoglobals // Cobra requires package-level vars for flag bindings in current structure.
var (
	// Version metadata populated at build time via -ldflags.
	releaseVersion = "dev"
	commit         = "none"
	date           = "unknown"

	// Used for flags.
	configFile string
	baseURL    string
	verbose    bool
	jsonOutput bool
	tuiMode    bool
	pollOnly   bool
	anonymous  bool

	// cfg is resolved once per invocation in PersistentPreRunE.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "scanwatch",
		Short: "Follow a scan job through the remote scan queue from your terminal.",
		Long: `scanwatch requests nothing on its own: it watches a scan job that was already submitted, ` +
			`following its phase, queue position and retries until the scan completes or fails.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

//nolint:gochecknoinits // Cobra command wiring performed in init in current structure.
func init() {
	// Route logs to stderr to avoid polluting stdout, especially for --json output.
	logrus.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Override the scan service base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable detailed logging output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results in JSON format instead of rich text")
	rootCmd.PersistentFlags().
		BoolVar(&anonymous, "anonymous", false, "Optional: Do not send the host UUID with requests")
	// Alias for --anonymous
	rootCmd.PersistentFlags().BoolVar(&anonymous, "anon", false, "Alias of --anonymous")

	watchCmd.Flags().BoolVar(&tuiMode, "tui", false, "Enable interactive TUI mode with live progress")
	watchCmd.Flags().BoolVar(&pollOnly, "poll", false, "Poll for status instead of opening the signal stream")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(onlineCmd)
	rootCmd.AddCommand(userCmd)

	userCmd.AddCommand(userSetCmd)
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userClearCmd)

	// Built-in version flag: set version string and a custom template.
	rootCmd.Version = releaseVersion
	api.BuildVersion = releaseVersion
	rootCmd.Annotations = map[string]string{"commit": commit, "date": date}
	rootCmd.SetVersionTemplate("{{printf \"%s %s\\ncommit: %s\\ndate: %s\\n\" .DisplayName .Version (index .Annotations \"commit\") (index .Annotations \"date\")}}")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		logrus.Fatal(err)
	}
}

func main() {
	Execute()
}

// setup loads configuration and applies global flags. Flags win over the file and env.
func setup(cmd *cobra.Command, _ []string) error {
	if jsonOutput && tuiMode {
		return errors.New("cannot use --json and --tui flags together")
	}
	loaded, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if baseURL != "" {
		loaded.APIBaseURL = baseURL
		if err := validate.Var(baseURL, "url"); err != nil {
			return fmt.Errorf("invalid --base-url %q", baseURL)
		}
	}
	if pollOnly {
		loaded.Transport = config.TransportPoll
	}
	cfg = loaded

	// Set log level based on flags
	switch {
	case verbose:
		logrus.SetLevel(logrus.DebugLevel)
	case jsonOutput || tuiMode:
		logrus.SetLevel(logrus.WarnLevel)
	default:
		logrus.SetLevel(cfg.Level())
	}
	logrus.WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}

func openStorage() (*storage.Storage, error) {
	st, err := storage.NewOrExistingStorage(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open or create storage: %w", err)
	}
	return st, nil
}

// newClient builds the API client with identity from storage.
// An unreachable service is reported as an error; every command needs it.
func newClient(st *storage.Storage) (*api.Client, error) {
	id := api.Identity{Anonymous: anonymous}
	if st != nil {
		id.HostUUID = st.Data.HostUUID
	}
	cl, err := api.NewClient(
		api.WithBaseURL(cfg.APIBaseURL),
		api.WithRetryOptions(cfg.FetchOptions()),
		api.WithPaths(cfg.APIPaths()),
		api.WithIdentityDefault(id),
		api.WithLogger(logrus.StandardLogger()),
	)
	if errors.Is(err, api.ErrOffline) {
		return nil, fmt.Errorf("scan service at %s is unreachable: %w", cfg.APIBaseURL, err)
	}
	return cl, err
}
