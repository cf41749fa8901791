package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"papermind/cmd/papermind/chat"
	"papermind/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	apiURL     string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "papermind",
	Short: "PaperMind - chat with your PDFs",
	Long: `PaperMind uploads PDF documents to a retrieval backend and answers
questions about them in a chat transcript.

Every papermind process sharing a storage directory shares one session:
logging out in one terminal logs out the others.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{"stderr"}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "papermind %s\n", config.AppVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.papermind/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend base URL (or set PAPERMIND_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(versionCmd)
	addAuthCommands(rootCmd)
	addDocumentCommands(rootCmd)
	addThemeCommand(rootCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInteractive launches the chat interface.
func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.session.Run(ctx, a.storage[0])

	wd, err := os.Getwd()
	if err != nil {
		wd = a.cfg.Storage.Dir
	}
	return chat.RunInteractiveChat(ctx, chat.Config{
		Session:        a.session,
		Conversations:  a.convs,
		Pipelines:      a.pipes,
		Theme:          a.theme,
		StorageChanges: a.storage[1],
		Version:        config.AppVersion,
		StartDir:       wd,
	})
}
